// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script speech decisions and inspect the frames that were
// submitted for processing.
package mock

import (
	"sync"

	"github.com/MrWong99/chronicler/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records the Config of every call to NewSession in order.
	NewSessionCalls []vad.Config
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Speech is the default decision returned by IsSpeech.
	Speech bool

	// Script, if non-empty, overrides Speech: each IsSpeech call consumes the
	// next decision. Once exhausted, Speech is used again.
	Script []bool

	// Err, if non-nil, is returned as the error from IsSpeech.
	Err error

	// Frames records a copy of every frame passed to IsSpeech.
	Frames [][]byte

	// ResetCalls counts calls to Reset.
	ResetCalls int

	// Closed reports whether Close has been called.
	Closed bool
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)

// IsSpeech records the frame and returns the next scripted decision.
func (s *Session) IsSpeech(frame []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.Frames = append(s.Frames, cp)
	if s.Err != nil {
		return false, s.Err
	}
	if len(s.Script) > 0 {
		decision := s.Script[0]
		s.Script = s.Script[1:]
		return decision, nil
	}
	return s.Speech, nil
}

// Reset increments ResetCalls.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCalls++
}

// Close marks the session closed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}
