// Package mock provides a test double for the stt package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/chronicler/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is the default result returned by Transcribe.
	Text string

	// Script, if non-empty, overrides Text: each Transcribe call consumes the
	// next result. Once exhausted, Text is used again.
	Script []string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Fn, if non-nil, replaces the canned behaviour entirely.
	Fn func(ctx context.Context, req stt.Request) (string, error)

	// Calls records every request passed to Transcribe, in order.
	Calls []stt.Request
}

// Compile-time interface check.
var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns the scripted result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	fn := p.Fn
	var text string
	if len(p.Script) > 0 {
		text = p.Script[0]
		p.Script = p.Script[1:]
	} else {
		text = p.Text
	}
	err := p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return text, err
}

// CallCount returns the number of Transcribe invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
