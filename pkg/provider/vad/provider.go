// Package vad defines the Engine interface for Voice Activity Detection
// backends and ships an energy-based default implementation.
//
// A VAD engine surfaces a frame-level speech detector as a stateful,
// per-stream session, so multiple concurrent speaker streams can be processed
// independently. Detection is synchronous: IsSpeech returns immediately,
// making it suitable for the low-latency segmentation loop that gates STT
// input.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to IsSpeech. Common values: 8000, 16000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// Supported values: 10, 20, 30. IsSpeech returns an error if the supplied
	// frame does not match this size.
	FrameSizeMs int

	// Aggressiveness controls how strictly non-speech is filtered, from 0
	// (least aggressive, most frames pass as speech) to 3 (most aggressive).
	Aggressiveness int
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations
// without a live engine.
type SessionHandle interface {
	// IsSpeech analyses a single audio frame and reports whether it contains
	// speech. The frame must be raw little-endian 16-bit PCM at the
	// SampleRate and FrameSizeMs configured when the session was created.
	//
	// This method is called synchronously in the audio pipeline loop; it must
	// not block.
	IsSpeech(frame []byte) (bool, error)

	// Reset clears all accumulated detection state without closing the
	// session. Use this when the audio stream is interrupted or restarted.
	Reset()

	// Close releases all resources associated with the session. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
