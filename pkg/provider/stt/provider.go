// Package stt defines the speech-to-text provider interface used by the
// transcription worker.
package stt

import "context"

// Request is a single transcription request. WAV must be a complete WAV file
// (header included), not bare PCM.
type Request struct {
	// WAV is the audio payload.
	WAV []byte

	// Language is an ISO 639-1 hint for the recognizer. Optional.
	Language string

	// Prompt is free-form context to bias recognition, such as expected
	// character names. Optional.
	Prompt string
}

// Provider transcribes audio to text. Implementations must be safe for
// concurrent use; the transcription worker issues overlapping requests up to
// its concurrency bound.
type Provider interface {
	// Transcribe converts the request audio to text. It returns the raw
	// recognizer output without trimming; callers decide how to treat empty
	// results.
	Transcribe(ctx context.Context, req Request) (string, error)
}
