// Package audio defines the platform-neutral audio types shared by voice
// adapters and the segmentation pipeline, plus PCM conversion and WAV
// encoding helpers. All PCM in this package is 16-bit signed little-endian.
package audio

import (
	"context"
	"time"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Duration returns the play time of a PCM buffer of n bytes in this format.
func (f Format) Duration(n int) time.Duration {
	bytesPerSecond := f.SampleRate * f.Channels * 2
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bytesPerSecond)
}

// Bytes returns the PCM byte count for the given play time in this format.
func (f Format) Bytes(d time.Duration) int {
	bytesPerSecond := f.SampleRate * f.Channels * 2
	n := int(d * time.Duration(bytesPerSecond) / time.Second)
	// Align to whole samples.
	return n - n%(f.Channels*2)
}

// Frame is a short burst of PCM attributed to a single speaker, as delivered
// by a platform adapter.
type Frame struct {
	SpeakerID   string
	SpeakerName string
	PCM         []byte
	Format      Format
	Timestamp   time.Time
}

// FrameHandler receives decoded per-speaker frames from a [Platform]
// connection. Handlers are called from the connection's receive goroutine and
// must not block for long.
type FrameHandler func(Frame)

// Platform abstracts a voice platform that can join a channel and deliver
// per-speaker audio frames.
type Platform interface {
	// Connect joins the given voice channel and starts delivering frames to h.
	Connect(ctx context.Context, channelID string, h FrameHandler) (Connection, error)
}

// Connection is a live voice channel connection.
type Connection interface {
	// IsConnected reports whether the connection is currently healthy.
	IsConnected() bool

	// Disconnect leaves the channel and stops frame delivery.
	Disconnect() error
}
