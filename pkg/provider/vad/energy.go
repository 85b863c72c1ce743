package vad

import (
	"fmt"
	"math"
)

// energyThresholds maps aggressiveness (0–3) to the minimum RMS energy, in
// PCM sample units, for a frame to count as speech.
var energyThresholds = [4]float64{200, 350, 500, 700}

// EnergyEngine is an [Engine] that classifies frames by RMS energy. It has no
// model state and is cheap enough to run on every 20 ms frame of every
// speaker stream.
type EnergyEngine struct{}

// Compile-time interface check.
var _ Engine = (*EnergyEngine)(nil)

// NewSession creates an energy-based VAD session. FrameSizeMs must be 10, 20,
// or 30 and Aggressiveness must be in [0, 3].
func (EnergyEngine) NewSession(cfg Config) (SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("vad: sample rate %d is invalid", cfg.SampleRate)
	}
	switch cfg.FrameSizeMs {
	case 10, 20, 30:
	default:
		return nil, fmt.Errorf("vad: frame size %dms is invalid; valid values: 10, 20, 30", cfg.FrameSizeMs)
	}
	if cfg.Aggressiveness < 0 || cfg.Aggressiveness > 3 {
		return nil, fmt.Errorf("vad: aggressiveness %d is out of range [0, 3]", cfg.Aggressiveness)
	}
	return &energySession{
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
		threshold:  energyThresholds[cfg.Aggressiveness],
	}, nil
}

type energySession struct {
	frameBytes int
	threshold  float64
}

func (s *energySession) IsSpeech(frame []byte) (bool, error) {
	if len(frame) != s.frameBytes {
		return false, fmt.Errorf("vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}
	return computeRMS(frame) >= s.threshold, nil
}

func (s *energySession) Reset() {}

func (s *energySession) Close() error { return nil }

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer. Returns 0 for buffers shorter than one sample.
// The result is expressed in the same units as PCM sample values (0–32 767).
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2 // number of 16-bit samples
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
