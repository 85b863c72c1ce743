package vad

import (
	"math"
	"testing"
)

// sineFrame generates a 20ms 16-bit mono frame at the given amplitude.
func sineFrame(sampleRate int, amplitude float64) []byte {
	samples := sampleRate * 20 / 1000
	out := make([]byte, samples*2)
	for i := range samples {
		s := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func TestEnergyEngineRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero sample rate", Config{FrameSizeMs: 20, Aggressiveness: 2}},
		{"bad frame size", Config{SampleRate: 48000, FrameSizeMs: 25, Aggressiveness: 2}},
		{"aggressiveness too high", Config{SampleRate: 48000, FrameSizeMs: 20, Aggressiveness: 4}},
		{"aggressiveness negative", Config{SampleRate: 48000, FrameSizeMs: 20, Aggressiveness: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := (EnergyEngine{}).NewSession(tt.cfg); err == nil {
				t.Errorf("NewSession(%+v) error = nil, want error", tt.cfg)
			}
		})
	}
}

func TestEnergySessionClassifiesFrames(t *testing.T) {
	sess, err := (EnergyEngine{}).NewSession(Config{SampleRate: 48000, FrameSizeMs: 20, Aggressiveness: 2})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	defer sess.Close()

	loud, err := sess.IsSpeech(sineFrame(48000, 8000))
	if err != nil {
		t.Fatalf("IsSpeech(loud) error = %v", err)
	}
	if !loud {
		t.Error("IsSpeech(loud frame) = false, want true")
	}

	quiet, err := sess.IsSpeech(make([]byte, 48000*20/1000*2))
	if err != nil {
		t.Fatalf("IsSpeech(silence) error = %v", err)
	}
	if quiet {
		t.Error("IsSpeech(silent frame) = true, want false")
	}
}

func TestEnergySessionRejectsWrongFrameSize(t *testing.T) {
	sess, err := (EnergyEngine{}).NewSession(Config{SampleRate: 48000, FrameSizeMs: 20, Aggressiveness: 2})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if _, err := sess.IsSpeech(make([]byte, 100)); err == nil {
		t.Error("IsSpeech(short frame) error = nil, want error")
	}
}

func TestComputeRMS(t *testing.T) {
	if got := computeRMS(nil); got != 0 {
		t.Errorf("computeRMS(nil) = %v, want 0", got)
	}
	// Constant signal of amplitude 1000 has RMS 1000.
	var amp int16 = 1000
	frame := make([]byte, 200)
	for i := 0; i < len(frame); i += 2 {
		frame[i] = byte(amp)
		frame[i+1] = byte(amp >> 8)
	}
	if got := computeRMS(frame); math.Abs(got-1000) > 0.01 {
		t.Errorf("computeRMS(constant 1000) = %v, want 1000", got)
	}
}
