package audio

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func bytesToInt16s(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

func TestFormatDuration(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 1}

	// One second of 16-bit mono at 48 kHz is 96000 bytes.
	if got := f.Duration(96000); got != time.Second {
		t.Errorf("Duration(96000) = %v, want 1s", got)
	}
	if got := f.Bytes(time.Second); got != 96000 {
		t.Errorf("Bytes(1s) = %d, want 96000", got)
	}
	if got := f.Duration(0); got != 0 {
		t.Errorf("Duration(0) = %v, want 0", got)
	}
}

func TestStereoToMono(t *testing.T) {
	tests := []struct {
		name   string
		stereo []int16
		want   []int16
	}{
		{"averages channels", []int16{100, 200, -100, -200}, []int16{150, -150}},
		{"truncates toward zero", []int16{1, 2, -1, -2}, []int16{1, -1}},
		{"extremes do not overflow", []int16{32767, 32767, -32768, -32768}, []int16{32767, -32768}},
		{"empty", nil, []int16{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bytesToInt16s(StereoToMono(int16sToBytes(tt.stereo)))
			if len(got) != len(tt.want) {
				t.Fatalf("got %d samples, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestResampleMono16Halves(t *testing.T) {
	src := int16sToBytes([]int16{0, 100, 200, 300, 400, 500, 600, 700})
	got := ResampleMono16(src, 48000, 24000)
	if len(got) != len(src)/2 {
		t.Errorf("resampled length = %d bytes, want %d", len(got), len(src)/2)
	}

	same := ResampleMono16(src, 48000, 48000)
	if !bytes.Equal(same, src) {
		t.Error("identical rates should return input unchanged")
	}
}

func TestEncodeDecodeWAV(t *testing.T) {
	pcm := int16sToBytes([]int16{0, 1000, -1000, 32767, -32768})
	wav := EncodeWAV(pcm, 48000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("EncodeWAV length = %d, want %d", len(wav), 44+len(pcm))
	}

	gotPCM, format, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if format.SampleRate != 48000 || format.Channels != 1 {
		t.Errorf("DecodeWAV format = %+v, want 48000Hz mono", format)
	}
	if !bytes.Equal(gotPCM, pcm) {
		t.Error("DecodeWAV PCM differs from input")
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("definitely not audio")); !errors.Is(err, ErrNotWAV) {
		t.Errorf("DecodeWAV(garbage) error = %v, want ErrNotWAV", err)
	}
	if _, _, err := DecodeWAV(nil); !errors.Is(err, ErrNotWAV) {
		t.Errorf("DecodeWAV(nil) error = %v, want ErrNotWAV", err)
	}
}
