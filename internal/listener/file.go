package listener

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/MrWong99/chronicler/pkg/audio"
)

// fileFrameLen is the slice size WAV data is fed through the segmentation
// path in.
const fileFrameLen = 100 * time.Millisecond

// StreamWAV decodes a 16-bit PCM WAV file and runs it through the same
// segmentation path as live audio, attributed to a single synthetic speaker.
// No real time passes between frames, so chunks fall out of the duration cap;
// whatever remains is flushed by [Listener.Stop]. The context only bounds the
// feed loop.
func (l *Listener) StreamWAV(ctx context.Context, path, speakerID, speakerName string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("listener: read %s: %w", path, err)
	}
	pcm, format, err := audio.DecodeWAV(data)
	if err != nil {
		return fmt.Errorf("listener: decode %s: %w", path, err)
	}
	if format.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
		format.Channels = 1
	}

	step := format.Bytes(fileFrameLen)
	if step <= 0 {
		step = len(pcm)
	}
	for off := 0; off < len(pcm); off += step {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		end := min(off+step, len(pcm))
		l.HandleFrame(audio.Frame{
			SpeakerID:   speakerID,
			SpeakerName: speakerName,
			PCM:         pcm[off:end],
			Format:      format,
			Timestamp:   l.clock(),
		})
	}
	return nil
}
