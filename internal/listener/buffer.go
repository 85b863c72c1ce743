package listener

import (
	"sync"
	"time"

	"github.com/MrWong99/chronicler/pkg/audio"
	"github.com/MrWong99/chronicler/pkg/provider/vad"
)

// shortSilenceAfter is the buffered-audio duration after which the shorter
// silence threshold applies.
const shortSilenceAfter = 5 * time.Second

// emitPolicy holds the segmentation thresholds of a [speakerBuffer].
type emitPolicy struct {
	minChunk     time.Duration
	chunk        time.Duration
	silence      time.Duration
	shortSilence time.Duration
}

// speakerBuffer accumulates mono PCM for one speaker and decides when the
// buffered audio forms a chunk worth transcribing. It is not safe for
// concurrent use; the [Listener] serialises access.
type speakerBuffer struct {
	format audio.Format
	policy emitPolicy

	// emitMu is held across taking a chunk and publishing it, so this
	// speaker's chunks reach the bus in the order their audio started even
	// when the frame path and the flush loop race. Always acquired before
	// the listener mutex.
	emitMu sync.Mutex

	// detector classifies fixed-size frames as speech or silence. A nil
	// detector treats every frame as speech.
	detector   vad.SessionHandle
	frameBytes int

	pcm       []byte
	residue   []byte // tail of pcm not yet analysed, shorter than one frame
	start     time.Time
	lastVoice time.Time
}

func newSpeakerBuffer(format audio.Format, policy emitPolicy, detector vad.SessionHandle, frameBytes int) *speakerBuffer {
	return &speakerBuffer{
		format:     format,
		policy:     policy,
		detector:   detector,
		frameBytes: frameBytes,
	}
}

// add appends mono PCM received at now and updates the voice-activity state.
// Frames the detector cannot classify count as speech so that a failing
// detector degrades to time-based chunking instead of dropping audio.
func (b *speakerBuffer) add(pcm []byte, now time.Time) {
	if len(pcm) == 0 {
		return
	}
	if len(b.pcm) == 0 {
		b.start = now
		b.lastVoice = now
	}
	b.pcm = append(b.pcm, pcm...)

	if b.detector == nil || b.frameBytes <= 0 {
		b.lastVoice = now
		return
	}
	b.residue = append(b.residue, pcm...)
	for len(b.residue) >= b.frameBytes {
		frame := b.residue[:b.frameBytes]
		b.residue = b.residue[b.frameBytes:]
		speech, err := b.detector.IsSpeech(frame)
		if err != nil || speech {
			b.lastVoice = now
		}
	}
}

// duration returns the play time of the buffered audio.
func (b *speakerBuffer) duration() time.Duration {
	return b.format.Duration(len(b.pcm))
}

// shouldEmit reports whether the buffer forms a complete chunk at now. A
// chunk is emitted once enough audio has accumulated and either the hard
// duration cap is hit, the speaker has paused, or a shorter pause follows a
// long stretch of speech.
func (b *speakerBuffer) shouldEmit(now time.Time) bool {
	d := b.duration()
	if d < b.policy.minChunk {
		return false
	}
	if d >= b.policy.chunk {
		return true
	}
	silence := now.Sub(b.lastVoice)
	if silence >= b.policy.silence {
		return true
	}
	return d >= shortSilenceAfter && silence >= b.policy.shortSilence
}

// flush returns the buffered PCM with its start time and duration and resets
// the buffer for the next chunk.
func (b *speakerBuffer) flush() (pcm []byte, start time.Time, d time.Duration) {
	pcm, start, d = b.pcm, b.start, b.duration()
	b.pcm = nil
	b.residue = nil
	b.start = time.Time{}
	if b.detector != nil {
		b.detector.Reset()
	}
	return pcm, start, d
}

// close releases the buffer's VAD session.
func (b *speakerBuffer) close() error {
	if b.detector == nil {
		return nil
	}
	return b.detector.Close()
}
