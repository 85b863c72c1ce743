package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const bitsPerSample = 16

// ErrNotWAV is returned by [DecodeWAV] when the input is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE file")

// EncodeWAV wraps raw 16-bit PCM in a minimal 44-byte WAV header so it can be
// sent to transcription APIs that refuse bare PCM.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV extracts the PCM payload and format from a 16-bit PCM WAV file.
// Chunks other than "fmt " and "data" are skipped. Compressed or non-16-bit
// files are rejected.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var format Format
	var pcm []byte
	haveFmt := false

	// Walk the chunk list.
	off := 12
	for off+8 <= len(data) {
		chunkID := string(data[off : off+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+chunkSize > len(data) {
			return nil, Format{}, fmt.Errorf("audio: truncated %q chunk", chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, Format{}, fmt.Errorf("audio: fmt chunk too short (%d bytes)", chunkSize)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return nil, Format{}, fmt.Errorf("audio: unsupported WAV format %d, want PCM", audioFormat)
			}
			bps := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if bps != bitsPerSample {
				return nil, Format{}, fmt.Errorf("audio: unsupported bit depth %d, want %d", bps, bitsPerSample)
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true

		case "data":
			pcm = data[body : body+chunkSize]
		}

		// Chunks are word-aligned.
		off = body + chunkSize + chunkSize%2
	}

	if !haveFmt {
		return nil, Format{}, errors.New("audio: missing fmt chunk")
	}
	if pcm == nil {
		return nil, Format{}, errors.New("audio: missing data chunk")
	}
	return pcm, format, nil
}
