package audio

import (
	"encoding/binary"
	"errors"
)

// WAV describes the PCM payload found inside a RIFF/WAVE container.
type WAV struct {
	Format
	// Data is the raw PCM sample data (a sub-slice of the input).
	Data []byte
}

// ParseWAV scans the RIFF/WAVE container in wav and returns the audio format
// from the "fmt " sub-chunk together with the PCM data. Chunk sizes are read
// from the container rather than assuming a fixed 44-byte header.
func ParseWAV(wav []byte) (WAV, error) {
	if len(wav) < 12 {
		return WAV{}, errors.New("audio: WAV too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAV{}, errors.New("audio: WAV missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAV{}, errors.New("audio: WAV missing WAVE identifier")
	}

	var (
		out      WAV
		foundFmt bool
	)
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				out.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				out.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			if !foundFmt {
				return WAV{}, errors.New("audio: WAV data chunk precedes fmt chunk")
			}
			end := offset + 8 + chunkSize
			if end > len(wav) || chunkSize == 0xFFFFFFFF {
				// Streaming encoders leave the size unset.
				end = len(wav)
			}
			out.Data = wav[offset+8 : end]
			return out, nil
		}

		// Chunks are word-aligned: pad by 1 if odd size.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAV{}, errors.New("audio: WAV missing data chunk")
}

// EncodeWAV wraps 16-bit PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := f.SampleRate * blockAlign

	out := make([]byte, 44+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}
