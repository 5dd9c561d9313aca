package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errShortChunk = errors.New("audio chunk too short")

// Decode turns one inbound binary audio chunk into playable 16-bit
// little-endian PCM. WAV containers are unwrapped; anything else is
// assumed to already be raw PCM at the session sample rate.
func Decode(chunk []byte) ([]byte, error) {
	if len(chunk) == 0 {
		return nil, errShortChunk
	}
	if isWAV(chunk) {
		return decodeWAV(chunk)
	}
	if len(chunk)%2 != 0 {
		// PCM16 frames are two bytes; an odd trailing byte means the
		// payload is not audio.
		return nil, fmt.Errorf("raw chunk length %d is not 16-bit aligned", len(chunk))
	}
	return chunk, nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WAVE"
}

// decodeWAV extracts the PCM payload from a WAV container. Only
// uncompressed 16-bit PCM is accepted, which is the only format the
// backend emits.
func decodeWAV(data []byte) ([]byte, error) {
	if len(data) < 44 {
		return nil, errShortChunk
	}

	var pcm []byte
	sawFmt := false

	// Walk the RIFF chunks; fmt_ must declare PCM16 and data holds
	// the samples.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if chunkSize < 0 || body+chunkSize > len(data) {
			return nil, fmt.Errorf("truncated %q chunk", chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, errors.New("malformed fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format != 1 || bits != 16 {
				return nil, fmt.Errorf("unsupported WAV encoding (format=%d bits=%d)", format, bits)
			}
			sawFmt = true
		case "data":
			pcm = data[body : body+chunkSize]
		}

		// Chunks are word-aligned.
		offset = body + chunkSize + chunkSize%2
	}

	if !sawFmt || pcm == nil {
		return nil, errors.New("WAV missing fmt or data chunk")
	}
	return pcm, nil
}

// EncodeWAV wraps raw PCM16 samples in a WAV header, used when
// uploading recorded microphone audio.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2

	out := make([]byte, 0, 44+len(pcm))
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(36+len(pcm)))
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	out = binary.LittleEndian.AppendUint16(out, 1) // PCM
	out = binary.LittleEndian.AppendUint16(out, uint16(channels))
	out = binary.LittleEndian.AppendUint32(out, uint32(sampleRate))
	out = binary.LittleEndian.AppendUint32(out, uint32(byteRate))
	out = binary.LittleEndian.AppendUint16(out, uint16(blockAlign))
	out = binary.LittleEndian.AppendUint16(out, 16) // bits per sample
	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(pcm)))
	out = append(out, pcm...)
	return out
}
