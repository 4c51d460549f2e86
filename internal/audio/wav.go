package audio

import (
	"bytes"
	"encoding/binary"

	"consultscribe/internal/domain"
)

// EncodeWAV wraps raw little-endian 16-bit PCM in a canonical 44-byte RIFF header.
// Audio already encoded as "wav" is returned as is.
func EncodeWAV(audio domain.Audio) []byte {
	if audio.Encoding == "wav" {
		return audio.Data
	}

	sampleRate := audio.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := audio.Channels
	if channels <= 0 {
		channels = 1
	}
	blockAlign := channels * bytesPerSample
	dataLen := len(audio.Data)

	var buf bytes.Buffer
	buf.Grow(44 + dataLen)
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(8*bytesPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(audio.Data)
	return buf.Bytes()
}
