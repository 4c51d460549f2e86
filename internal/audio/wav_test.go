package audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"consultscribe/internal/domain"
)

func TestEncodeWAVHeader(t *testing.T) {
	t.Parallel()

	samples := []byte{1, 0, 2, 0, 3, 0}
	wav := EncodeWAV(domain.Audio{Data: samples, SampleRate: 8000, Channels: 2})

	if len(wav) != 44+len(samples) {
		t.Fatalf("unexpected length: %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:16]) != "WAVEfmt " || string(wav[36:40]) != "data" {
		t.Fatalf("unexpected chunk ids: %q", wav[:40])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(samples)) {
		t.Fatalf("unexpected riff size: %d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 2 {
		t.Fatalf("unexpected channels: %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 8000 {
		t.Fatalf("unexpected sample rate: %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 8000*4 {
		t.Fatalf("unexpected byte rate: %d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Fatalf("unexpected bits per sample: %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(samples)) {
		t.Fatalf("unexpected data size: %d", got)
	}
	if !bytes.Equal(wav[44:], samples) {
		t.Fatalf("pcm payload was altered")
	}
}

func TestEncodeWAVPassesThroughWav(t *testing.T) {
	t.Parallel()

	data := []byte("RIFF....")
	if got := EncodeWAV(domain.Audio{Data: data, Encoding: "wav"}); !bytes.Equal(got, data) {
		t.Fatalf("expected wav input to pass through")
	}
}
