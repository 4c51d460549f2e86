package audio

import (
	"encoding/binary"
	"math"
)

// SilenceFloor is reported for empty or all-zero audio.
const SilenceFloor = -96.0

// VolumeLevel returns the RMS level of little-endian 16-bit PCM in dBFS.
func VolumeLevel(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return SilenceFloor
	}

	var sum float64
	for i := 0; i < samples; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(samples))
	if rms == 0 {
		return SilenceFloor
	}
	return math.Max(20*math.Log10(rms), SilenceFloor)
}
