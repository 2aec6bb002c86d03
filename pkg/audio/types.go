// ABOUTME: Audio type definitions and sample conversions
// ABOUTME: Defines track formats, S16LE helpers and buffer sizing
package audio

import (
	"encoding/binary"
	"time"
)

const (
	// BytesPerSample is the width of one interleaved S16LE sample
	BytesPerSample = 2

	// DefaultWindow is the amount of audio a stream buffers between producer and render clock
	DefaultWindow = 200 * time.Millisecond

	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Format describes an audio track format
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// Valid reports whether the format has a usable rate and channel count
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// FrameBytes returns the size in bytes of one interleaved S16 sample frame
func (f Format) FrameBytes() int {
	return f.Channels * BytesPerSample
}

// BufferBytes returns the byte capacity needed to hold window worth of
// interleaved S16 audio. The result is always a whole number of sample frames.
func BufferBytes(channels, sampleRate int, window time.Duration) int {
	if channels <= 0 || sampleRate <= 0 || window <= 0 {
		return 0
	}
	frames := int(int64(sampleRate) * window.Microseconds() / int64(time.Second/time.Microsecond))
	return frames * channels * BytesPerSample
}

// S16ToFloat converts a signed 16-bit sample to the normalized float range
func S16ToFloat(v int16) float32 {
	return float32(v) / 32768
}

// FloatToS16 converts a normalized float sample to 16-bit, clamping out-of-range input
func FloatToS16(f float32) int16 {
	v := f * 32768
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// S16At reads the i-th little-endian 16-bit sample from b
func S16At(b []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:]))
}

// PutS16 writes samples into dst as little-endian bytes and returns the
// number of bytes written. dst must hold len(samples)*2 bytes.
func PutS16(dst []byte, samples []int16) int {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*BytesPerSample:], uint16(s))
	}
	return len(samples) * BytesPerSample
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

// SampleTo24Bit packs a 24-bit sample into little-endian bytes
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}
