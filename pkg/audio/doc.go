// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format and S16/float sample conversion functions
// Package audio provides the audio types shared by the bridge, its codecs and
// its render devices.
//
// Audio moves through trackbridge as interleaved signed 16-bit little-endian
// samples (S16LE) until the render device pulls it, at which point each
// sample is normalized to float32 with S16ToFloat.
//
// Example:
//
//	format := audio.Format{
//	    Codec:      "opus",
//	    SampleRate: 48000,
//	    Channels:   2,
//	}
//
//	// Capacity for 200ms of stereo 48kHz audio: 38400 bytes
//	size := audio.BufferBytes(format.Channels, format.SampleRate, audio.DefaultWindow)
package audio
