// ABOUTME: Audio decoder package for wire codecs
// ABOUTME: Provides Decoder interface and implementations for PCM and Opus
// Package decode provides audio decoders for the codecs a transport may
// receive.
//
// Supports: PCM (16-bit and 24-bit), Opus
//
// All decoders output interleaved int16 samples, which transports pack as
// S16LE before handing frames to an audio stream. Decoders reuse their
// output slice between calls.
//
// Example:
//
//	decoder, err := decode.New(format)
//	samples, err := decoder.Decode(payload)
package decode
