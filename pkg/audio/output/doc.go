// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides Output interface with malgo, oto and null backends
// Package output provides pull-model audio playback.
//
// An Output owns a device clock. Each device period it asks a Renderer for
// the next block of interleaved float32 samples, applies software volume and
// hands the block to the driver. Backends:
//
//   - Malgo: miniaudio f32 device, fixed-size callbacks
//   - Oto: oto float32 player fed through a non-blocking reader
//   - Null: ticker-driven, discards audio (headless and tests)
//
// Example:
//
//	out, err := output.New("malgo")
//	err = out.Open(48000, 2, audioStream)
//	defer out.Close()
package output
