// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts interleaved int16 audio between sample rates
// Package resample provides audio sample rate conversion for sources that do
// not match the rate a track is published at.
//
// Example:
//
//	r := resample.New(44100, 48000, 2)
//	n := r.Resample(inputSamples, outputSamples)
package resample
