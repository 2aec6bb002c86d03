// ABOUTME: Format state shared by the ingest and render paths
// ABOUTME: Sizes and reallocates the ring buffer when channels or rate change
package stream

import (
	"github.com/resonate-audio/trackbridge/pkg/audio"
	"github.com/resonate-audio/trackbridge/pkg/audio/ring"
)

// formatState is the format the ring buffer is currently sized for.
// blockLen is the render block length (interleaved samples), 0 until the first render.
type formatState struct {
	channels   int
	sampleRate int
	blockLen   int
}

func (f formatState) matches(channels, sampleRate int) bool {
	return f.channels == channels && f.sampleRate == sampleRate
}

func (f formatState) format() audio.Format {
	return audio.Format{
		Codec:      "pcm",
		SampleRate: f.sampleRate,
		Channels:   f.channels,
		BitDepth:   16,
	}
}

// renderTriple is the last (channels, rate, block length) the render clock asked for
type renderTriple struct {
	channels   int
	sampleRate int
	blockLen   int
}

// capacityFor returns the ring capacity for a format, never less than one sample frame
func (s *AudioStream) capacityFor(channels, sampleRate int) int {
	capacity := audio.BufferBytes(channels, sampleRate, s.window)
	if floor := channels * audio.BytesPerSample; capacity < floor {
		capacity = floor
	}
	return capacity
}

// reconfigureLocked replaces the ring buffer with one sized for the given
// format. Previously buffered audio is discarded. Caller holds s.mu.
func (s *AudioStream) reconfigureLocked(channels, sampleRate int) bool {
	capacity := s.capacityFor(channels, sampleRate)
	if s.buf != nil && s.buf.Cap() == capacity {
		s.buf.Reset()
	} else {
		buf, err := ring.New(capacity)
		if err != nil {
			s.buf = nil
			return false
		}
		s.buf = buf
	}

	s.format.channels = channels
	s.format.sampleRate = sampleRate
	s.counters.reconfigurations.Add(1)
	return true
}
