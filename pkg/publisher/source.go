// ABOUTME: Audio source abstraction for published tracks
// ABOUTME: Provides the Source interface and a sine test tone
package publisher

import (
	"math"
	"sync"

	"github.com/resonate-audio/trackbridge/pkg/audio"
)

// Source provides interleaved 16-bit PCM for one published track
type Source interface {
	// Read fills samples and returns how many were written. io.EOF ends
	// the track.
	Read(samples []int16) (int, error)

	// SampleRate returns the sample rate of the audio
	SampleRate() int

	// Channels returns the number of channels
	Channels() int

	// Close closes the audio source
	Close() error
}

// TestToneSource generates a sine tone
type TestToneSource struct {
	mu          sync.Mutex
	sampleIndex uint64
	frequency   float64
	sampleRate  int
	channels    int
}

// NewTestTone creates a 440Hz tone generator. Zero values default to
// 48kHz stereo.
func NewTestTone(sampleRate, channels int) *TestToneSource {
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	if channels == 0 {
		channels = DefaultChannels
	}

	return &TestToneSource{
		frequency:  440.0,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

func (s *TestToneSource) Read(samples []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := len(samples) / s.channels
	for i := 0; i < frames; i++ {
		t := float64(s.sampleIndex+uint64(i)) / float64(s.sampleRate)
		// Half scale to leave headroom
		v := audio.FloatToS16(float32(math.Sin(2*math.Pi*s.frequency*t) * 0.5))
		for ch := 0; ch < s.channels; ch++ {
			samples[i*s.channels+ch] = v
		}
	}
	s.sampleIndex += uint64(frames)

	return frames * s.channels, nil
}

func (s *TestToneSource) SampleRate() int { return s.sampleRate }
func (s *TestToneSource) Channels() int   { return s.channels }
func (s *TestToneSource) Close() error    { return nil }
