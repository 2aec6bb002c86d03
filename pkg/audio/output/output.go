// ABOUTME: Audio output interface definition
// ABOUTME: Pull-model playback backends driven by a Renderer each device period
package output

import (
	"fmt"
	"sync/atomic"
)

// Renderer produces the next block of interleaved float32 samples for a
// device period. It is called on the device's real-time thread and must
// not block.
type Renderer interface {
	Render(out []float32, channels, sampleRate int)
}

// Output represents an audio output device
type Output interface {
	// Open starts the device at the given format, pulling audio from r
	Open(sampleRate, channels int, r Renderer) error

	// SetVolume sets the software volume (0-100)
	SetVolume(volume int)

	// SetMuted sets mute state
	SetMuted(muted bool)

	// Volume returns the current volume
	Volume() int

	// Muted returns the mute state
	Muted() bool

	// Close stops the device and releases output resources
	Close() error
}

// New creates the named output backend: "malgo", "oto" or "null"
func New(backend string) (Output, error) {
	switch backend {
	case "", "malgo":
		return NewMalgo(), nil
	case "oto":
		return NewOto(), nil
	case "null", "none":
		return NewNull(), nil
	default:
		return nil, fmt.Errorf("unknown output backend: %s", backend)
	}
}

// volumeControl holds volume state read from the device thread
type volumeControl struct {
	volume atomic.Int32
	muted  atomic.Bool
}

// SetVolume sets the volume (0-100)
func (v *volumeControl) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	v.volume.Store(int32(volume))
}

// SetMuted sets mute state
func (v *volumeControl) SetMuted(muted bool) {
	v.muted.Store(muted)
}

// Volume returns current volume
func (v *volumeControl) Volume() int {
	return int(v.volume.Load())
}

// Muted returns mute state
func (v *volumeControl) Muted() bool {
	return v.muted.Load()
}

func (v *volumeControl) gain() float32 {
	return getVolumeMultiplier(v.Volume(), v.Muted())
}

// getVolumeMultiplier calculates volume multiplier
func getVolumeMultiplier(volume int, muted bool) float32 {
	if muted {
		return 0.0
	}
	return float32(volume) / 100.0
}

// applyGain scales samples in place, clamping to [-1, 1]
func applyGain(samples []float32, gain float32) {
	if gain == 1 {
		return
	}
	for i, s := range samples {
		v := s * gain
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		samples[i] = v
	}
}
