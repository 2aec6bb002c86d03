// ABOUTME: Malgo-based audio output implementation
// ABOUTME: Drives a miniaudio f32 playback device that pulls from a Renderer
package output

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// periodMillis is the device period requested from miniaudio
const periodMillis = 10

// Malgo output implementation using malgo/miniaudio library
type Malgo struct {
	volumeControl

	malgoCtx   *malgo.AllocatedContext
	device     *malgo.Device
	renderer   atomic.Pointer[Renderer]
	sampleRate int
	channels   int
	scratch    []float32
	mu         sync.Mutex
}

// NewMalgo creates a new Malgo output
func NewMalgo() Output {
	m := &Malgo{}
	m.SetVolume(100)
	return m
}

// Open initializes the output device with specified format
func (m *Malgo) Open(sampleRate, channels int, r Renderer) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid output format: %dHz/%dch", sampleRate, channels)
	}
	if r == nil {
		return fmt.Errorf("output requires a renderer")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// If already initialized with same format, swap the source and reuse
	if m.device != nil && m.sampleRate == sampleRate && m.channels == channels {
		m.renderer.Store(&r)
		log.Printf("Audio output already initialized with same format, reusing device")
		return nil
	}

	// If format changed, reinitialize
	if m.device != nil {
		log.Printf("Format change detected (%dHz/%dch -> %dHz/%dch), reinitializing device",
			m.sampleRate, m.channels, sampleRate, channels)
		m.closeDevice()
	}

	// Create malgo context if needed
	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize malgo context: %w", err)
		}
		m.malgoCtx = ctx
	}

	// Sized for ten periods so the callback never allocates in practice
	m.scratch = make([]float32, sampleRate*channels*periodMillis*10/1000)
	m.renderer.Store(&r)
	m.sampleRate = sampleRate
	m.channels = channels

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = periodMillis
	deviceConfig.Alsa.NoMMap = 1

	deviceCallbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, frameCount uint32) {
			m.dataCallback(pOutputSample, frameCount)
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start device: %w", err)
	}
	m.device = device

	log.Printf("Audio output initialized: %dHz, %d channels (malgo/F32)", sampleRate, channels)
	return nil
}

// dataCallback is called by malgo on the device thread to fill the output buffer
func (m *Malgo) dataCallback(pOutput []byte, frameCount uint32) {
	n := int(frameCount) * m.channels
	if cap(m.scratch) < n {
		m.scratch = make([]float32, n)
	}
	block := m.scratch[:n]

	(*m.renderer.Load()).Render(block, m.channels, m.sampleRate)
	applyGain(block, m.gain())
	packFloat32LE(pOutput, block)
}

// Close releases output resources
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeDevice()

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			log.Printf("Warning: malgo context uninit error: %v", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}

// closeDevice stops and uninitializes the device (must hold m.mu)
func (m *Malgo) closeDevice() {
	if m.device == nil {
		return
	}
	if err := m.device.Stop(); err != nil {
		log.Printf("Warning: device stop error: %v", err)
	}
	m.device.Uninit()
	m.device = nil
}
