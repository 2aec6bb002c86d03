// ABOUTME: Oto-based audio output implementation
// ABOUTME: Feeds an oto float32 player from a Renderer in fixed-size blocks
package output

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"
)

// Oto output implementation using oto library
type Oto struct {
	volumeControl

	otoCtx     *oto.Context
	player     *oto.Player
	reader     *renderReader
	sampleRate int
	channels   int
	mu         sync.Mutex
}

// NewOto creates a new Oto output
func NewOto() Output {
	o := &Oto{}
	o.SetVolume(100)
	return o
}

// Open initializes the output device
func (o *Oto) Open(sampleRate, channels int, r Renderer) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid output format: %dHz/%dch", sampleRate, channels)
	}
	if r == nil {
		return fmt.Errorf("output requires a renderer")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// oto only allows one context per process, so the format is fixed once chosen
	if o.otoCtx != nil && (o.sampleRate != sampleRate || o.channels != channels) {
		return fmt.Errorf("oto cannot switch from %dHz/%dch to %dHz/%dch within one process",
			o.sampleRate, o.channels, sampleRate, channels)
	}

	if o.otoCtx == nil {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatFloat32LE,
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			return fmt.Errorf("failed to create oto context: %w", err)
		}
		<-readyChan

		o.otoCtx = ctx
		o.sampleRate = sampleRate
		o.channels = channels
	} else if err := o.otoCtx.Resume(); err != nil {
		return fmt.Errorf("failed to resume oto context: %w", err)
	}

	if o.player != nil {
		o.reader.renderer.Store(&r)
		return nil
	}

	o.reader = newRenderReader(r, channels, sampleRate, &o.volumeControl)
	o.player = o.otoCtx.NewPlayer(o.reader)
	o.player.SetBufferSize(len(o.reader.pending) * 2)
	o.player.Play()

	log.Printf("Audio output initialized: %dHz, %d channels (oto/F32)", sampleRate, channels)
	return nil
}

// Close releases output resources
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.player != nil {
		if err := o.player.Close(); err != nil {
			log.Printf("Warning: oto player close error: %v", err)
		}
		o.player = nil
		o.reader = nil
	}
	if o.otoCtx != nil {
		if err := o.otoCtx.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend oto context: %w", err)
		}
	}
	return nil
}

// renderReader adapts a Renderer to the io.Reader oto pulls from. It always
// renders whole blocks of the same length so the renderer sees a stable
// block size regardless of how many bytes oto asks for.
type renderReader struct {
	renderer   atomic.Pointer[Renderer]
	channels   int
	sampleRate int
	vol        *volumeControl
	block      []float32
	pending    []byte
	off        int
}

func newRenderReader(r Renderer, channels, sampleRate int, vol *volumeControl) *renderReader {
	n := sampleRate * channels * periodMillis / 1000
	if n < channels {
		n = channels
	}
	rr := &renderReader{
		channels:   channels,
		sampleRate: sampleRate,
		vol:        vol,
		block:      make([]float32, n),
		pending:    make([]byte, n*4),
	}
	rr.off = len(rr.pending)
	rr.renderer.Store(&r)
	return rr
}

// Read never blocks and never fails; an idle renderer yields silence
func (rr *renderReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if rr.off >= len(rr.pending) {
			rr.fill()
		}
		c := copy(p[n:], rr.pending[rr.off:])
		rr.off += c
		n += c
	}
	return n, nil
}

func (rr *renderReader) fill() {
	if r := rr.renderer.Load(); r != nil {
		(*r).Render(rr.block, rr.channels, rr.sampleRate)
	} else {
		clear(rr.block)
	}
	applyGain(rr.block, rr.vol.gain())
	packFloat32LE(rr.pending, rr.block)
	rr.off = 0
}
