// ABOUTME: Null audio output that discards rendered audio
// ABOUTME: Pulls from a Renderer on a ticker for headless runs and tests
package output

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Null pulls audio at the device rate and throws it away
type Null struct {
	volumeControl

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	period  time.Duration
	blocks  int
	peakAbs float32
}

// NewNull creates a new Null output
func NewNull() Output {
	n := &Null{period: periodMillis * time.Millisecond}
	n.SetVolume(100)
	return n
}

// Open starts pulling blocks from r every period
func (n *Null) Open(sampleRate, channels int, r Renderer) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid output format: %dHz/%dch", sampleRate, channels)
	}
	if r == nil {
		return fmt.Errorf("output requires a renderer")
	}

	n.Close()

	n.mu.Lock()
	defer n.mu.Unlock()

	blockLen := sampleRate * channels * int(n.period/time.Millisecond) / 1000
	if blockLen < channels {
		blockLen = channels
	}

	n.stop = make(chan struct{})
	n.done = make(chan struct{})
	go n.run(r, make([]float32, blockLen), channels, sampleRate, n.stop, n.done)

	log.Printf("Audio output initialized: %dHz, %d channels (null)", sampleRate, channels)
	return nil
}

func (n *Null) run(r Renderer, block []float32, channels, sampleRate int, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(n.period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Render(block, channels, sampleRate)
			applyGain(block, n.gain())

			var peak float32
			for _, s := range block {
				if s < 0 {
					s = -s
				}
				if s > peak {
					peak = s
				}
			}

			n.mu.Lock()
			n.blocks++
			n.peakAbs = peak
			n.mu.Unlock()
		}
	}
}

// Blocks returns how many blocks have been rendered and the peak of the last one
func (n *Null) Blocks() (int, float32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.blocks, n.peakAbs
}

// Close stops pulling audio
func (n *Null) Close() error {
	n.mu.Lock()
	stop, done := n.stop, n.done
	n.stop, n.done = nil, nil
	n.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}
