// ABOUTME: Producer side of the audio stream
// ABOUTME: Filters transport events and writes frame bytes into the ring buffer
package stream

import (
	"log"

	"github.com/resonate-audio/trackbridge/pkg/audio"
)

// handleEvent is subscribed to the transport and runs on its delivery goroutine
func (s *AudioStream) handleEvent(ev Event) {
	if ev.Handle != s.info.Handle {
		return
	}

	switch ev.Kind {
	case EventFrameReceived:
	case EventStreamEnded:
		s.ended.Store(true)
		return
	default:
		return
	}

	f := ev.Frame
	if f == nil || !f.valid() {
		s.counters.framesMalformed.Add(1)
		return
	}

	size := f.Size()
	frameBytes := f.Channels * audio.BytesPerSample

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}

	var changed bool
	var previous formatState
	if s.buf == nil || !s.format.matches(f.Channels, f.SampleRate) {
		previous = s.format
		changed = s.buf != nil
		if !s.reconfigureLocked(f.Channels, f.SampleRate) {
			s.mu.Unlock()
			s.counters.framesMalformed.Add(1)
			return
		}
	}

	// Keep writes frame aligned so a partial drop never shifts channels
	n := size
	if free := s.buf.Free(); n > free {
		n = free - free%frameBytes
	}
	written := s.buf.Write(f.Data[:n])
	current := s.format.format()
	s.mu.Unlock()

	s.counters.framesReceived.Add(1)
	s.counters.bytesWritten.Add(uint64(written))
	if dropped := size - written; dropped > 0 {
		s.counters.bytesDropped.Add(uint64(dropped))
		s.counters.overflows.Add(1)
	}

	if changed {
		log.Printf("Stream %d format change (%dHz/%dch -> %dHz/%dch), buffer reallocated",
			s.info.Handle, previous.sampleRate, previous.channels, current.SampleRate, current.Channels)
		if s.onFormatChange != nil {
			s.onFormatChange(current)
		}
	}
}
