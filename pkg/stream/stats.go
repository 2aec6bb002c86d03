// ABOUTME: Counters describing the health of an audio stream
// ABOUTME: Updated atomically so readers never contend with the render path
package stream

import (
	"sync/atomic"

	"github.com/resonate-audio/trackbridge/pkg/audio"
)

type counters struct {
	framesReceived   atomic.Uint64
	framesMalformed  atomic.Uint64
	bytesWritten     atomic.Uint64
	bytesDropped     atomic.Uint64
	overflows        atomic.Uint64
	renderCalls      atomic.Uint64
	underruns        atomic.Uint64
	reconfigurations atomic.Uint64
	formatMismatches atomic.Uint64
}

// Stats is a snapshot of stream counters and buffer occupancy
type Stats struct {
	Handle Handle
	State  State
	Format audio.Format
	Ended  bool

	FramesReceived   uint64 // frames written to the buffer
	FramesMalformed  uint64 // frames discarded for a bad descriptor
	BytesWritten     uint64
	BytesDropped     uint64 // bytes lost to a full buffer
	Overflows        uint64 // frames that were partially or fully dropped
	RenderCalls      uint64
	Underruns        uint64 // render calls padded with silence
	Reconfigurations uint64 // buffer (re)allocations
	FormatMismatches uint64 // render calls silenced by a device/producer format mismatch

	Buffered int // bytes waiting to be rendered
	Capacity int
}

// Stats returns a snapshot of the stream's counters
func (s *AudioStream) Stats() Stats {
	st := Stats{
		Handle:           s.info.Handle,
		Ended:            s.ended.Load(),
		FramesReceived:   s.counters.framesReceived.Load(),
		FramesMalformed:  s.counters.framesMalformed.Load(),
		BytesWritten:     s.counters.bytesWritten.Load(),
		BytesDropped:     s.counters.bytesDropped.Load(),
		Overflows:        s.counters.overflows.Load(),
		RenderCalls:      s.counters.renderCalls.Load(),
		Underruns:        s.counters.underruns.Load(),
		Reconfigurations: s.counters.reconfigurations.Load(),
		FormatMismatches: s.counters.formatMismatches.Load(),
	}

	s.mu.Lock()
	st.State = s.state
	if s.buf != nil {
		st.Format = s.format.format()
		st.Buffered = s.buf.Len()
		st.Capacity = s.buf.Cap()
	}
	s.mu.Unlock()

	return st
}
