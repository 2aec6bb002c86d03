// ABOUTME: Render clock side of the audio stream
// ABOUTME: Pulls S16LE bytes from the ring buffer and converts them to float32
package stream

import "github.com/resonate-audio/trackbridge/pkg/audio"

// Render fills out with the next len(out) interleaved samples, normalized to
// [-1, 1). It is called synchronously by the audio device and never blocks
// beyond the stream lock, never fails and never allocates once the device
// format is stable. Whatever the buffer cannot supply is silence.
func (s *AudioStream) Render(out []float32, channels, sampleRate int) {
	clear(out)
	if len(out) == 0 || channels <= 0 || sampleRate <= 0 {
		return
	}

	s.counters.renderCalls.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return
	}

	if s.buf == nil || s.scratch == nil ||
		s.render != (renderTriple{channels: channels, sampleRate: sampleRate, blockLen: len(out)}) {
		s.reconcileRenderLocked(channels, sampleRate, len(out))
		if s.buf == nil {
			return
		}
	}

	// The producer moved to a format this device was not opened with
	if !s.format.matches(channels, sampleRate) {
		s.counters.formatMismatches.Add(1)
		return
	}

	read := s.buf.Read(s.scratch)
	samples := read / audio.BytesPerSample
	for i := 0; i < samples; i++ {
		out[i] = audio.S16ToFloat(audio.S16At(s.scratch, i))
	}

	if samples < len(out) {
		s.counters.underruns.Add(1)
	}
}

// reconcileRenderLocked adopts a new render triple. The scratch buffer always
// follows the block length; the ring is reallocated when it does not exist,
// when the device format differs from the buffered format, or when a
// previously observed block length changed. Caller holds s.mu.
func (s *AudioStream) reconcileRenderLocked(channels, sampleRate, blockLen int) {
	s.render = renderTriple{channels: channels, sampleRate: sampleRate, blockLen: blockLen}
	s.scratch = make([]byte, blockLen*audio.BytesPerSample)

	if s.buf == nil || !s.format.matches(channels, sampleRate) ||
		(s.format.blockLen != 0 && s.format.blockLen != blockLen) {
		s.reconfigureLocked(channels, sampleRate)
	}
	s.format.blockLen = blockLen
}
