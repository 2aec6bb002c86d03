// Package stream bridges one remote audio track to a real-time render clock.
//
// A transport delivers decoded S16LE frames at irregular intervals on its own
// goroutine. An audio device calls Render on a hardware-driven callback and
// must be answered immediately. AudioStream sits between the two with a
// fixed-size ring buffer holding roughly 200ms of audio, guarded by one mutex:
//
//   - ingest filters events to the stream's own handle, reallocates the
//     buffer when the producer's channel count or sample rate changes, and
//     drops whatever does not fit;
//   - render reads what is available, converts each sample with v/32768 and
//     leaves the remainder of the block silent.
//
// Usage:
//
//	s, err := stream.New(ctx, transport, track, stream.Options{})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	// from the device callback
//	s.Render(block, channels, sampleRate)
package stream
