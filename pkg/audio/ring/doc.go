// Package ring provides the fixed-capacity byte queue that sits between an
// audio producer and a real-time consumer.
//
// The queue never allocates after New, never blocks and never overwrites
// unread data: when a write exceeds the free space, the excess (newest) bytes
// are dropped and the short count is returned to the caller.
//
//	buf, err := ring.New(audio.BufferBytes(2, 48000, audio.DefaultWindow))
//	if err != nil {
//	    return err
//	}
//	written := buf.Write(frame)
//	read := buf.Read(scratch)
package ring
