// ABOUTME: Transport contract between an audio stream and its session layer
// ABOUTME: Defines stream handles, events, frame descriptors and open requests
package stream

import (
	"context"

	"github.com/resonate-audio/trackbridge/pkg/audio"
	"github.com/resonate-audio/trackbridge/pkg/room"
)

// Handle identifies an opened audio stream on its transport
type Handle uint64

// EventKind identifies what a transport event carries
type EventKind int

const (
	// EventFrameReceived carries a decoded S16LE frame
	EventFrameReceived EventKind = iota + 1
	// EventStreamEnded reports that the remote track stopped publishing
	EventStreamEnded
)

// String returns the event kind name
func (k EventKind) String() string {
	switch k {
	case EventFrameReceived:
		return "frame_received"
	case EventStreamEnded:
		return "stream_ended"
	default:
		return "unknown"
	}
}

// Frame describes one block of interleaved S16LE audio.
// Data is only valid for the duration of the event callback.
type Frame struct {
	Channels          int
	SampleRate        int
	SamplesPerChannel int
	Data              []byte
}

// Size returns the number of payload bytes the descriptor claims
func (f *Frame) Size() int {
	return f.Channels * f.SamplesPerChannel * audio.BytesPerSample
}

func (f *Frame) valid() bool {
	return f.Channels > 0 && f.SampleRate > 0 && f.SamplesPerChannel > 0 && len(f.Data) >= f.Size()
}

// Event is a notification delivered by a transport to its subscribers
type Event struct {
	Handle Handle
	Kind   EventKind
	Frame  *Frame
}

// StreamType selects how the transport delivers audio
type StreamType int

const (
	// StreamTypeNative delivers decoded PCM frames as events
	StreamTypeNative StreamType = iota + 1
)

// OpenRequest asks a transport to start delivering a remote track
type OpenRequest struct {
	RoomHandle     room.Handle
	ParticipantSid string
	TrackSid       string
	Type           StreamType
	// Codec is the preferred wire codec; transports may ignore it
	Codec string
}

// StreamInfo describes a stream the transport opened
type StreamInfo struct {
	Handle Handle
	// Format is the format the transport expects to deliver, if known
	Format audio.Format
}

// Transport is the session layer that opens streams and delivers their frames.
//
// Subscribe registers a handler invoked from the transport's own goroutine
// for every event of every stream; the returned function removes it.
type Transport interface {
	OpenAudioStream(ctx context.Context, req OpenRequest) (StreamInfo, error)
	Subscribe(handler func(Event)) (unsubscribe func())
	ReleaseHandle(h Handle) error
}
