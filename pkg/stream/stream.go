// ABOUTME: Audio stream bridging a remote track to a real-time render clock
// ABOUTME: Owns the ring buffer lifecycle and the transport subscription
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/resonate-audio/trackbridge/pkg/audio"
	"github.com/resonate-audio/trackbridge/pkg/audio/ring"
	"github.com/resonate-audio/trackbridge/pkg/room"
)

const tracerName = "github.com/resonate-audio/trackbridge/pkg/stream"

var (
	ErrNilTransport    = errors.New("audio stream requires a transport")
	ErrNilTrack        = errors.New("audio stream requires a track")
	ErrRoomGone        = errors.New("audio track's room is invalid")
	ErrParticipantGone = errors.New("audio track's participant is invalid")
	ErrOpenFailed      = errors.New("failed to open audio stream")
	ErrInvalidWindow   = errors.New("buffer window must not be negative")
)

// State is the lifecycle state of an AudioStream
type State int32

const (
	StateUninitialized State = iota
	StateOpening
	StateActive
	StateClosed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures an AudioStream
type Options struct {
	// Window is the amount of audio buffered between producer and render
	// clock (default: 200ms)
	Window time.Duration

	// Codec is the preferred wire codec passed to the transport
	Codec string

	// OnFormatChange is called from the ingest path after the producer
	// switched channels or sample rate and the buffer was reallocated
	OnFormatChange func(audio.Format)

	// Tracer overrides the global OpenTelemetry tracer
	Tracer trace.Tracer
}

// AudioStream receives frames of one remote audio track and serves them to
// an audio device's render callback.
//
// A single mutex guards the ring buffer, the format state and the render
// scratch buffer; it is the only point where the ingest and render paths meet.
type AudioStream struct {
	transport      Transport
	track          *room.RemoteAudioTrack
	info           StreamInfo
	window         time.Duration
	tracer         trace.Tracer
	onFormatChange func(audio.Format)

	mu          sync.Mutex
	state       State
	buf         *ring.Buffer
	format      formatState
	render      renderTriple
	scratch     []byte
	unsubscribe func()

	ended    atomic.Bool
	counters counters
}

// New opens a stream for track on transport. It validates that the track's
// room and participant are still alive before asking the transport, and
// returns no stream at all if any step fails.
func New(ctx context.Context, t Transport, track *room.RemoteAudioTrack, opts Options) (*AudioStream, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	if track == nil {
		return nil, ErrNilTrack
	}
	if opts.Window < 0 {
		return nil, ErrInvalidWindow
	}
	if opts.Window == 0 {
		opts.Window = audio.DefaultWindow
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	r, ok := track.Room()
	if !ok {
		return nil, ErrRoomGone
	}
	p, ok := track.Participant()
	if !ok {
		return nil, ErrParticipantGone
	}

	ctx, span := opts.Tracer.Start(ctx, "audiostream.open", trace.WithAttributes(
		attribute.Int64("room.handle", int64(r.Handle())),
		attribute.String("participant.sid", p.Sid()),
		attribute.String("track.sid", track.Sid()),
	))
	defer span.End()

	s := &AudioStream{
		transport:      t,
		track:          track,
		window:         opts.Window,
		tracer:         opts.Tracer,
		onFormatChange: opts.OnFormatChange,
		state:          StateOpening,
	}

	info, err := t.OpenAudioStream(ctx, OpenRequest{
		RoomHandle:     r.Handle(),
		ParticipantSid: p.Sid(),
		TrackSid:       track.Sid(),
		Type:           StreamTypeNative,
		Codec:          opts.Codec,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return nil, fmt.Errorf("%w for track %s: %w", ErrOpenFailed, track.Sid(), err)
	}
	s.info = info
	span.SetAttributes(attribute.Int64("stream.handle", int64(info.Handle)))

	// Size the buffer up front when the transport already knows the format
	if info.Format.Valid() {
		s.reconfigureLocked(info.Format.Channels, info.Format.SampleRate)
	}

	unsubscribe := t.Subscribe(s.handleEvent)

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.state = StateActive
	s.mu.Unlock()

	log.Printf("Audio stream %d opened for track %s (participant %s)", info.Handle, track.Sid(), p.Sid())
	return s, nil
}

// Close stops ingest, releases the buffer and returns the handle to the
// transport. It is safe to call concurrently with Render and more than once.
func (s *AudioStream) Close() error {
	_, span := s.tracer.Start(context.Background(), "audiostream.close", trace.WithAttributes(
		attribute.Int64("stream.handle", int64(s.info.Handle)),
		attribute.String("track.sid", s.track.Sid()),
	))
	defer span.End()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.buf = nil
	s.scratch = nil
	s.format = formatState{}
	s.render = renderTriple{}
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	// Outside the lock: a transport may wait for an in-flight handler that
	// is itself waiting for s.mu
	if unsubscribe != nil {
		unsubscribe()
	}

	if err := s.transport.ReleaseHandle(s.info.Handle); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
		return fmt.Errorf("failed to release stream handle %d: %w", s.info.Handle, err)
	}

	log.Printf("Audio stream %d closed", s.info.Handle)
	return nil
}

// Handle returns the transport handle of the stream
func (s *AudioStream) Handle() Handle {
	return s.info.Handle
}

// Info returns what the transport reported when the stream was opened
func (s *AudioStream) Info() StreamInfo {
	return s.info
}

// Track returns the remote track this stream plays
func (s *AudioStream) Track() *room.RemoteAudioTrack {
	return s.track
}

// State returns the lifecycle state
func (s *AudioStream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Format returns the format the buffer currently holds. It is invalid until
// the first frame or render call sized the buffer.
func (s *AudioStream) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return audio.Format{}
	}
	return s.format.format()
}

// Ended reports whether the transport signalled the end of the remote track
func (s *AudioStream) Ended() bool {
	return s.ended.Load()
}
