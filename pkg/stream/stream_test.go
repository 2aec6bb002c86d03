// ABOUTME: Tests for the audio stream bridge
// ABOUTME: Covers lifecycle, ingest filtering, format changes, render conversion and overflow
package stream

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/resonate-audio/trackbridge/pkg/audio"
	"github.com/resonate-audio/trackbridge/pkg/room"
)

type fakeTransport struct {
	mu         sync.Mutex
	handle     Handle
	format     audio.Format
	openErr    error
	releaseErr error
	requests   []OpenRequest
	handlers   map[int]func(Event)
	nextID     int
	released   []Handle
}

func newFakeTransport(handle Handle) *fakeTransport {
	return &fakeTransport{handle: handle, handlers: make(map[int]func(Event))}
}

func (f *fakeTransport) OpenAudioStream(ctx context.Context, req OpenRequest) (StreamInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.openErr != nil {
		return StreamInfo{}, f.openErr
	}
	return StreamInfo{Handle: f.handle, Format: f.format}, nil
}

func (f *fakeTransport) Subscribe(handler func(Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

func (f *fakeTransport) ReleaseHandle(h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, h)
	return f.releaseErr
}

func (f *fakeTransport) emit(ev Event) {
	f.mu.Lock()
	handlers := make([]func(Event), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (f *fakeTransport) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

type fixture struct {
	room      *room.Room
	track     *room.RemoteAudioTrack
	transport *fakeTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r := room.New(11, "lobby")
	p := r.AddParticipant("PA_remote", "speaker")
	track := r.PublishTrack(p, "TR_audio", "mic", audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16})

	fx := &fixture{room: r, track: track, transport: newFakeTransport(42)}
	// Tracks only hold weak references; the test keeps the room alive
	t.Cleanup(func() { _ = fx.room.Name() })
	return fx
}

func (fx *fixture) open(t *testing.T, opts Options) *AudioStream {
	t.Helper()
	s, err := New(context.Background(), fx.transport, fx.track, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func s16Frame(channels, sampleRate, samplesPerChannel int, value int16) *Frame {
	samples := make([]int16, channels*samplesPerChannel)
	for i := range samples {
		samples[i] = value
	}
	data := make([]byte, len(samples)*audio.BytesPerSample)
	audio.PutS16(data, samples)
	return &Frame{Channels: channels, SampleRate: sampleRate, SamplesPerChannel: samplesPerChannel, Data: data}
}

func frameEvent(h Handle, f *Frame) Event {
	return Event{Handle: h, Kind: EventFrameReceived, Frame: f}
}

// expectSamples fails on the first sample in out[from:to] that is not want
func expectSamples(t *testing.T, out []float32, from, to int, want float32) {
	t.Helper()
	for i := from; i < to; i++ {
		if out[i] != want {
			t.Fatalf("sample %d: expected %v, got %v", i, want, out[i])
		}
	}
}

func TestNewOpensAndSubscribes(t *testing.T) {
	fx := newFixture(t)
	s := fx.open(t, Options{Codec: "opus"})

	if s.State() != StateActive {
		t.Errorf("expected active state, got %v", s.State())
	}
	if s.Handle() != 42 {
		t.Errorf("expected handle 42, got %d", s.Handle())
	}
	if n := fx.transport.subscribers(); n != 1 {
		t.Errorf("expected 1 subscriber, got %d", n)
	}

	if len(fx.transport.requests) != 1 {
		t.Fatalf("expected 1 open request, got %d", len(fx.transport.requests))
	}
	want := OpenRequest{
		RoomHandle:     11,
		ParticipantSid: "PA_remote",
		TrackSid:       "TR_audio",
		Type:           StreamTypeNative,
		Codec:          "opus",
	}
	if got := fx.transport.requests[0]; got != want {
		t.Errorf("unexpected open request:\n got  %+v\n want %+v", got, want)
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(fx *fixture) (Transport, *room.RemoteAudioTrack)
		wantErr error
	}{
		{
			name: "nil transport",
			prepare: func(fx *fixture) (Transport, *room.RemoteAudioTrack) {
				return nil, fx.track
			},
			wantErr: ErrNilTransport,
		},
		{
			name: "nil track",
			prepare: func(fx *fixture) (Transport, *room.RemoteAudioTrack) {
				return fx.transport, nil
			},
			wantErr: ErrNilTrack,
		},
		{
			name: "room disconnected",
			prepare: func(fx *fixture) (Transport, *room.RemoteAudioTrack) {
				fx.room.Disconnect()
				return fx.transport, fx.track
			},
			wantErr: ErrRoomGone,
		},
		{
			name: "participant left",
			prepare: func(fx *fixture) (Transport, *room.RemoteAudioTrack) {
				fx.room.RemoveParticipant("PA_remote")
				return fx.transport, fx.track
			},
			wantErr: ErrParticipantGone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			transport, track := tt.prepare(fx)

			s, err := New(context.Background(), transport, track, Options{})
			if s != nil {
				t.Error("expected no stream")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if len(fx.transport.requests) != 0 {
				t.Error("transport must not be asked to open")
			}
			if n := fx.transport.subscribers(); n != 0 {
				t.Errorf("expected no subscribers, got %d", n)
			}
		})
	}
}

func TestNewRejectsNegativeWindow(t *testing.T) {
	fx := newFixture(t)
	_, err := New(context.Background(), fx.transport, fx.track, Options{Window: -time.Millisecond})
	if !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestNewOpenFailure(t *testing.T) {
	fx := newFixture(t)
	cause := errors.New("track not found")
	fx.transport.openErr = cause

	s, err := New(context.Background(), fx.transport, fx.track, Options{})
	if s != nil {
		t.Error("expected no stream")
	}
	if !errors.Is(err, ErrOpenFailed) || !errors.Is(err, cause) {
		t.Errorf("expected ErrOpenFailed wrapping the cause, got %v", err)
	}
	if n := fx.transport.subscribers(); n != 0 {
		t.Errorf("expected no subscribers, got %d", n)
	}
	if len(fx.transport.released) != 0 {
		t.Errorf("nothing to release, got %v", fx.transport.released)
	}
}

func TestAdvertisedFormatPreallocates(t *testing.T) {
	fx := newFixture(t)
	fx.transport.format = audio.Format{Codec: "opus", SampleRate: 48000, Channels: 2}
	s := fx.open(t, Options{})

	st := s.Stats()
	if st.Capacity != 38400 || st.Buffered != 0 {
		t.Errorf("expected empty 38400 byte buffer, got %d/%d", st.Buffered, st.Capacity)
	}
	if ch := s.Format().Channels; ch != 2 {
		t.Errorf("expected 2 channels, got %d", ch)
	}
}

func TestConcreteStereoScenario(t *testing.T) {
	fx := newFixture(t)
	s := fx.open(t, Options{})

	// 9600 frames of stereo 16384 is exactly 38400 bytes of 0x00,0x40
	frame := s16Frame(2, 48000, 9600, 16384)
	if len(frame.Data) != 38400 {
		t.Fatalf("expected 38400 bytes, got %d", len(frame.Data))
	}
	for i := 0; i < len(frame.Data); i += 2 {
		if frame.Data[i] != 0x00 || frame.Data[i+1] != 0x40 {
			t.Fatalf("byte %d: expected 00 40, got %02x %02x", i, frame.Data[i], frame.Data[i+1])
		}
	}
	fx.transport.emit(frameEvent(42, frame))

	st := s.Stats()
	if st.Capacity != 38400 || st.Buffered != 38400 {
		t.Fatalf("expected a full 38400 byte buffer, got %d/%d", st.Buffered, st.Capacity)
	}
	if st.BytesDropped != 0 {
		t.Errorf("expected nothing dropped, got %d", st.BytesDropped)
	}

	// 9600 samples is 19200 bytes
	out := make([]float32, 9600)
	s.Render(out, 2, 48000)
	expectSamples(t, out, 0, len(out), 0.5)

	st = s.Stats()
	if st.Buffered != 19200 {
		t.Errorf("expected 19200 bytes left, got %d", st.Buffered)
	}
	if st.Underruns != 0 {
		t.Errorf("expected no underruns, got %d", st.Underruns)
	}
}

func TestRenderConversion(t *testing.T) {
	fx := newFixture(t)
	s := fx.open(t, Options{})

	samples := []int16{-32768, 0, 16384, -16384, 32767, 1}
	data := make([]byte, len(samples)*2)
	audio.PutS16(data, samples)
	fx.transport.emit(frameEvent(42, &Frame{Channels: 2, SampleRate: 48000, SamplesPerChannel: 3, Data: data}))

	out := make([]float32, len(samples))
	s.Render(out, 2, 48000)

	for i, v := range samples {
		if want := float32(v) / 32768.0; out[i] != want {
			t.Errorf("sample %d: expected %v, got %v", i, want, out[i])
		}
	}
	if out[0] != -1.0 || out[1] != 0 {
		t.Errorf("expected full scale negative then zero, got %v %v", out[0], out[1])
	}
}

func TestRenderUnderrunZeroFillsTail(t *testing.T) {
	fx := newFixture(t)
	s := fx.open(t, Options{})

	fx.transport.emit(frameEvent(42, s16Frame(2, 48000, 2, 16384)))

	out := make([]float32, 10)
	for i := range out {
		out[i] = 9
	}
	s.Render(out, 2, 48000)

	expectSamples(t, out, 0, 4, 0.5)
	expectSamples(t, out, 4, len(out), 0)
	if n := s.Stats().Underruns; n != 1 {
		t.Errorf("expected 1 underrun, got %d", n)
	}
}

func TestRenderEmptyBufferIsSilent(t *testing.T) {
	fx := newFixture(t)
	s := fx.open(t, Options{})

	out := []float32{1, 1, 1, 1}
	s.Render(out, 2, 48000)
	expectSamples(t, out, 0, len(out), 0)
	if c := s.Stats().Capacity; c != 38400 {
		t.Errorf("first render sizes the buffer: expected 38400, got %d", c)
	}
}

func TestRenderInvalidArgumentsAreSilent(t *testing.T) {
	fx := newFixture(t)
	s := fx.open(t, Options{})
	fx.transport.emit(frameEvent(42, s16Frame(2, 48000, 4, 100)))

	out := []float32{1, 1}
	s.Render(out, 0, 48000)
	expectSamples(t, out, 0, len(out), 0)

	out = []float32{1, 1}
	s.Render(out, 2, 0)
	expectSamples(t, out, 0, len(out), 0)

	s.Render(nil, 2, 48000)
	if b := s.Stats().Buffered; b != 16 {
		t.Errorf("invalid renders must not consume audio: expected 16 buffered, got %d", b)
	}
}

func TestFormatChangeReallocatesAndDiscards(t *testing.T) {
	fx := newFixture(t)
	var changes []audio.Format
	s := fx.open(t, Options{OnFormatChange: func(f audio.Format) { changes = append(changes, f) }})

	fx.transport.emit(frameEvent(42, s16Frame(2, 48000, 480, 1000)))
	if st := s.Stats(); st.Capacity != 38400 || st.Buffered != 1920 {
		t.Fatalf("expected 1920/38400 before the change, got %d/%d", st.Buffered, st.Capacity)
	}

	fx.transport.emit(frameEvent(42, s16Frame(1, 16000, 160, 16384)))

	st := s.Stats()
	if st.Capacity != 6400 {
		t.Errorf("expected 1ch * 16000 * 0.2 * 2 = 6400 capacity, got %d", st.Capacity)
	}
	if st.Buffered != 320 {
		t.Errorf("audio from before the change is discarded: expected 320 buffered, got %d", st.Buffered)
	}
	if st.Reconfigurations != 2 {
		t.Errorf("expected 2 reconfigurations, got %d", st.Reconfigurations)
	}
	if len(changes) != 1 {
		t.Fatalf("expected 1 format change callback, got %d", len(changes))
	}
	if changes[0].Channels != 1 || changes[0].SampleRate != 16000 {
		t.Errorf("expected 16000Hz/1ch, got %dHz/%dch", changes[0].SampleRate, changes[0].Channels)
	}

	out := make([]float32, 320)
	s.Render(out, 1, 16000)
	expectSamples(t, out, 0, 160, 0.5)
	expectSamples(t, out, 160, len(out), 0)
}

func TestProducerFormatMismatchRendersSilence(t *testing.T) {
	fx := newFixture(t)
	s := fx.open(t, Options{})

	out := make([]float32, 960)
	fx.transport.emit(frameEvent(42, s16Frame(2, 48000, 480, 16384)))
	s.Render(out, 2, 48000)
	if out[0] != 0.5 {
		t.Fatalf("expected 0.5 before the change, got %v", out[0])
	}

	fx.transport.emit(frameEvent(42, s16Frame(1, 24000, 240, 16384)))
	reconfigs := s.Stats().Reconfigurations

	for i := range out {
		out[i] = 1
	}
	s.Render(out, 2, 48000)

	st := s.Stats()
	expectSamples(t, out, 0, len(out), 0)
	if st.FormatMismatches != 1 {
		t.Errorf("expected 1 format mismatch, got %d", st.FormatMismatches)
	}
	if st.Reconfigurations != reconfigs {
		t.Errorf("render must not thrash the buffer: %d -> %d reconfigurations", reconfigs, st.Reconfigurations)
	}
	if st.Buffered != 480 {
		t.Errorf("producer audio stays buffered for a matching device: expected 480, got %d", st.Buffered)
	}
}

func TestRenderBlockLengthChangeResetsBuffer(t *testing.T) {
	fx := newFixture(t)
	s := fx.open(t, Options{})

	fx.transport.emit(frameEvent(42, s16Frame(2, 48000, 960, 16384)))
	s.Render(make([]float32, 960), 2, 48000)
	if b := s.Stats().Buffered; b != 2*960*2-960*2 {
		t.Fatalf("expected %d bytes buffered, got %d", 2*960*2-960*2, b)
	}
	buf := s.buf

	s.Render(make([]float32, 480), 2, 48000)
	st := s.Stats()
	if st.Buffered != 0 || st.Capacity != 38400 {
		t.Errorf("expected an empty 38400 byte buffer, got %d/%d", st.Buffered, st.Capacity)
	}
	if st.Reconfigurations != 2 {
		t.Errorf("expected 2 reconfigurations, got %d", st.Reconfigurations)
	}
	if s.buf != buf {
		t.Error("same format must reuse the ring's storage")
	}
}

func TestOverflowDropsNewestExcess(t *testing.T) {
	fx := newFixture(t)
	s := fx.open(t, Options{Window: 10 * time.Millisecond})

	// 10ms of mono 48kHz is 480 samples, 960 bytes
	fx.transport.emit(frameEvent(42, s16Frame(1, 48000, 400, 100)))
	fx.transport.emit(frameEvent(42, s16Frame(1, 48000, 400, 200)))

	st := s.Stats()
	if st.Capacity != 960 {
		t.Fatalf("expected capacity 960, got %d", st.Capacity)
	}
	if st.Buffered != 960 {
		t.Errorf("expected a full buffer, got %d", st.Buffered)
	}
	if st.BytesDropped != 640 || st.Overflows != 1 {
		t.Errorf("expected 640 bytes dropped in 1 overflow, got %d in %d", st.BytesDropped, st.Overflows)
	}

	out := make([]float32, 480)
	s.Render(out, 1, 48000)
	// The oldest audio survives
	expectSamples(t, out, 0, 400, audio.S16ToFloat(100))
	expectSamples(t, out, 400, 480, audio.S16ToFloat(200))
}

func TestOverflowKeepsFrameAlignment(t *testing.T) {
	fx := newFixture(t)
	s := fx.open(t, Options{})

	fx.transport.emit(frameEvent(42, s16Frame(2, 48000, 9600, 16384)))
	if b := s.Stats().Buffered; b != 38400 {
		t.Fatalf("expected a full buffer, got %d", b)
	}

	// A one-sample render frees 2 bytes, half a stereo frame
	s.Render(make([]float32, 1), 2, 48000)
	if b := s.Stats().Buffered; b != 38398 {
		t.Fatalf("expected 38398 bytes buffered, got %d", b)
	}

	fx.transport.emit(frameEvent(42, s16Frame(2, 48000, 1, -1)))
	st := s.Stats()
	if st.Buffered != 38398 {
		t.Errorf("half a frame must not be written: got %d buffered", st.Buffered)
	}
	if st.BytesDropped != 4 {
		t.Errorf("expected 4 bytes dropped, got %d", st.BytesDropped)
	}
}

func TestIngestIgnoresForeignAndNonFrameEvents(t *testing.T) {
	fx := newFixture(t)
	s := fx.open(t, Options{})

	fx.transport.emit(frameEvent(7, s16Frame(2, 48000, 100, 1)))
	fx.transport.emit(Event{Handle: 42, Kind: EventKind(99), Frame: s16Frame(2, 48000, 100, 1)})
	if st := s.Stats(); st.Buffered != 0 || st.FramesReceived != 0 {
		t.Errorf("expected nothing ingested, got %d bytes in %d frames", st.Buffered, st.FramesReceived)
	}
	if s.Ended() {
		t.Error("stream must not be ended yet")
	}

	fx.transport.emit(Event{Handle: 7, Kind: EventStreamEnded})
	if s.Ended() {
		t.Error("end of another stream must be ignored")
	}

	fx.transport.emit(Event{Handle: 42, Kind: EventStreamEnded})
	if !s.Ended() {
		t.Error("expected stream to be ended")
	}
	if b := s.Stats().Buffered; b != 0 {
		t.Errorf("expected nothing buffered, got %d", b)
	}
}

func TestIngestDiscardsMalformedFrames(t *testing.T) {
	fx := newFixture(t)
	s := fx.open(t, Options{})

	frames := []*Frame{
		nil,
		{Channels: 0, SampleRate: 48000, SamplesPerChannel: 10, Data: make([]byte, 40)},
		{Channels: 2, SampleRate: 0, SamplesPerChannel: 10, Data: make([]byte, 40)},
		{Channels: 2, SampleRate: 48000, SamplesPerChannel: 0, Data: make([]byte, 40)},
		{Channels: 2, SampleRate: 48000, SamplesPerChannel: 10, Data: make([]byte, 39)},
	}
	for _, f := range frames {
		fx.transport.emit(frameEvent(42, f))
	}

	st := s.Stats()
	if st.FramesMalformed != uint64(len(frames)) {
		t.Errorf("expected %d malformed frames, got %d", len(frames), st.FramesMalformed)
	}
	if st.Capacity != 0 || st.Reconfigurations != 0 {
		t.Errorf("malformed frames must not size the buffer: capacity %d after %d reconfigurations", st.Capacity, st.Reconfigurations)
	}
}

func TestIngestWritesOnlyDescribedBytes(t *testing.T) {
	fx := newFixture(t)
	s := fx.open(t, Options{})

	f := s16Frame(2, 48000, 10, 5)
	f.Data = append(f.Data, 0xFF, 0xFF, 0xFF, 0xFF)
	fx.transport.emit(frameEvent(42, f))

	if b := s.Stats().Buffered; b != 40 {
		t.Errorf("expected 40 bytes buffered, got %d", b)
	}
}

func TestCloseIsIdempotentAndReleases(t *testing.T) {
	fx := newFixture(t)
	s, err := New(context.Background(), fx.transport, fx.track, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fx.transport.emit(frameEvent(42, s16Frame(2, 48000, 100, 16384)))

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if s.State() != StateClosed {
		t.Errorf("expected closed state, got %v", s.State())
	}
	if !slices.Equal(fx.transport.released, []Handle{42}) {
		t.Errorf("expected handle 42 released once, got %v", fx.transport.released)
	}
	if n := fx.transport.subscribers(); n != 0 {
		t.Errorf("expected no subscribers, got %d", n)
	}

	out := []float32{1, 1, 1, 1}
	s.Render(out, 2, 48000)
	expectSamples(t, out, 0, len(out), 0)

	// A handler invocation racing with Close must be a no-op
	s.handleEvent(frameEvent(42, s16Frame(2, 48000, 100, 16384)))
	if c := s.Stats().Capacity; c != 0 {
		t.Errorf("expected no buffer after Close, got capacity %d", c)
	}
}

func TestCloseReportsReleaseError(t *testing.T) {
	fx := newFixture(t)
	fx.transport.releaseErr = errors.New("unknown handle")
	s, err := New(context.Background(), fx.transport, fx.track, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Close(); !errors.Is(err, fx.transport.releaseErr) {
		t.Errorf("expected release error, got %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("expected closed state, got %v", s.State())
	}
}

func TestRenderSteadyStateDoesNotAllocate(t *testing.T) {
	fx := newFixture(t)
	s := fx.open(t, Options{})

	out := make([]float32, 960)
	s.Render(out, 2, 48000)

	frame := s16Frame(2, 48000, 480, 16384)
	allocs := testing.AllocsPerRun(100, func() {
		s.handleEvent(frameEvent(42, frame))
		s.Render(out, 2, 48000)
	})
	if allocs != 0 {
		t.Errorf("expected no allocations, got %v", allocs)
	}
}

func TestConcurrentIngestAndRender(t *testing.T) {
	fx := newFixture(t)
	s := fx.open(t, Options{})

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		frame := s16Frame(2, 48000, 480, 16384)
		for i := 0; i < 500; i++ {
			fx.transport.emit(frameEvent(42, frame))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		out := make([]float32, 512)
		for {
			select {
			case <-stop:
				return
			default:
			}
			s.Render(out, 2, 48000)
			for _, v := range out {
				if v != 0 && v != 0.5 {
					t.Errorf("unexpected sample %v", v)
					return
				}
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()

	st := s.Stats()
	if st.Buffered > st.Capacity {
		t.Errorf("buffered %d exceeds capacity %d", st.Buffered, st.Capacity)
	}
	if st.FramesReceived != 500 {
		t.Errorf("expected 500 frames, got %d", st.FramesReceived)
	}
	if got := st.BytesWritten + st.BytesDropped; got != 500*480*4 {
		t.Errorf("expected %d bytes accounted for, got %d", 500*480*4, got)
	}
}
