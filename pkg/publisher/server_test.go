// ABOUTME: Integration tests for the publishing server
// ABOUTME: Drives a real server with the protocol client over loopback
package publisher

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/resonate-audio/trackbridge/pkg/protocol"
	"github.com/resonate-audio/trackbridge/pkg/room"
	"github.com/resonate-audio/trackbridge/pkg/stream"
)

func TestNewServer(t *testing.T) {
	tone := NewTestTone(48000, 2)

	tests := []struct {
		name      string
		config    ServerConfig
		expectErr bool
	}{
		{
			name:   "valid config",
			config: ServerConfig{Name: "Test", Tracks: []Track{{Name: "tone", Source: tone}}},
		},
		{
			name:      "no tracks",
			config:    ServerConfig{Name: "Test"},
			expectErr: true,
		},
		{
			name:      "nil source",
			config:    ServerConfig{Tracks: []Track{{Name: "tone"}}},
			expectErr: true,
		},
		{
			name:      "duplicate names",
			config:    ServerConfig{Tracks: []Track{{Name: "a", Source: tone}, {Name: "a", Source: tone}}},
			expectErr: true,
		},
		{
			name:      "invalid format",
			config:    ServerConfig{Tracks: []Track{{Source: &finiteSource{rate: 0, channels: 2}}}},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewServer(tt.config)
			if tt.expectErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if server.config.Port != DefaultPort {
				t.Errorf("expected default port, got %d", server.config.Port)
			}
			if server.config.Room != "main" {
				t.Errorf("expected default room, got %q", server.config.Room)
			}
		})
	}
}

func TestDefaultTrackNames(t *testing.T) {
	s, err := NewServer(ServerConfig{Tracks: []Track{{Source: NewTestTone(0, 0)}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info := s.RoomInfo()
	tracks := info.Participants[0].Tracks
	if len(tracks) != 1 || tracks[0].Name != "track-1" {
		t.Fatalf("unexpected tracks: %+v", tracks)
	}
	if tracks[0].SampleRate != DefaultSampleRate || tracks[0].Channels != DefaultChannels {
		t.Errorf("unexpected format: %+v", tracks[0])
	}
}

func TestTestToneSource(t *testing.T) {
	tone := NewTestTone(48000, 2)
	samples := make([]int16, 960*2)

	n, err := tone.Read(samples)
	if err != nil || n != len(samples) {
		t.Fatalf("Read = %d, %v", n, err)
	}

	var peak int16
	for i := 0; i < len(samples); i += 2 {
		if samples[i] != samples[i+1] {
			t.Fatalf("channels differ at frame %d", i/2)
		}
		if samples[i] > peak {
			peak = samples[i]
		}
	}
	if peak < 16000 || peak > 16384 {
		t.Errorf("expected half-scale peak, got %d", peak)
	}
}

// finiteSource yields a fixed number of frames of a constant value
type finiteSource struct {
	rate, channels int
	remaining      int
}

func (f *finiteSource) Read(samples []int16) (int, error) {
	if f.remaining == 0 {
		return 0, io.EOF
	}
	n := len(samples)
	if n > f.remaining {
		n = f.remaining
	}
	for i := range samples[:n] {
		samples[i] = 1000
	}
	f.remaining -= n
	return n, nil
}

func (f *finiteSource) SampleRate() int { return f.rate }
func (f *finiteSource) Channels() int   { return f.channels }
func (f *finiteSource) Close() error    { return nil }

func startServer(t *testing.T, tracks ...Track) *Server {
	t.Helper()
	s, err := NewServer(ServerConfig{Addr: "127.0.0.1:0", Name: "Test", Tracks: tracks})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	select {
	case <-s.Ready():
	case err := <-done:
		t.Fatalf("Start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server never became ready")
	}

	t.Cleanup(func() {
		s.Stop()
		<-done
	})
	return s
}

func joinServer(t *testing.T, s *Server) (*protocol.Client, *room.Room) {
	t.Helper()
	c := protocol.NewClient(protocol.Config{ServerAddr: s.Addr(), Name: "Test Client"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	r, err := c.JoinRoom(ctx, "main", "listener")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	return c, r
}

type frameLog struct {
	mu     sync.Mutex
	frames []stream.Frame
	ended  bool
}

func (l *frameLog) handle(ev stream.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch ev.Kind {
	case stream.EventFrameReceived:
		f := *ev.Frame
		f.Data = append([]byte(nil), f.Data...)
		l.frames = append(l.frames, f)
	case stream.EventStreamEnded:
		l.ended = true
	}
}

func (l *frameLog) snapshot() ([]stream.Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]stream.Frame(nil), l.frames...), l.ended
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func openTrack(t *testing.T, c *protocol.Client, r *room.Room, codec string) stream.StreamInfo {
	t.Helper()
	track, ok := r.FindTrack("")
	if !ok {
		t.Fatal("room has no tracks")
	}
	p, _ := track.Participant()

	info, err := c.OpenAudioStream(context.Background(), stream.OpenRequest{
		RoomHandle:     r.Handle(),
		ParticipantSid: p.Sid(),
		TrackSid:       track.Sid(),
		Type:           stream.StreamTypeNative,
		Codec:          codec,
	})
	if err != nil {
		t.Fatalf("OpenAudioStream: %v", err)
	}
	return info
}

func TestStreamPCM(t *testing.T) {
	s := startServer(t, Track{Name: "tone", Source: NewTestTone(48000, 2)})
	c, r := joinServer(t, s)

	if got := r.AudioTracks(); len(got) != 1 || got[0].Name() != "tone" {
		t.Fatalf("unexpected tracks: %v", got)
	}

	log := &frameLog{}
	defer c.Subscribe(log.handle)()

	info := openTrack(t, c, r, "pcm")
	if info.Format.SampleRate != 48000 || info.Format.Channels != 2 {
		t.Fatalf("unexpected format: %+v", info.Format)
	}

	waitFor(t, "pcm frames", func() bool {
		frames, _ := log.snapshot()
		return len(frames) >= 3
	})

	frames, _ := log.snapshot()
	f := frames[0]
	if f.Channels != 2 || f.SampleRate != 48000 || f.SamplesPerChannel != 960 {
		t.Errorf("unexpected frame: %dch %dHz %d spc", f.Channels, f.SampleRate, f.SamplesPerChannel)
	}
	if len(f.Data) != 960*2*2 {
		t.Errorf("expected %d bytes, got %d", 960*2*2, len(f.Data))
	}
}

func TestStreamOpus(t *testing.T) {
	s := startServer(t, Track{Name: "tone", Source: NewTestTone(48000, 2)})
	c, r := joinServer(t, s)

	log := &frameLog{}
	defer c.Subscribe(log.handle)()

	info := openTrack(t, c, r, "opus")
	if info.Format.Codec != "opus" {
		t.Fatalf("expected opus, got %s", info.Format.Codec)
	}

	waitFor(t, "opus frames", func() bool {
		frames, _ := log.snapshot()
		return len(frames) >= 2
	})

	frames, _ := log.snapshot()
	if frames[0].SamplesPerChannel != 960 || len(frames[0].Data) != 960*2*2 {
		t.Errorf("unexpected decoded frame: %d spc, %d bytes", frames[0].SamplesPerChannel, len(frames[0].Data))
	}
}

func TestOpenErrors(t *testing.T) {
	s := startServer(t, Track{Name: "tone", Source: NewTestTone(48000, 2)})
	c, r := joinServer(t, s)
	track, _ := r.FindTrack("tone")
	p, _ := track.Participant()

	tests := []struct {
		name string
		req  stream.OpenRequest
	}{
		{"wrong room", stream.OpenRequest{RoomHandle: 99, ParticipantSid: p.Sid(), TrackSid: track.Sid(), Type: stream.StreamTypeNative}},
		{"wrong participant", stream.OpenRequest{RoomHandle: r.Handle(), ParticipantSid: "PA_x", TrackSid: track.Sid(), Type: stream.StreamTypeNative}},
		{"wrong track", stream.OpenRequest{RoomHandle: r.Handle(), ParticipantSid: p.Sid(), TrackSid: "TR_x", Type: stream.StreamTypeNative}},
		{"wrong codec", stream.OpenRequest{RoomHandle: r.Handle(), ParticipantSid: p.Sid(), TrackSid: track.Sid(), Type: stream.StreamTypeNative, Codec: "flac"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.OpenAudioStream(context.Background(), tt.req); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestUnknownRoomIsEmpty(t *testing.T) {
	s := startServer(t, Track{Source: NewTestTone(48000, 2)})
	c := protocol.NewClient(protocol.Config{ServerAddr: s.Addr()})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	r, err := c.JoinRoom(context.Background(), "elsewhere", "listener")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if len(r.AudioTracks()) != 0 {
		t.Errorf("expected no tracks in unknown room")
	}
}

func TestTrackEnds(t *testing.T) {
	s := startServer(t, Track{Name: "short", Source: &finiteSource{rate: 48000, channels: 1, remaining: 960 * 25}})
	c, r := joinServer(t, s)

	log := &frameLog{}
	defer c.Subscribe(log.handle)()
	openTrack(t, c, r, "pcm")

	waitFor(t, "stream end", func() bool {
		_, ended := log.snapshot()
		return ended
	})

	st := s.Stats()
	if st.EndedTracks != 1 || st.Streams != 0 {
		t.Errorf("stats after end = %+v, want one ended track and no streams", st)
	}
	if st.FramesSent == 0 {
		t.Error("expected frames to be counted as sent")
	}
}

func TestReleaseStopsFrames(t *testing.T) {
	s := startServer(t, Track{Name: "tone", Source: NewTestTone(48000, 2)})
	c, r := joinServer(t, s)

	log := &frameLog{}
	defer c.Subscribe(log.handle)()
	info := openTrack(t, c, r, "pcm")

	waitFor(t, "first frame", func() bool {
		frames, _ := log.snapshot()
		return len(frames) > 0
	})
	if st := s.Stats(); st.Clients != 1 || st.Streams != 1 {
		t.Errorf("stats while streaming = %+v, want 1 client and 1 stream", st)
	}
	if err := c.ReleaseHandle(info.Handle); err != nil {
		t.Fatalf("ReleaseHandle: %v", err)
	}

	// Frames in flight are dropped by the client once the handle is gone
	time.Sleep(50 * time.Millisecond)
	before, _ := log.snapshot()
	time.Sleep(100 * time.Millisecond)
	after, _ := log.snapshot()
	if len(after) != len(before) {
		t.Errorf("frames kept arriving after release: %d -> %d", len(before), len(after))
	}
}

func TestStopDisconnectsRoom(t *testing.T) {
	s, err := NewServer(ServerConfig{Addr: "127.0.0.1:0", Tracks: []Track{{Source: NewTestTone(48000, 2)}}})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	<-s.Ready()

	c, r := joinServer(t, s)
	track, _ := r.FindTrack("")
	p, _ := track.Participant()

	s.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Start returned %v", err)
	}

	waitFor(t, "participant departure", func() bool { return !p.Present() })
	waitFor(t, "client disconnect", func() bool { return !c.IsConnected() && !r.Connected() })
}
