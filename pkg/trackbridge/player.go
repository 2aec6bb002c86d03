// ABOUTME: High-level Player API for trackbridge
// ABOUTME: Joins a room, bridges one remote audio track into an output device
package trackbridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/resonate-audio/trackbridge/pkg/audio"
	"github.com/resonate-audio/trackbridge/pkg/audio/output"
	"github.com/resonate-audio/trackbridge/pkg/protocol"
	"github.com/resonate-audio/trackbridge/pkg/room"
	"github.com/resonate-audio/trackbridge/pkg/rtc"
	"github.com/resonate-audio/trackbridge/pkg/stream"
)

// Transport names
const (
	TransportWebSocket = "ws"
	TransportWHEP      = "whep"
)

// Player states
const (
	StateIdle    = "idle"
	StatePlaying = "playing"
	StateEnded   = "ended"
)

const watchInterval = 250 * time.Millisecond

// ErrTrackNotFound is returned when the room has no matching audio track
var ErrTrackNotFound = errors.New("audio track not found")

// ErrPlayerClosed is returned by Connect after Close
var ErrPlayerClosed = errors.New("player closed")

// PlayerConfig holds player configuration
type PlayerConfig struct {
	// Transport is "ws" (default) or "whep"
	Transport string

	// ServerAddr is the publisher address (host:port) for ws
	ServerAddr string

	// WHEPEndpoint is the WHEP URL for whep
	WHEPEndpoint string

	// BearerToken authorizes the WHEP request
	BearerToken string

	// Room to join (default: "main")
	Room string

	// Track selects a track by sid or name; empty picks the first
	Track string

	// PlayerName is the display name for this player
	PlayerName string

	// Identity is the participant identity used when joining (default: PlayerName)
	Identity string

	// Codec is the preferred wire codec ("opus" or "pcm")
	Codec string

	// Volume is the initial volume (0-100)
	Volume int

	// BufferMs is the bridge buffer window in milliseconds (default: 200)
	BufferMs int

	// Output names the playback backend: "malgo" (default), "oto" or "null"
	Output string

	// DeviceInfo provides device identification
	DeviceInfo DeviceInfo

	// Tracer traces stream open and close; the global tracer when nil
	Tracer trace.Tracer

	// OnStateChange is called when playback state changes
	OnStateChange func(PlayerState)

	// OnError is called when errors occur
	OnError func(error)
}

// DeviceInfo describes the player device
type DeviceInfo struct {
	ProductName     string
	Manufacturer    string
	SoftwareVersion string
}

// PlayerState describes the current state
type PlayerState struct {
	State      string // "idle", "playing", "ended"
	Volume     int
	Muted      bool
	Room       string
	Track      string
	Codec      string
	SampleRate int
	Channels   int
	Connected  bool
}

// transport is what a Player needs from a connection
type transport interface {
	stream.Transport
	Close() error
}

// Player bridges one remote track into a local audio device
type Player struct {
	config PlayerConfig

	output    output.Output
	transport transport
	room      *room.Room
	stream    *stream.AudioStream
	dialer    func(ctx context.Context) (transport, *room.Room, error)

	// outputMu serializes device reopen against Close
	outputMu sync.Mutex

	mu     sync.Mutex
	state  PlayerState
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPlayer creates a new player with the given configuration
func NewPlayer(config PlayerConfig) (*Player, error) {
	if config.Transport == "" {
		config.Transport = TransportWebSocket
	}
	if config.Room == "" {
		config.Room = "main"
	}
	if config.PlayerName == "" {
		config.PlayerName = "Trackbridge Player"
	}
	if config.Identity == "" {
		config.Identity = config.PlayerName
	}
	if config.Volume == 0 {
		config.Volume = 100
	}
	if config.BufferMs == 0 {
		config.BufferMs = int(audio.DefaultWindow / time.Millisecond)
	}
	if config.DeviceInfo.ProductName == "" {
		config.DeviceInfo.ProductName = "Trackbridge Player"
	}
	if config.DeviceInfo.Manufacturer == "" {
		config.DeviceInfo.Manufacturer = "Trackbridge"
	}
	if config.DeviceInfo.SoftwareVersion == "" {
		config.DeviceInfo.SoftwareVersion = "1.0.0"
	}

	switch config.Transport {
	case TransportWebSocket:
		if config.ServerAddr == "" {
			return nil, fmt.Errorf("server address is required for the ws transport")
		}
	case TransportWHEP:
		if config.WHEPEndpoint == "" {
			return nil, fmt.Errorf("WHEP endpoint is required for the whep transport")
		}
	default:
		return nil, fmt.Errorf("unknown transport: %s", config.Transport)
	}
	if config.BufferMs < 0 {
		return nil, fmt.Errorf("buffer window must be positive, got %dms", config.BufferMs)
	}

	out, err := output.New(config.Output)
	if err != nil {
		return nil, err
	}
	out.SetVolume(config.Volume)

	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		config: config,
		output: out,
		ctx:    ctx,
		cancel: cancel,
		state: PlayerState{
			State:  StateIdle,
			Volume: out.Volume(),
			Room:   config.Room,
		},
	}
	p.dialer = p.dial
	return p, nil
}

// Connect dials the transport, joins the room and starts playing the selected track
func (p *Player) Connect(ctx context.Context) error {
	if p.isClosed() {
		return ErrPlayerClosed
	}

	t, r, err := p.dialer(ctx)
	if err != nil {
		return err
	}

	track, ok := r.FindTrack(p.config.Track)
	if !ok {
		t.Close()
		if p.config.Track == "" {
			return fmt.Errorf("%w in room %s", ErrTrackNotFound, r.Name())
		}
		return fmt.Errorf("%w: %q in room %s", ErrTrackNotFound, p.config.Track, r.Name())
	}

	as, err := stream.New(ctx, t, track, stream.Options{
		Window:         time.Duration(p.config.BufferMs) * time.Millisecond,
		Codec:          p.config.Codec,
		OnFormatChange: p.handleFormatChange,
		Tracer:         p.config.Tracer,
	})
	if err != nil {
		t.Close()
		return err
	}

	format := as.Format()
	if !format.Valid() {
		format = track.Format()
	}
	if err := p.openOutput(format, as); err != nil {
		as.Close()
		t.Close()
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		as.Close()
		p.closeOutput()
		t.Close()
		return ErrPlayerClosed
	}
	p.transport = t
	p.room = r
	p.stream = as
	p.state.Connected = true
	p.state.State = StatePlaying
	p.state.Room = r.Name()
	p.state.Track = track.Name()
	p.state.Codec = as.Info().Format.Codec
	p.state.SampleRate = format.SampleRate
	p.state.Channels = format.Channels
	done := make(chan struct{})
	p.done = done
	p.mu.Unlock()

	log.Printf("Playing track %s (%s) from room %s at %dHz/%dch",
		track.Name(), track.Sid(), r.Name(), format.SampleRate, format.Channels)
	p.notifyStateChange()

	// A format change that landed before p.stream was set was skipped
	if f := as.Format(); f.Valid() && (f.SampleRate != format.SampleRate || f.Channels != format.Channels) {
		p.handleFormatChange(f)
	}

	go p.watch(as, r, done)
	return nil
}

// dial connects the configured transport and returns its room
func (p *Player) dial(ctx context.Context) (transport, *room.Room, error) {
	switch p.config.Transport {
	case TransportWHEP:
		s, err := rtc.DialWHEP(ctx, rtc.Config{
			Endpoint:    p.config.WHEPEndpoint,
			Room:        p.config.Room,
			BearerToken: p.config.BearerToken,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connection failed: %w", err)
		}
		if _, err := s.WaitForTrack(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("no track published: %w", err)
		}
		return s, s.Room(), nil

	default:
		c := protocol.NewClient(protocol.Config{
			ServerAddr: p.config.ServerAddr,
			Name:       p.config.PlayerName,
			Version:    1,
			DeviceInfo: protocol.DeviceInfo{
				ProductName:     p.config.DeviceInfo.ProductName,
				Manufacturer:    p.config.DeviceInfo.Manufacturer,
				SoftwareVersion: p.config.DeviceInfo.SoftwareVersion,
			},
		})
		if err := c.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("connection failed: %w", err)
		}
		log.Printf("Connected to server: %s", p.config.ServerAddr)

		r, err := c.JoinRoom(ctx, p.config.Room, p.config.Identity)
		if err != nil {
			c.Close()
			return nil, nil, fmt.Errorf("failed to join room %s: %w", p.config.Room, err)
		}
		return c, r, nil
	}
}

// handleFormatChange follows the producer to a new format. It runs on the
// transport's delivery goroutine.
func (p *Player) handleFormatChange(f audio.Format) {
	p.outputMu.Lock()
	p.mu.Lock()
	as, closed := p.stream, p.closed
	p.mu.Unlock()
	if closed || as == nil {
		// Either Connect has not finished and opens the output itself,
		// or the player is closed and the device must stay stopped
		p.outputMu.Unlock()
		return
	}

	err := p.output.Open(f.SampleRate, f.Channels, as)
	p.outputMu.Unlock()
	if err != nil {
		p.notifyError(fmt.Errorf("failed to reopen output at %dHz/%dch: %w", f.SampleRate, f.Channels, err))
		return
	}

	p.mu.Lock()
	p.state.SampleRate = f.SampleRate
	p.state.Channels = f.Channels
	p.mu.Unlock()
	p.notifyStateChange()
}

// watch reports the end of the track and the loss of the room
func (p *Player) watch(as *stream.AudioStream, r *room.Room, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ended := as.Ended()
			connected := r.Connected()
			if !ended && connected {
				continue
			}

			p.mu.Lock()
			if ended {
				p.state.State = StateEnded
			}
			p.state.Connected = connected
			p.mu.Unlock()

			log.Printf("Track ended (room connected: %v)", connected)
			p.notifyStateChange()
			return

		case <-p.ctx.Done():
			return
		}
	}
}

// SetVolume sets the volume (0-100)
func (p *Player) SetVolume(volume int) {
	p.output.SetVolume(volume)

	p.mu.Lock()
	p.state.Volume = p.output.Volume()
	p.mu.Unlock()
	p.notifyStateChange()
}

// Mute sets the mute state
func (p *Player) Mute(muted bool) {
	p.output.SetMuted(muted)

	p.mu.Lock()
	p.state.Muted = muted
	p.mu.Unlock()
	p.notifyStateChange()
}

// Status returns the current player state
func (p *Player) Status() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns the bridge counters; zero before Connect
func (p *Player) Stats() stream.Stats {
	p.mu.Lock()
	as := p.stream
	p.mu.Unlock()

	if as == nil {
		return stream.Stats{}
	}
	return as.Stats()
}

// Room returns the joined room, nil before Connect
func (p *Player) Room() *room.Room {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.room
}

// Close stops playback and releases all resources. A closed player cannot
// be reconnected.
func (p *Player) Close() error {
	p.mu.Lock()
	p.closed = true
	as, t, done := p.stream, p.transport, p.done
	p.stream = nil
	p.transport = nil
	p.mu.Unlock()

	p.cancel()
	if done != nil {
		<-done
	}

	var errs []error
	// Closing the stream first stops format changes; a closed stream
	// renders silence until the device stops
	if as != nil {
		if err := as.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.closeOutput(); err != nil {
		errs = append(errs, fmt.Errorf("output: %w", err))
	}
	if t != nil {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("transport: %w", err))
		}
	}

	p.mu.Lock()
	p.state.Connected = false
	if p.state.State == StatePlaying {
		p.state.State = StateIdle
	}
	p.mu.Unlock()

	return errors.Join(errs...)
}

// openOutput starts the device unless Close got there first
func (p *Player) openOutput(format audio.Format, as *stream.AudioStream) error {
	p.outputMu.Lock()
	defer p.outputMu.Unlock()
	if p.isClosed() {
		return ErrPlayerClosed
	}
	if err := p.output.Open(format.SampleRate, format.Channels, as); err != nil {
		return fmt.Errorf("failed to initialize output: %w", err)
	}
	return nil
}

func (p *Player) closeOutput() error {
	p.outputMu.Lock()
	defer p.outputMu.Unlock()
	return p.output.Close()
}

func (p *Player) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Player) notifyStateChange() {
	if p.config.OnStateChange != nil {
		p.config.OnStateChange(p.Status())
	}
}

func (p *Player) notifyError(err error) {
	log.Printf("Player error: %v", err)
	if p.config.OnError != nil {
		p.config.OnError(err)
	}
}
