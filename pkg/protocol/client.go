// ABOUTME: WebSocket client for the trackbridge protocol
// ABOUTME: Joins rooms, opens track streams and dispatches decoded frames to subscribers
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/resonate-audio/trackbridge/pkg/audio"
	"github.com/resonate-audio/trackbridge/pkg/audio/decode"
	"github.com/resonate-audio/trackbridge/pkg/room"
	"github.com/resonate-audio/trackbridge/pkg/stream"
)

const (
	// DefaultPath is the WebSocket endpoint served by the publisher
	DefaultPath = "/trackbridge"

	handshakeTimeout      = 5 * time.Second
	defaultRequestTimeout = 5 * time.Second
	writeTimeout          = 5 * time.Second
)

// ErrNotConnected is returned when sending on a closed client
var ErrNotConnected = errors.New("not connected")

// Config holds client configuration
type Config struct {
	ServerAddr      string
	Path            string
	ClientID        string
	Name            string
	Version         int
	DeviceInfo      DeviceInfo
	SupportedCodecs []string
	RequestTimeout  time.Duration
}

// Client is a WebSocket session with a trackbridge server. It implements
// stream.Transport: frames arrive on the read goroutine and are delivered to
// subscribers there.
type Client struct {
	config  Config
	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex

	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
	server    ServerHello

	pendingMu sync.Mutex
	pending   map[string]chan StreamOpened
	joins     chan RoomJoined

	subscribers stream.Broadcaster

	streamsMu sync.Mutex
	streams   map[stream.Handle]*streamDecoder

	roomMu sync.Mutex
	room   *room.Room
}

var _ stream.Transport = (*Client)(nil)

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.ClientID == "" {
		config.ClientID = uuid.New().String()
	}
	if len(config.SupportedCodecs) == 0 {
		config.SupportedCodecs = []string{"opus", "pcm"}
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaultRequestTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]chan StreamOpened),
		joins:   make(chan RoomJoined, 1),
		streams: make(map[stream.Handle]*streamDecoder),
	}
}

// Connect establishes the WebSocket connection and performs the handshake
func (c *Client) Connect(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	log.Printf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()
	return nil
}

// handshake sends client/hello and waits for server/hello
func (c *Client) handshake() error {
	hello := ClientHello{
		ClientID:        c.config.ClientID,
		Name:            c.config.Name,
		Version:         c.config.Version,
		DeviceInfo:      &c.config.DeviceInfo,
		SupportedCodecs: c.config.SupportedCodecs,
	}

	if err := c.sendJSON(Message{Type: TypeClientHello, Payload: hello}); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}
	if env.Type != TypeServerHello {
		return fmt.Errorf("expected server/hello, got %s", env.Type)
	}
	if err := json.Unmarshal(env.Payload, &c.server); err != nil {
		return fmt.Errorf("failed to parse server/hello payload: %w", err)
	}

	log.Printf("Handshake complete with server %s (%s)", c.server.Name, c.server.ServerID)
	return nil
}

// Server returns the server's hello
func (c *Client) Server() ServerHello {
	return c.server
}

// JoinRoom joins a room and returns its participants and tracks
func (c *Client) JoinRoom(ctx context.Context, name, identity string) (*room.Room, error) {
	if err := c.sendJSON(Message{Type: TypeRoomJoin, Payload: RoomJoin{Room: name, Identity: identity}}); err != nil {
		return nil, fmt.Errorf("failed to send room/join: %w", err)
	}

	var joined RoomJoined
	select {
	case joined = <-c.joins:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrNotConnected
	case <-time.After(c.config.RequestTimeout):
		return nil, fmt.Errorf("timed out waiting for room/joined")
	}

	r := room.New(room.Handle(joined.RoomHandle), joined.Room)
	for _, pi := range joined.Participants {
		p := r.AddParticipant(pi.Sid, pi.Identity)
		for _, ti := range pi.Tracks {
			r.PublishTrack(p, ti.Sid, ti.Name, audio.Format{
				Codec:      ti.Codec,
				SampleRate: ti.SampleRate,
				Channels:   ti.Channels,
				BitDepth:   ti.BitDepth,
			})
		}
	}

	c.roomMu.Lock()
	old := c.room
	c.room = r
	c.roomMu.Unlock()
	if old != nil {
		old.Disconnect()
	}

	log.Printf("Joined room %s (handle %d) with %d participants", r.Name(), r.Handle(), len(joined.Participants))
	return r, nil
}

// OpenAudioStream asks the server to start sending a track
func (c *Client) OpenAudioStream(ctx context.Context, req stream.OpenRequest) (stream.StreamInfo, error) {
	requestID := uuid.New().String()
	reply := make(chan StreamOpened, 1)

	c.pendingMu.Lock()
	c.pending[requestID] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
	}()

	open := StreamOpen{
		RequestID:      requestID,
		RoomHandle:     uint64(req.RoomHandle),
		ParticipantSid: req.ParticipantSid,
		TrackSid:       req.TrackSid,
		Type:           StreamTypeNative,
		Codec:          req.Codec,
	}
	if err := c.sendJSON(Message{Type: TypeStreamOpen, Payload: open}); err != nil {
		return stream.StreamInfo{}, fmt.Errorf("failed to send stream/open: %w", err)
	}

	var opened StreamOpened
	select {
	case opened = <-reply:
	case <-ctx.Done():
		return stream.StreamInfo{}, ctx.Err()
	case <-c.ctx.Done():
		return stream.StreamInfo{}, ErrNotConnected
	case <-time.After(c.config.RequestTimeout):
		return stream.StreamInfo{}, fmt.Errorf("timed out waiting for stream/opened")
	}

	if opened.Error != "" {
		return stream.StreamInfo{}, fmt.Errorf("server refused stream: %s", opened.Error)
	}

	format := audio.Format{
		Codec:      opened.Codec,
		SampleRate: opened.SampleRate,
		Channels:   opened.Channels,
		BitDepth:   opened.BitDepth,
	}
	dec, err := newStreamDecoder(format)
	if err != nil {
		c.sendJSON(Message{Type: TypeStreamClose, Payload: StreamClose{Handle: opened.Handle}})
		return stream.StreamInfo{}, err
	}

	h := stream.Handle(opened.Handle)
	c.streamsMu.Lock()
	if old, ok := c.streams[h]; ok {
		old.close()
	}
	c.streams[h] = dec
	c.streamsMu.Unlock()

	log.Printf("Stream %d opened: %s %dHz/%dch", h, format.Codec, format.SampleRate, format.Channels)
	return stream.StreamInfo{Handle: h, Format: format}, nil
}

// Subscribe registers a handler for stream events
func (c *Client) Subscribe(handler func(stream.Event)) func() {
	return c.subscribers.Subscribe(handler)
}

// ReleaseHandle stops a stream. Releasing on a closed connection only
// forgets the handle.
func (c *Client) ReleaseHandle(h stream.Handle) error {
	c.streamsMu.Lock()
	d, ok := c.streams[h]
	delete(c.streams, h)
	c.streamsMu.Unlock()

	if !ok {
		return fmt.Errorf("unknown stream handle %d", h)
	}
	d.close()

	if err := c.sendJSON(Message{Type: TypeStreamClose, Payload: StreamClose{Handle: uint64(h)}}); err != nil && !errors.Is(err, ErrNotConnected) {
		return fmt.Errorf("failed to send stream/close: %w", err)
	}
	return nil
}

// sendJSON sends a JSON message
func (c *Client) sendJSON(msg Message) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()

	if !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

// readMessages reads and routes incoming messages
func (c *Client) readMessages() {
	defer c.Close()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.IsConnected() {
				log.Printf("Read error: %v", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.handleBinaryMessage(data)
		case websocket.TextMessage:
			c.handleJSONMessage(data)
		default:
			log.Printf("Unknown WebSocket message type: %d", messageType)
		}
	}
}

// handleBinaryMessage decodes an audio frame and dispatches it
func (c *Client) handleBinaryMessage(data []byte) {
	h, payload, err := DecodeAudioFrame(data)
	if err != nil {
		log.Printf("Invalid binary message: %v", err)
		return
	}

	handle := stream.Handle(h.Handle)
	c.streamsMu.Lock()
	dec, ok := c.streams[handle]
	c.streamsMu.Unlock()
	if !ok {
		return
	}

	frame, err := dec.frame(h, payload)
	if errors.Is(err, errStreamReleased) {
		return
	}
	if err != nil {
		log.Printf("Stream %d: %v", handle, err)
		return
	}

	c.subscribers.Dispatch(stream.Event{Handle: handle, Kind: stream.EventFrameReceived, Frame: frame})
}

// handleJSONMessage routes control messages
func (c *Client) handleJSONMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("Failed to parse JSON message: %v", err)
		return
	}

	switch env.Type {
	case TypeRoomJoined:
		var joined RoomJoined
		if err := json.Unmarshal(env.Payload, &joined); err != nil {
			log.Printf("Failed to parse room/joined: %v", err)
			return
		}
		select {
		case c.joins <- joined:
		default:
			log.Printf("Unexpected room/joined, dropping")
		}

	case TypeStreamOpened:
		var opened StreamOpened
		if err := json.Unmarshal(env.Payload, &opened); err != nil {
			log.Printf("Failed to parse stream/opened: %v", err)
			return
		}
		c.pendingMu.Lock()
		reply, ok := c.pending[opened.RequestID]
		c.pendingMu.Unlock()
		if !ok {
			log.Printf("stream/opened for unknown request %s", opened.RequestID)
			return
		}
		select {
		case reply <- opened:
		default:
			log.Printf("Duplicate stream/opened for request %s, dropping", opened.RequestID)
		}

	case TypeStreamEnded:
		var ended StreamEnded
		if err := json.Unmarshal(env.Payload, &ended); err != nil {
			log.Printf("Failed to parse stream/ended: %v", err)
			return
		}
		log.Printf("Stream %d ended by server", ended.Handle)
		c.subscribers.Dispatch(stream.Event{Handle: stream.Handle(ended.Handle), Kind: stream.EventStreamEnded})

	case TypeParticipantLeft:
		var left ParticipantLeft
		if err := json.Unmarshal(env.Payload, &left); err != nil {
			log.Printf("Failed to parse participant/left: %v", err)
			return
		}
		c.roomMu.Lock()
		r := c.room
		c.roomMu.Unlock()
		if r != nil {
			r.RemoveParticipant(left.Sid)
			log.Printf("Participant %s left room %s", left.Sid, r.Name())
		}

	default:
		log.Printf("Unknown message type: %s", env.Type)
	}
}

// SendGoodbye sends a client/goodbye message before disconnecting
func (c *Client) SendGoodbye(reason string) error {
	return c.sendJSON(Message{Type: TypeClientGoodbye, Payload: ClientGoodbye{Reason: reason}})
}

// Close closes the connection, disconnects the joined room and ends every open stream
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.cancel()
	conn := c.conn
	c.mu.Unlock()

	err := conn.Close()

	c.roomMu.Lock()
	r := c.room
	c.roomMu.Unlock()
	if r != nil {
		r.Disconnect()
	}

	c.streamsMu.Lock()
	handles := make([]stream.Handle, 0, len(c.streams))
	for h, d := range c.streams {
		handles = append(handles, h)
		d.close()
	}
	c.streamsMu.Unlock()
	for _, h := range handles {
		c.subscribers.Dispatch(stream.Event{Handle: h, Kind: stream.EventStreamEnded})
	}

	log.Printf("Connection closed")
	return err
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// streamDecoder turns wire payloads of one stream into S16LE frames. Its
// buffers are reused, so a frame is only valid until the next one.
type streamDecoder struct {
	mu      sync.Mutex
	closed  bool
	format  audio.Format
	decoder decode.Decoder
	pcm     []byte
	out     stream.Frame
}

var errStreamReleased = errors.New("stream released")

func newStreamDecoder(format audio.Format) (*streamDecoder, error) {
	d := &streamDecoder{format: format}
	if format.Codec == "pcm" && (format.BitDepth == 0 || format.BitDepth == 16) {
		return d, nil
	}

	dec, err := decode.New(format)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s decoder: %w", format.Codec, err)
	}
	d.decoder = dec
	return d, nil
}

func (d *streamDecoder) frame(h AudioFrameHeader, payload []byte) (*stream.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errStreamReleased
	}

	channels := int(h.Channels)
	sampleRate := int(h.SampleRate)

	if d.decoder == nil && h.Codec == CodecPCM {
		d.out = stream.Frame{
			Channels:          channels,
			SampleRate:        sampleRate,
			SamplesPerChannel: int(h.SamplesPerChannel),
			Data:              payload,
		}
		return &d.out, nil
	}

	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("frame header has no format (%dHz/%dch)", sampleRate, channels)
	}

	// The publisher switched formats; decoders are bound to one
	if d.decoder == nil || channels != d.format.Channels || sampleRate != d.format.SampleRate || h.Codec.String() != d.format.Codec {
		format := audio.Format{Codec: h.Codec.String(), SampleRate: sampleRate, Channels: channels, BitDepth: 16}
		if format.Codec == d.format.Codec && d.format.BitDepth != 0 {
			format.BitDepth = d.format.BitDepth
		}
		dec, err := decode.New(format)
		if err != nil {
			return nil, fmt.Errorf("failed to switch decoder to %s %dHz/%dch: %w", format.Codec, sampleRate, channels, err)
		}
		if d.decoder != nil {
			d.decoder.Close()
		}
		d.decoder = dec
		d.format = format
	}

	samples, err := d.decoder.Decode(payload)
	if err != nil {
		return nil, err
	}

	need := len(samples) * audio.BytesPerSample
	if cap(d.pcm) < need {
		d.pcm = make([]byte, need)
	}
	data := d.pcm[:need]
	audio.PutS16(data, samples)

	d.out = stream.Frame{
		Channels:          channels,
		SampleRate:        sampleRate,
		SamplesPerChannel: len(samples) / channels,
		Data:              data,
	}
	return &d.out, nil
}

// close frees the codec; frames that arrive afterwards are rejected
func (d *streamDecoder) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.decoder != nil {
		d.decoder.Close()
		d.decoder = nil
	}
}
