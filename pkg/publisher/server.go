// ABOUTME: Publishing server for trackbridge rooms
// ABOUTME: Serves one room whose participant publishes a track per configured source
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/resonate-audio/trackbridge/internal/discovery"
	"github.com/resonate-audio/trackbridge/pkg/audio"
	"github.com/resonate-audio/trackbridge/pkg/audio/encode"
	"github.com/resonate-audio/trackbridge/pkg/protocol"
)

const (
	// ProtocolVersion is the version of the trackbridge protocol we implement
	ProtocolVersion = 1

	DefaultPort       = 8927
	DefaultSampleRate = 48000
	DefaultChannels   = 2

	// ChunkDurationMs is the length of one published frame
	ChunkDurationMs = 20

	sendQueueSize = 100
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// Track is one source published under a name
type Track struct {
	Name   string
	Source Source
}

// ServerConfig configures a publishing server
type ServerConfig struct {
	// Port to listen on (default: 8927). Ignored when Addr is set.
	Port int

	// Addr overrides the listen address, e.g. "127.0.0.1:0"
	Addr string

	// Name of the server for identification
	Name string

	// Room is the name of the served room (default: "main")
	Room string

	// Identity of the publishing participant (default: Name)
	Identity string

	// Tracks to publish (at least one)
	Tracks []Track

	// EnableMDNS enables mDNS service advertisement
	EnableMDNS bool

	// Debug enables debug logging
	Debug bool
}

// Server publishes tracks to WebSocket subscribers
type Server struct {
	config         ServerConfig
	serverID       string
	roomHandle     uint64
	participantSid string

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux
	listener   net.Listener
	ready      chan struct{}

	tracks     []*publishedTrack
	nextHandle atomic.Uint64

	framesSent   atomic.Uint64
	framesFailed atomic.Uint64

	clients   map[*client]struct{}
	clientsMu sync.RWMutex

	mdnsManager *discovery.Manager

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// publishedTrack is a source and the subscriptions reading from it
type publishedTrack struct {
	sid    string
	name   string
	source Source
	format audio.Format

	mu    sync.Mutex
	subs  map[uint64]*subscription
	ended bool
}

// subscription is one opened stream of a track for one client
type subscription struct {
	handle  uint64
	client  *client
	track   *publishedTrack
	codec   protocol.CodecID
	encoder encode.Encoder
}

// client is a connected WebSocket peer
type client struct {
	id   string
	name string
	conn *websocket.Conn

	mu       sync.Mutex
	closed   bool
	sendChan chan interface{}
	streams  map[uint64]*subscription
}

// NewServer creates a new publishing server
func NewServer(config ServerConfig) (*Server, error) {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Name == "" {
		config.Name = "Trackbridge Server"
	}
	if config.Room == "" {
		config.Room = "main"
	}
	if config.Identity == "" {
		config.Identity = config.Name
	}
	if len(config.Tracks) == 0 {
		return nil, fmt.Errorf("at least one track is required")
	}

	s := &Server{
		config:         config,
		serverID:       uuid.New().String(),
		roomHandle:     1,
		participantSid: "PA_" + shortID(),
		mux:            http.NewServeMux(),
		ready:          make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Local network deployments accept all origins
				return true
			},
		},
		clients:  make(map[*client]struct{}),
		stopChan: make(chan struct{}),
	}

	names := make(map[string]bool)
	for i, t := range config.Tracks {
		if t.Source == nil {
			return nil, fmt.Errorf("track %d has no source", i)
		}
		name := t.Name
		if name == "" {
			name = fmt.Sprintf("track-%d", i+1)
		}
		if names[name] {
			return nil, fmt.Errorf("duplicate track name %q", name)
		}
		names[name] = true

		format := audio.Format{Codec: "pcm", SampleRate: t.Source.SampleRate(), Channels: t.Source.Channels(), BitDepth: 16}
		if !format.Valid() {
			return nil, fmt.Errorf("track %q has invalid format %dHz/%dch", name, format.SampleRate, format.Channels)
		}
		s.tracks = append(s.tracks, &publishedTrack{
			sid:    "TR_" + shortID(),
			name:   name,
			source: t.Source,
			format: format,
			subs:   make(map[uint64]*subscription),
		})
	}

	return s, nil
}

func shortID() string {
	return uuid.New().String()[:8]
}

// Start listens, publishes every track and blocks until Stop
func (s *Server) Start() error {
	addr := s.config.Addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", s.config.Port)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln

	log.Printf("Server starting: %s (ID: %s), room %s", s.config.Name, s.serverID, s.config.Room)
	for _, t := range s.tracks {
		log.Printf("Track %s (%s): %dHz/%dch", t.name, t.sid, t.format.SampleRate, t.format.Channels)
	}

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        ln.Addr().(*net.TCPAddr).Port,
			Path:        protocol.DefaultPath,
			Room:        s.config.Room,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			log.Printf("mDNS advertisement started")
		}
	}

	s.mux.HandleFunc(protocol.DefaultPath, s.handleWebSocket)

	for _, t := range s.tracks {
		s.wg.Add(1)
		go func(t *publishedTrack) {
			defer s.wg.Done()
			s.publish(t)
		}(t)
	}

	log.Printf("WebSocket server listening on %s", ln.Addr())
	s.httpServer = &http.Server{Handler: s.mux}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	close(s.ready)

	select {
	case <-s.stopChan:
		log.Printf("Server shutting down...")
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		s.Stop()
		s.wg.Wait()
		return err
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	// Subscribers learn the publisher is gone before the sockets close
	s.broadcast(protocol.TypeParticipantLeft, protocol.ParticipantLeft{Sid: s.participantSid})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	s.clientsMu.RLock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.clientsMu.RUnlock()

	s.wg.Wait()

	for _, t := range s.tracks {
		if err := t.source.Close(); err != nil {
			log.Printf("Error closing source for %s: %v", t.name, err)
		}
	}

	log.Printf("Server stopped cleanly")
	return nil
}

// Ready is closed once the server accepts connections
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listen address, valid after Ready
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// RoomInfo returns the room as announced to joining clients
func (s *Server) RoomInfo() protocol.RoomJoined {
	tracks := make([]protocol.TrackInfo, 0, len(s.tracks))
	for _, t := range s.tracks {
		t.mu.Lock()
		ended := t.ended
		t.mu.Unlock()
		if ended {
			continue
		}
		tracks = append(tracks, protocol.TrackInfo{
			Sid:        t.sid,
			Name:       t.name,
			Codec:      t.format.Codec,
			SampleRate: t.format.SampleRate,
			Channels:   t.format.Channels,
			BitDepth:   t.format.BitDepth,
		})
	}

	return protocol.RoomJoined{
		RoomHandle: s.roomHandle,
		Room:       s.config.Room,
		Participants: []protocol.ParticipantInfo{{
			Sid:      s.participantSid,
			Identity: s.config.Identity,
			Tracks:   tracks,
		}},
	}
}

// publish reads the track's source every chunk and fans frames out
func (s *Server) publish(t *publishedTrack) {
	ticker := time.NewTicker(ChunkDurationMs * time.Millisecond)
	defer ticker.Stop()

	chunkFrames := t.format.SampleRate * ChunkDurationMs / 1000
	samples := make([]int16, chunkFrames*t.format.Channels)

	for {
		select {
		case <-ticker.C:
			if !s.sendChunk(t, samples) {
				return
			}
		case <-s.stopChan:
			return
		}
	}
}

// sendChunk publishes one chunk. It returns false once the source ended.
func (s *Server) sendChunk(t *publishedTrack, samples []int16) bool {
	n, err := t.source.Read(samples)
	if err != nil && !errors.Is(err, io.EOF) {
		log.Printf("Error reading source for %s: %v", t.name, err)
		return true
	}
	if errors.Is(err, io.EOF) && n == 0 {
		s.endTrack(t)
		return false
	}

	// Opus needs whole frames, so short reads are padded with silence
	clear(samples[n:])
	frames := len(samples) / t.format.Channels

	t.mu.Lock()
	subs := make([]*subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		payload, err := sub.encoder.Encode(samples)
		if err != nil {
			log.Printf("Encode error for stream %d: %v", sub.handle, err)
			continue
		}

		msg := protocol.EncodeAudioFrame(protocol.AudioFrameHeader{
			Handle:            sub.handle,
			SampleRate:        uint32(t.format.SampleRate),
			Channels:          uint16(t.format.Channels),
			SamplesPerChannel: uint32(frames),
			Codec:             sub.codec,
		}, payload)

		if err := sub.client.send(msg); err != nil {
			s.framesFailed.Add(1)
			if s.config.Debug {
				log.Printf("Error sending audio to %s: %v", sub.client.name, err)
			}
			continue
		}
		s.framesSent.Add(1)
	}

	if errors.Is(err, io.EOF) {
		s.endTrack(t)
		return false
	}
	return true
}

// endTrack tells every subscriber the track stopped and drops its streams
func (s *Server) endTrack(t *publishedTrack) {
	t.mu.Lock()
	t.ended = true
	subs := t.subs
	t.subs = make(map[uint64]*subscription)
	t.mu.Unlock()

	log.Printf("Track %s ended", t.name)
	for _, sub := range subs {
		sub.client.sendMessage(protocol.TypeStreamEnded, protocol.StreamEnded{Handle: sub.handle})
		if sub.client.forget(sub.handle) != nil {
			sub.encoder.Close()
		}
	}
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New WebSocket connection from %s", r.RemoteAddr)
	s.handleConnection(conn)
}

// handleConnection runs the handshake and the client's read loop
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		log.Printf("Rejecting connection during shutdown")
		return
	}
	s.shutdownMu.RUnlock()

	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Printf("Error reading hello: %v", err)
		return
	}

	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return
	}
	if env.Type != protocol.TypeClientHello {
		log.Printf("Expected client/hello, got %s", env.Type)
		return
	}

	var hello protocol.ClientHello
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		log.Printf("Error unmarshaling client hello: %v", err)
		return
	}
	if hello.ClientID == "" {
		log.Printf("Client hello missing client_id")
		return
	}

	log.Printf("Client hello: %s (ID: %s, codecs: %v)", hello.Name, hello.ClientID, hello.SupportedCodecs)

	c := &client{
		id:       hello.ClientID,
		name:     hello.Name,
		conn:     conn,
		sendChan: make(chan interface{}, sendQueueSize),
		streams:  make(map[uint64]*subscription),
	}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()

	defer func() {
		s.removeClient(c)
		log.Printf("Client disconnected: %s", c.name)
	}()

	c.sendMessage(protocol.TypeServerHello, protocol.ServerHello{
		ServerID: s.serverID,
		Name:     s.config.Name,
		Version:  ProtocolVersion,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writer()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		s.handleClientMessage(c, data)
	}
}

// handleClientMessage processes control messages from clients
func (s *Server) handleClientMessage(c *client, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return
	}

	switch env.Type {
	case protocol.TypeRoomJoin:
		var join protocol.RoomJoin
		if err := json.Unmarshal(env.Payload, &join); err != nil {
			return
		}
		s.handleJoin(c, join)

	case protocol.TypeStreamOpen:
		var open protocol.StreamOpen
		if err := json.Unmarshal(env.Payload, &open); err != nil {
			return
		}
		c.sendMessage(protocol.TypeStreamOpened, s.openStream(c, open))

	case protocol.TypeStreamClose:
		var closeMsg protocol.StreamClose
		if err := json.Unmarshal(env.Payload, &closeMsg); err != nil {
			return
		}
		s.closeStream(c, closeMsg.Handle)

	case protocol.TypeClientGoodbye:
		var goodbye protocol.ClientGoodbye
		if err := json.Unmarshal(env.Payload, &goodbye); err != nil {
			return
		}
		log.Printf("Client %s goodbye: %s", c.name, goodbye.Reason)

	default:
		if s.config.Debug {
			log.Printf("Unknown message type: %s", env.Type)
		}
	}
}

// handleJoin answers room/join. Unknown rooms are joined empty.
func (s *Server) handleJoin(c *client, join protocol.RoomJoin) {
	if join.Room != s.config.Room {
		log.Printf("Client %s asked for unknown room %q", c.name, join.Room)
		c.sendMessage(protocol.TypeRoomJoined, protocol.RoomJoined{Room: join.Room})
		return
	}

	log.Printf("Client %s joined room %s as %s", c.name, join.Room, join.Identity)
	c.sendMessage(protocol.TypeRoomJoined, s.RoomInfo())
}

// openStream validates a stream/open request and subscribes the client
func (s *Server) openStream(c *client, open protocol.StreamOpen) protocol.StreamOpened {
	reply := protocol.StreamOpened{RequestID: open.RequestID}

	if open.RoomHandle != s.roomHandle {
		reply.Error = fmt.Sprintf("unknown room handle %d", open.RoomHandle)
		return reply
	}
	if open.ParticipantSid != s.participantSid {
		reply.Error = fmt.Sprintf("unknown participant %s", open.ParticipantSid)
		return reply
	}
	if open.Type != protocol.StreamTypeNative {
		reply.Error = fmt.Sprintf("unsupported stream type %q", open.Type)
		return reply
	}

	var t *publishedTrack
	for _, candidate := range s.tracks {
		if candidate.sid == open.TrackSid {
			t = candidate
			break
		}
	}
	if t == nil {
		reply.Error = fmt.Sprintf("unknown track %s", open.TrackSid)
		return reply
	}

	codecName := open.Codec
	if codecName == "" {
		codecName = "pcm"
	}
	codec, err := protocol.CodecFromName(codecName)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}

	format := t.format
	format.Codec = codecName
	encoder, err := encode.New(format)
	if err != nil {
		reply.Error = fmt.Sprintf("cannot encode %s at %dHz/%dch: %v", codecName, format.SampleRate, format.Channels, err)
		return reply
	}

	sub := &subscription{
		handle:  s.nextHandle.Add(1),
		client:  c,
		track:   t,
		codec:   codec,
		encoder: encoder,
	}

	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		encoder.Close()
		reply.Error = fmt.Sprintf("track %s has ended", t.sid)
		return reply
	}
	t.subs[sub.handle] = sub
	t.mu.Unlock()

	c.mu.Lock()
	c.streams[sub.handle] = sub
	c.mu.Unlock()

	log.Printf("Client %s opened stream %d on %s (%s)", c.name, sub.handle, t.name, codecName)

	reply.Handle = sub.handle
	reply.Codec = codecName
	reply.SampleRate = format.SampleRate
	reply.Channels = format.Channels
	reply.BitDepth = format.BitDepth
	return reply
}

// closeStream removes one subscription
func (s *Server) closeStream(c *client, handle uint64) {
	sub := c.forget(handle)
	if sub == nil {
		return
	}

	sub.track.mu.Lock()
	delete(sub.track.subs, handle)
	sub.track.mu.Unlock()
	sub.encoder.Close()

	log.Printf("Client %s closed stream %d", c.name, handle)
}

// removeClient drops a client and its subscriptions
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	c.mu.Lock()
	handles := make([]uint64, 0, len(c.streams))
	for h := range c.streams {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	for _, h := range handles {
		s.closeStream(c, h)
	}

	c.close()
}

// ServerStats is a snapshot of publisher activity
type ServerStats struct {
	Clients      int
	Streams      int
	Tracks       int
	EndedTracks  int
	FramesSent   uint64 // frames queued to subscribers
	FramesFailed uint64 // frames dropped on a full or closed client queue

	Subscriptions []SubscriptionInfo
}

// SubscriptionInfo describes one open stream
type SubscriptionInfo struct {
	Handle uint64
	Client string
	Track  string
	Codec  string
}

// Stats returns a snapshot of publisher activity
func (s *Server) Stats() ServerStats {
	st := ServerStats{
		Tracks:       len(s.tracks),
		FramesSent:   s.framesSent.Load(),
		FramesFailed: s.framesFailed.Load(),
	}

	s.clientsMu.RLock()
	st.Clients = len(s.clients)
	s.clientsMu.RUnlock()

	for _, t := range s.tracks {
		t.mu.Lock()
		st.Streams += len(t.subs)
		if t.ended {
			st.EndedTracks++
		}
		for _, sub := range t.subs {
			st.Subscriptions = append(st.Subscriptions, SubscriptionInfo{
				Handle: sub.handle,
				Client: sub.client.name,
				Track:  t.name,
				Codec:  sub.codec.String(),
			})
		}
		t.mu.Unlock()
	}
	sort.Slice(st.Subscriptions, func(i, j int) bool {
		return st.Subscriptions[i].Handle < st.Subscriptions[j].Handle
	})
	return st
}

// broadcast sends a control message to every client
func (s *Server) broadcast(msgType string, payload interface{}) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		c.sendMessage(msgType, payload)
	}
}

// writer drains the client's send queue onto the socket
func (c *client) writer() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.sendChan:
			if !ok {
				return
			}

			switch v := msg.(type) {
			case []byte:
				c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := c.conn.WriteMessage(websocket.BinaryMessage, v); err != nil {
					return
				}
			default:
				data, err := json.Marshal(v)
				if err != nil {
					continue
				}
				c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// send queues a binary frame
func (c *client) send(msg interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client closed")
	}
	select {
	case c.sendChan <- msg:
		return nil
	default:
		return fmt.Errorf("client send buffer full")
	}
}

// sendMessage queues a JSON control message
func (c *client) sendMessage(msgType string, payload interface{}) error {
	return c.send(protocol.Message{Type: msgType, Payload: payload})
}

// forget removes a stream from the client and returns it
func (c *client) forget(handle uint64) *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.streams[handle]
	if !ok {
		return nil
	}
	delete(c.streams, handle)
	return sub
}

// close stops the writer. Queued messages are dropped.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.sendChan)
	}
}
