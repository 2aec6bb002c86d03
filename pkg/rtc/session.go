// ABOUTME: WebRTC transport that receives room audio over WHEP
// ABOUTME: Remote Opus tracks become room tracks and decoded frames feed stream subscribers
package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/resonate-audio/trackbridge/pkg/audio"
	"github.com/resonate-audio/trackbridge/pkg/audio/decode"
	"github.com/resonate-audio/trackbridge/pkg/room"
	"github.com/resonate-audio/trackbridge/pkg/stream"
)

// opusClockRate is the RTP clock and decode rate of every WebRTC Opus track
const opusClockRate = 48000

// Session is one WHEP playback session. Each remote audio track of the
// peer connection is published into Room under a single participant.
type Session struct {
	pc          *webrtc.PeerConnection
	room        *room.Room
	participant *room.Participant
	resource    string
	whep        *whepClient

	subscribers stream.Broadcaster

	mu         sync.Mutex
	tracks     map[string]*trackState
	streams    map[stream.Handle]string // handle to track sid
	nextHandle stream.Handle
	trackAdded chan struct{}
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
}

// trackState decodes one remote track
type trackState struct {
	track    *room.RemoteAudioTrack
	channels int
	decoder  decode.Decoder
	pcm      []byte
	frame    stream.Frame
}

var _ stream.Transport = (*Session)(nil)

// newSession builds the room model around a peer connection
func newSession(roomName, identity string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	r := room.New(1, roomName)
	p := r.AddParticipant("PA_"+uuid.New().String()[:8], identity)

	return &Session{
		room:        r,
		participant: p,
		tracks:      make(map[string]*trackState),
		streams:     make(map[stream.Handle]string),
		trackAdded:  make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Room returns the room holding the remote tracks
func (s *Session) Room() *room.Room {
	return s.room
}

// WaitForTrack blocks until the peer has published at least one audio track
func (s *Session) WaitForTrack(ctx context.Context) (*room.RemoteAudioTrack, error) {
	for {
		if t, ok := s.room.FindTrack(""); ok {
			return t, nil
		}
		select {
		case <-s.trackAdded:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ctx.Done():
			return nil, fmt.Errorf("session closed before any track arrived")
		}
	}
}

// addTrack publishes a remote track into the room
func (s *Session) addTrack(sid, name string, channels int) (*trackState, error) {
	if channels <= 0 {
		channels = 2
	}
	format := audio.Format{Codec: "opus", SampleRate: opusClockRate, Channels: channels}
	dec, err := decode.New(format)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder for track %s: %w", sid, err)
	}

	ts := &trackState{
		track:    s.room.PublishTrack(s.participant, sid, name, format),
		channels: channels,
		decoder:  dec,
	}

	s.mu.Lock()
	s.tracks[sid] = ts
	s.mu.Unlock()

	select {
	case s.trackAdded <- struct{}{}:
	default:
	}

	log.Printf("Remote track %s (%s) published: opus %dHz/%dch", sid, name, opusClockRate, channels)
	return ts, nil
}

// OpenAudioStream binds a new handle to a published track
func (s *Session) OpenAudioStream(ctx context.Context, req stream.OpenRequest) (stream.StreamInfo, error) {
	if req.RoomHandle != s.room.Handle() {
		return stream.StreamInfo{}, fmt.Errorf("unknown room handle %d", req.RoomHandle)
	}
	if req.ParticipantSid != s.participant.Sid() {
		return stream.StreamInfo{}, fmt.Errorf("unknown participant %s", req.ParticipantSid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return stream.StreamInfo{}, fmt.Errorf("session closed")
	}
	ts, ok := s.tracks[req.TrackSid]
	if !ok {
		return stream.StreamInfo{}, fmt.Errorf("unknown track %s", req.TrackSid)
	}

	s.nextHandle++
	h := s.nextHandle
	s.streams[h] = req.TrackSid

	return stream.StreamInfo{Handle: h, Format: ts.track.Format()}, nil
}

// Subscribe registers a handler for stream events
func (s *Session) Subscribe(handler func(stream.Event)) func() {
	return s.subscribers.Subscribe(handler)
}

// ReleaseHandle forgets a stream handle
func (s *Session) ReleaseHandle(h stream.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.streams[h]; !ok {
		return fmt.Errorf("unknown stream handle %d", h)
	}
	delete(s.streams, h)
	return nil
}

// handlesFor returns the open handles bound to a track
func (s *Session) handlesFor(sid string) []stream.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var handles []stream.Handle
	for h, trackSid := range s.streams {
		if trackSid == sid {
			handles = append(handles, h)
		}
	}
	return handles
}

// handlePacket decodes one RTP packet and dispatches it to the track's
// handles. It runs on the track's read goroutine.
func (s *Session) handlePacket(ts *trackState, pkt *rtp.Packet) error {
	if len(pkt.Payload) == 0 {
		return nil
	}

	samples, err := ts.decoder.Decode(pkt.Payload)
	if err != nil {
		return fmt.Errorf("opus decode error: %w", err)
	}

	need := len(samples) * audio.BytesPerSample
	if cap(ts.pcm) < need {
		ts.pcm = make([]byte, need)
	}
	data := ts.pcm[:need]
	audio.PutS16(data, samples)

	ts.frame = stream.Frame{
		Channels:          ts.channels,
		SampleRate:        opusClockRate,
		SamplesPerChannel: len(samples) / ts.channels,
		Data:              data,
	}

	for _, h := range s.handlesFor(ts.track.Sid()) {
		s.subscribers.Dispatch(stream.Event{Handle: h, Kind: stream.EventFrameReceived, Frame: &ts.frame})
	}
	return nil
}

// endTrack signals the end of every stream reading a track
func (s *Session) endTrack(sid string) {
	for _, h := range s.handlesFor(sid) {
		s.subscribers.Dispatch(stream.Event{Handle: h, Kind: stream.EventStreamEnded})
	}
}

// readTrack pumps RTP from a remote track until it ends
func (s *Session) readTrack(remote *webrtc.TrackRemote, ts *trackState) {
	defer s.endTrack(ts.track.Sid())

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		pkt, _, err := remote.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Printf("Remote track %s closed", ts.track.Sid())
			} else {
				log.Printf("RTP read error on %s: %v", ts.track.Sid(), err)
			}
			return
		}

		if err := s.handlePacket(ts, pkt); err != nil {
			log.Printf("Track %s: %v", ts.track.Sid(), err)
		}
	}
}

// Close tears down the peer connection and the WHEP resource
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	var err error
	if s.pc != nil {
		err = s.pc.Close()
	}
	if s.whep != nil && s.resource != "" {
		ctx, cancel := context.WithTimeout(context.Background(), whepTimeout)
		if delErr := s.whep.deleteResource(ctx, s.resource); delErr != nil {
			log.Printf("Failed to delete WHEP resource: %v", delErr)
		}
		cancel()
	}

	s.room.Disconnect()

	s.mu.Lock()
	handles := make([]stream.Handle, 0, len(s.streams))
	for h := range s.streams {
		handles = append(handles, h)
	}
	tracks := make([]*trackState, 0, len(s.tracks))
	for _, ts := range s.tracks {
		tracks = append(tracks, ts)
	}
	s.mu.Unlock()

	for _, h := range handles {
		s.subscribers.Dispatch(stream.Event{Handle: h, Kind: stream.EventStreamEnded})
	}
	for _, ts := range tracks {
		ts.decoder.Close()
	}

	log.Printf("WHEP session closed")
	return err
}

// Config configures a WHEP session
type Config struct {
	// Endpoint is the WHEP URL to POST the offer to
	Endpoint string

	// Room names the local room model (default: endpoint path)
	Room string

	// BearerToken is sent as Authorization when set
	BearerToken string

	// ICEServers lists STUN/TURN URLs
	ICEServers []string
}

// DialWHEP negotiates a receive-only audio session with a WHEP endpoint
func DialWHEP(ctx context.Context, cfg Config) (*Session, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid WHEP endpoint %q", cfg.Endpoint)
	}
	roomName := cfg.Room
	if roomName == "" {
		roomName = strings.Trim(u.Path, "/")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetFireOnTrackBeforeFirstRTP(true)
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithSettingEngine(settingEngine))

	var iceServers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: cfg.ICEServers})
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	s := newSession(roomName, u.Host)
	s.pc = pc
	s.whep = newWHEPClient(cfg.BearerToken)

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		codec := remote.Codec()
		log.Printf("OnTrack: %s, codec: %s", remote.ID(), codec.MimeType)
		if remote.Kind() != webrtc.RTPCodecTypeAudio || !strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus) {
			return
		}

		ts, err := s.addTrack(remote.ID(), remote.StreamID(), int(codec.Channels))
		if err != nil {
			log.Printf("Ignoring track %s: %v", remote.ID(), err)
			return
		}
		go s.readTrack(remote, ts)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("Peer connection state: %s", state)
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			go s.Close()
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}

	answer, resource, err := s.whep.postOffer(ctx, cfg.Endpoint, pc.LocalDescription().SDP)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.resource = resource

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	log.Printf("WHEP session negotiated with %s", cfg.Endpoint)
	return s, nil
}
