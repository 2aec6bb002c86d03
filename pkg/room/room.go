// ABOUTME: Room, participant and remote audio track model
// ABOUTME: Tracks hold weak references so a stream can detect a departed room or participant
package room

import (
	"sync"
	"sync/atomic"
	"weak"

	"github.com/resonate-audio/trackbridge/pkg/audio"
)

// Handle identifies a room on its transport
type Handle uint64

// Room is a joined session holding remote participants
type Room struct {
	handle Handle
	name   string

	mu           sync.RWMutex
	participants map[string]*Participant

	disconnected atomic.Bool
}

// Participant is a remote peer publishing tracks into a room
type Participant struct {
	sid      string
	identity string

	mu     sync.RWMutex
	tracks map[string]*RemoteAudioTrack

	gone atomic.Bool
}

// RemoteAudioTrack is an audio track published by a remote participant.
// It does not keep its room or participant alive.
type RemoteAudioTrack struct {
	sid         string
	name        string
	format      audio.Format
	room        weak.Pointer[Room]
	participant weak.Pointer[Participant]
}

// New creates a room
func New(handle Handle, name string) *Room {
	return &Room{
		handle:       handle,
		name:         name,
		participants: make(map[string]*Participant),
	}
}

// Handle returns the transport handle of the room
func (r *Room) Handle() Handle {
	return r.handle
}

// Name returns the room name
func (r *Room) Name() string {
	return r.name
}

// Connected reports whether the room is still joined
func (r *Room) Connected() bool {
	return !r.disconnected.Load()
}

// Disconnect marks the room and all of its participants as gone
func (r *Room) Disconnect() {
	r.disconnected.Store(true)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.participants {
		p.gone.Store(true)
	}
}

// AddParticipant registers a participant, replacing any previous one with the same sid
func (r *Room) AddParticipant(sid, identity string) *Participant {
	p := &Participant{
		sid:      sid,
		identity: identity,
		tracks:   make(map[string]*RemoteAudioTrack),
	}

	r.mu.Lock()
	if old, ok := r.participants[sid]; ok {
		old.gone.Store(true)
	}
	r.participants[sid] = p
	r.mu.Unlock()
	return p
}

// RemoveParticipant marks a participant as gone and forgets it
func (r *Room) RemoveParticipant(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.participants[sid]; ok {
		p.gone.Store(true)
		delete(r.participants, sid)
	}
}

// Participant looks up a participant by sid
func (r *Room) Participant(sid string) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[sid]
	return p, ok
}

// Participants returns a snapshot of the current participants
func (r *Room) Participants() []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

// AudioTracks returns every audio track published in the room
func (r *Room) AudioTracks() []*RemoteAudioTrack {
	var out []*RemoteAudioTrack
	for _, p := range r.Participants() {
		out = append(out, p.Tracks()...)
	}
	return out
}

// FindTrack returns the first track whose sid or name matches key.
// An empty key selects the first track found.
func (r *Room) FindTrack(key string) (*RemoteAudioTrack, bool) {
	for _, t := range r.AudioTracks() {
		if key == "" || t.sid == key || t.name == key {
			return t, true
		}
	}
	return nil, false
}

// PublishTrack adds a remote audio track to the participant
func (r *Room) PublishTrack(p *Participant, sid, name string, format audio.Format) *RemoteAudioTrack {
	t := &RemoteAudioTrack{
		sid:         sid,
		name:        name,
		format:      format,
		room:        weak.Make(r),
		participant: weak.Make(p),
	}

	p.mu.Lock()
	p.tracks[sid] = t
	p.mu.Unlock()
	return t
}

// Sid returns the participant sid
func (p *Participant) Sid() string {
	return p.sid
}

// Identity returns the participant identity
func (p *Participant) Identity() string {
	return p.identity
}

// Present reports whether the participant is still in the room
func (p *Participant) Present() bool {
	return !p.gone.Load()
}

// Tracks returns a snapshot of the participant's tracks
func (p *Participant) Tracks() []*RemoteAudioTrack {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*RemoteAudioTrack, 0, len(p.tracks))
	for _, t := range p.tracks {
		out = append(out, t)
	}
	return out
}

// Sid returns the track sid
func (t *RemoteAudioTrack) Sid() string {
	return t.sid
}

// Name returns the track name
func (t *RemoteAudioTrack) Name() string {
	return t.name
}

// Format returns the format advertised when the track was published
func (t *RemoteAudioTrack) Format() audio.Format {
	return t.format
}

// Room resolves the track's room. It fails once the room is collected or disconnected.
func (t *RemoteAudioTrack) Room() (*Room, bool) {
	r := t.room.Value()
	if r == nil || !r.Connected() {
		return nil, false
	}
	return r, true
}

// Participant resolves the track's publisher. It fails once the participant
// is collected or has left the room.
func (t *RemoteAudioTrack) Participant() (*Participant, bool) {
	p := t.participant.Value()
	if p == nil || !p.Present() {
		return nil, false
	}
	return p, true
}
