// ABOUTME: Trackbridge protocol message type definitions
// ABOUTME: Defines JSON control messages exchanged over the WebSocket
package protocol

import "encoding/json"

// Control message types
const (
	TypeClientHello     = "client/hello"
	TypeServerHello     = "server/hello"
	TypeClientGoodbye   = "client/goodbye"
	TypeRoomJoin        = "room/join"
	TypeRoomJoined      = "room/joined"
	TypeParticipantLeft = "participant/left"
	TypeStreamOpen      = "stream/open"
	TypeStreamOpened    = "stream/opened"
	TypeStreamClose     = "stream/close"
	TypeStreamEnded     = "stream/ended"
)

// StreamTypeNative asks for decodable audio frames for a stream
const StreamTypeNative = "native"

// Message is the top-level wrapper for all outgoing protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Envelope is an incoming message whose payload is decoded once its type is known
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ClientHello is sent by clients to initiate the handshake
type ClientHello struct {
	ClientID        string      `json:"client_id"`
	Name            string      `json:"name"`
	Version         int         `json:"version"`
	DeviceInfo      *DeviceInfo `json:"device_info,omitempty"`
	SupportedCodecs []string    `json:"supported_codecs"`
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID string `json:"server_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ClientGoodbye is sent before graceful disconnect
type ClientGoodbye struct {
	Reason string `json:"reason"` // "shutdown", "restart", "user_request"
}

// RoomJoin asks the server to join a room
type RoomJoin struct {
	Room     string `json:"room"`
	Identity string `json:"identity"`
}

// RoomJoined lists the room's publishing participants
type RoomJoined struct {
	RoomHandle   uint64            `json:"room_handle"`
	Room         string            `json:"room"`
	Participants []ParticipantInfo `json:"participants"`
}

// ParticipantInfo describes a remote participant and its tracks
type ParticipantInfo struct {
	Sid      string      `json:"sid"`
	Identity string      `json:"identity"`
	Tracks   []TrackInfo `json:"tracks"`
}

// TrackInfo describes a published audio track
type TrackInfo struct {
	Sid        string `json:"sid"`
	Name       string `json:"name"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth,omitempty"`
}

// ParticipantLeft reports that a participant left the room
type ParticipantLeft struct {
	Sid string `json:"sid"`
}

// StreamOpen asks the server to start sending a track
type StreamOpen struct {
	RequestID      string `json:"request_id"`
	RoomHandle     uint64 `json:"room_handle"`
	ParticipantSid string `json:"participant_sid"`
	TrackSid       string `json:"track_sid"`
	Type           string `json:"type"`
	Codec          string `json:"codec,omitempty"` // preferred wire codec
}

// StreamOpened answers a stream/open request
type StreamOpened struct {
	RequestID  string `json:"request_id"`
	Handle     uint64 `json:"handle,omitempty"`
	Codec      string `json:"codec,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	BitDepth   int    `json:"bit_depth,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StreamClose stops a stream and frees its handle
type StreamClose struct {
	Handle uint64 `json:"handle"`
}

// StreamEnded reports that the track behind a stream stopped publishing
type StreamEnded struct {
	Handle uint64 `json:"handle"`
}
