// ABOUTME: Binary audio frame encoding
// ABOUTME: Header carries the stream handle and format ahead of the codec payload
package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// AudioFrameMessageType is the binary message type ID for audio frames
	AudioFrameMessageType = 4

	// AudioFrameHeaderSize is type(1) + handle(8) + rate(4) + channels(2) + samples(4) + codec(1)
	AudioFrameHeaderSize = 20
)

// CodecID identifies the payload codec of a binary frame
type CodecID byte

const (
	CodecPCM  CodecID = 0
	CodecOpus CodecID = 1
)

// String returns the codec name used in control messages
func (c CodecID) String() string {
	switch c {
	case CodecPCM:
		return "pcm"
	case CodecOpus:
		return "opus"
	default:
		return fmt.Sprintf("unknown(%d)", byte(c))
	}
}

// CodecFromName maps a control message codec name to its frame ID
func CodecFromName(name string) (CodecID, error) {
	switch name {
	case "pcm":
		return CodecPCM, nil
	case "opus":
		return CodecOpus, nil
	default:
		return 0, fmt.Errorf("unsupported codec: %s", name)
	}
}

// AudioFrameHeader describes one binary audio frame
type AudioFrameHeader struct {
	Handle            uint64
	SampleRate        uint32
	Channels          uint16
	SamplesPerChannel uint32
	Codec             CodecID
}

// EncodeAudioFrame builds a binary audio frame message
func EncodeAudioFrame(h AudioFrameHeader, payload []byte) []byte {
	msg := make([]byte, AudioFrameHeaderSize+len(payload))
	msg[0] = AudioFrameMessageType
	binary.BigEndian.PutUint64(msg[1:9], h.Handle)
	binary.BigEndian.PutUint32(msg[9:13], h.SampleRate)
	binary.BigEndian.PutUint16(msg[13:15], h.Channels)
	binary.BigEndian.PutUint32(msg[15:19], h.SamplesPerChannel)
	msg[19] = byte(h.Codec)
	copy(msg[AudioFrameHeaderSize:], payload)
	return msg
}

// DecodeAudioFrame splits a binary audio frame into its header and payload.
// The payload aliases data.
func DecodeAudioFrame(data []byte) (AudioFrameHeader, []byte, error) {
	if len(data) < AudioFrameHeaderSize {
		return AudioFrameHeader{}, nil, fmt.Errorf("audio frame too short: %d bytes", len(data))
	}
	if data[0] != AudioFrameMessageType {
		return AudioFrameHeader{}, nil, fmt.Errorf("unknown binary message type: %d", data[0])
	}

	h := AudioFrameHeader{
		Handle:            binary.BigEndian.Uint64(data[1:9]),
		SampleRate:        binary.BigEndian.Uint32(data[9:13]),
		Channels:          binary.BigEndian.Uint16(data[13:15]),
		SamplesPerChannel: binary.BigEndian.Uint32(data[15:19]),
		Codec:             CodecID(data[19]),
	}
	return h, data[AudioFrameHeaderSize:], nil
}
