// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for wire codecs used by the publisher
package encode

import (
	"fmt"

	"github.com/resonate-audio/trackbridge/pkg/audio"
)

// Encoder encodes interleaved int16 samples to a wire payload
type Encoder interface {
	// Encode converts PCM samples to encoded audio data
	Encode(samples []int16) ([]byte, error)

	// Close releases encoder resources
	Close() error
}

// New returns the encoder for format.Codec
func New(format audio.Format) (Encoder, error) {
	switch format.Codec {
	case "pcm":
		return NewPCM(format)
	case "opus":
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("unsupported codec: %s", format.Codec)
	}
}
