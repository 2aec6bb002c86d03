// ABOUTME: Decoder interface definition
// ABOUTME: Common interface for wire codecs feeding the stream bridge
package decode

import (
	"fmt"

	"github.com/resonate-audio/trackbridge/pkg/audio"
)

// Decoder decodes one wire payload into interleaved int16 samples.
// The returned slice is reused by the next call to Decode.
type Decoder interface {
	// Decode converts encoded audio data to PCM samples
	Decode(data []byte) ([]int16, error)

	// Close releases decoder resources
	Close() error
}

// New returns the decoder for format.Codec
func New(format audio.Format) (Decoder, error) {
	switch format.Codec {
	case "pcm":
		return NewPCM(format)
	case "opus":
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("unsupported codec: %s", format.Codec)
	}
}
