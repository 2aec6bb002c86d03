// ABOUTME: PCM audio decoder
// ABOUTME: Decodes 16-bit and 24-bit little-endian PCM to int16 samples
package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/resonate-audio/trackbridge/pkg/audio"
)

// PCMDecoder decodes PCM audio
type PCMDecoder struct {
	bitDepth int
	samples  []int16
}

// NewPCM creates a new PCM decoder
func NewPCM(format audio.Format) (Decoder, error) {
	if format.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", format.Codec)
	}

	bitDepth := format.BitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	if bitDepth != 16 && bitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", format.BitDepth)
	}

	return &PCMDecoder{
		bitDepth: bitDepth,
	}, nil
}

// Decode converts PCM bytes to int16 samples. 24-bit input is truncated to
// its upper 16 bits.
func (d *PCMDecoder) Decode(data []byte) ([]int16, error) {
	width := d.bitDepth / 8
	if len(data)%width != 0 {
		return nil, fmt.Errorf("pcm payload of %d bytes is not a multiple of %d", len(data), width)
	}

	n := len(data) / width
	if cap(d.samples) < n {
		d.samples = make([]int16, n)
	}
	samples := d.samples[:n]

	if d.bitDepth == 24 {
		for i := 0; i < n; i++ {
			b := [3]byte{data[i*3], data[i*3+1], data[i*3+2]}
			samples[i] = int16(audio.SampleFrom24Bit(b) >> 8)
		}
		return samples, nil
	}

	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// Close releases resources
func (d *PCMDecoder) Close() error {
	return nil
}
