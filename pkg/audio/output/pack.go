// ABOUTME: Float32 sample packing for device buffers
// ABOUTME: Writes normalized samples as little-endian IEEE 754 bytes
package output

import (
	"encoding/binary"
	"math"
)

// packFloat32LE writes samples into dst, which must hold len(samples)*4 bytes
func packFloat32LE(dst []byte, samples []float32) {
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}
