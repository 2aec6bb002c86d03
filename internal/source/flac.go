// ABOUTME: FLAC file source
// ABOUTME: Decodes with mewkiz/flac and scales any bit depth to 16-bit
package source

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/mewkiz/flac"
)

// FLAC reads from a FLAC file, looping at the end
type FLAC struct {
	file       *os.File
	stream     *flac.Stream
	sampleRate int
	channels   int
	bitDepth   int
	title      string

	// Interleaved samples of the current block not yet returned
	block   []int16
	pending []int16
}

// NewFLAC opens a FLAC file
func NewFLAC(path string) (*FLAC, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	s := &FLAC{
		file:       f,
		stream:     stream,
		sampleRate: int(info.SampleRate),
		channels:   int(info.NChannels),
		bitDepth:   int(info.BitsPerSample),
		title:      titleFromPath(path),
	}

	log.Printf("Loaded FLAC: %s (sample rate: %d Hz, channels: %d, bit depth: %d)",
		s.title, s.sampleRate, s.channels, s.bitDepth)
	return s, nil
}

func (s *FLAC) Read(samples []int16) (int, error) {
	filled := 0
	restarted := false

	for filled < len(samples) {
		if len(s.pending) > 0 {
			n := copy(samples[filled:], s.pending)
			s.pending = s.pending[n:]
			filled += n
			continue
		}

		frame, err := s.stream.ParseNext()
		if errors.Is(err, io.EOF) {
			// An empty file would otherwise loop forever
			if restarted {
				return filled, io.EOF
			}
			if err := s.restart(); err != nil {
				return filled, err
			}
			restarted = true
			continue
		}
		if err != nil {
			return filled, err
		}

		channels := make([][]int32, 0, len(frame.Subframes))
		for _, sub := range frame.Subframes {
			channels = append(channels, sub.Samples)
		}
		s.block = interleaveS16(s.block[:0], channels, int(frame.BlockSize), s.bitDepth)
		s.pending = s.block
	}

	return filled, nil
}

// restart seeks to the beginning and reopens the stream
func (s *FLAC) restart() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	stream, err := flac.New(s.file)
	if err != nil {
		return fmt.Errorf("failed to restart stream: %w", err)
	}
	s.stream = stream
	return nil
}

// interleaveS16 appends blockSize frames of per-channel samples at bitDepth
// to dst as interleaved 16-bit samples
func interleaveS16(dst []int16, channels [][]int32, blockSize, bitDepth int) []int16 {
	shift := bitDepth - 16
	for i := 0; i < blockSize; i++ {
		for _, ch := range channels {
			v := ch[i]
			if shift > 0 {
				v >>= shift
			} else if shift < 0 {
				v <<= -shift
			}
			dst = append(dst, int16(v))
		}
	}
	return dst
}

func (s *FLAC) SampleRate() int { return s.sampleRate }
func (s *FLAC) Channels() int   { return s.channels }
func (s *FLAC) Title() string   { return s.title }
func (s *FLAC) Close() error    { return s.file.Close() }
