// ABOUTME: Audio sources for the publishing server
// ABOUTME: Opens MP3 and FLAC files, HTTP MP3 streams or a test tone by path
package source

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/resonate-audio/trackbridge/pkg/audio/resample"
	"github.com/resonate-audio/trackbridge/pkg/publisher"
)

// Open creates a source from a file path or HTTP URL. An empty path gives a
// test tone. A non-zero targetRate resamples sources at other rates.
func Open(pathOrURL string, targetRate int) (publisher.Source, error) {
	var src publisher.Source
	var err error

	switch {
	case pathOrURL == "":
		rate := targetRate
		if rate == 0 {
			rate = publisher.DefaultSampleRate
		}
		return publisher.NewTestTone(rate, publisher.DefaultChannels), nil

	case strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://"):
		log.Printf("Streaming from HTTP URL: %s", pathOrURL)
		src, err = NewHTTPMP3(pathOrURL)

	default:
		if _, statErr := os.Stat(pathOrURL); statErr != nil {
			return nil, fmt.Errorf("audio file not found: %s", pathOrURL)
		}

		switch ext := strings.ToLower(filepath.Ext(pathOrURL)); ext {
		case ".mp3":
			src, err = NewMP3(pathOrURL)
		case ".flac":
			src, err = NewFLAC(pathOrURL)
		default:
			return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac)", ext)
		}
	}
	if err != nil {
		return nil, err
	}

	if targetRate > 0 && src.SampleRate() != targetRate {
		log.Printf("Resampling %dHz to %dHz", src.SampleRate(), targetRate)
		return NewResampled(src, targetRate), nil
	}
	return src, nil
}

// Title names a source after its file or the last segment of its URL
func Title(pathOrURL string) string {
	if pathOrURL == "" {
		return ""
	}
	if u, err := url.Parse(pathOrURL); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if u.Path == "" || u.Path == "/" {
			return u.Host
		}
		return titleFromPath(path.Base(u.Path))
	}
	return titleFromPath(pathOrURL)
}

// titleFromPath returns the file name without extension
func titleFromPath(p string) string {
	name := filepath.Base(p)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Resampled wraps a source and converts it to a target sample rate
type Resampled struct {
	source     publisher.Source
	resampler  *resample.Resampler
	targetRate int
	input      []int16
	output     []int16
	pending    []int16
	eof        bool
}

// NewResampled creates a resampling wrapper around a source
func NewResampled(source publisher.Source, targetRate int) *Resampled {
	inputRate := source.SampleRate()
	channels := source.Channels()

	// 100ms of input per refill
	inputSamples := inputRate * channels / 10
	r := resample.New(inputRate, targetRate, channels)

	return &Resampled{
		source:     source,
		resampler:  r,
		targetRate: targetRate,
		input:      make([]int16, inputSamples),
		output:     make([]int16, r.OutputSamplesNeeded(inputSamples)),
	}
}

// Read fills samples from resampled output, refilling from the source as needed
func (r *Resampled) Read(samples []int16) (int, error) {
	filled := 0
	for filled < len(samples) {
		if len(r.pending) == 0 {
			if r.eof {
				break
			}
			if err := r.refill(); err != nil {
				return filled, err
			}
			continue
		}

		n := copy(samples[filled:], r.pending)
		r.pending = r.pending[n:]
		filled += n
	}

	if filled == 0 && r.eof {
		return 0, io.EOF
	}
	return filled, nil
}

func (r *Resampled) refill() error {
	n, err := r.source.Read(r.input)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if errors.Is(err, io.EOF) {
		r.eof = true
	}

	m := r.resampler.Resample(r.input[:n], r.output)
	r.pending = r.output[:m]
	return nil
}

func (r *Resampled) SampleRate() int { return r.targetRate }
func (r *Resampled) Channels() int   { return r.source.Channels() }
func (r *Resampled) Close() error    { return r.source.Close() }
