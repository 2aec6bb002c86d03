// ABOUTME: MP3 file and HTTP stream sources
// ABOUTME: Decodes with go-mp3, which always yields 16-bit stereo
package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// mp3Channels is the decoder's fixed output layout
const mp3Channels = 2

// MP3 reads from an MP3 file, looping at the end
type MP3 struct {
	file       *os.File
	decoder    *mp3.Decoder
	sampleRate int
	title      string
	buf        []byte
}

// NewMP3 opens an MP3 file
func NewMP3(path string) (*MP3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	title := titleFromPath(path)
	log.Printf("Loaded MP3: %s (sample rate: %d Hz)", title, decoder.SampleRate())

	return &MP3{
		file:       f,
		decoder:    decoder,
		sampleRate: decoder.SampleRate(),
		title:      title,
	}, nil
}

func (s *MP3) Read(samples []int16) (int, error) {
	n, err := readS16(s.decoder, &s.buf, samples)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}

	if errors.Is(err, io.EOF) {
		if _, seekErr := s.file.Seek(0, io.SeekStart); seekErr != nil {
			return n, fmt.Errorf("failed to seek to start: %w", seekErr)
		}
		decoder, decErr := mp3.NewDecoder(s.file)
		if decErr != nil {
			return n, fmt.Errorf("failed to restart decoder: %w", decErr)
		}
		s.decoder = decoder
	}

	return n, nil
}

func (s *MP3) SampleRate() int { return s.sampleRate }
func (s *MP3) Channels() int   { return mp3Channels }
func (s *MP3) Title() string   { return s.title }
func (s *MP3) Close() error    { return s.file.Close() }

// HTTPMP3 streams MP3 from an HTTP URL. It ends with the response body.
type HTTPMP3 struct {
	url        string
	response   *http.Response
	decoder    *mp3.Decoder
	sampleRate int
	buf        []byte
}

// NewHTTPMP3 starts fetching an MP3 stream
func NewHTTPMP3(url string) (*HTTPMP3, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch HTTP stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	decoder, err := mp3.NewDecoder(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to decode MP3 stream: %w", err)
	}

	log.Printf("Streaming MP3 from HTTP: %s (sample rate: %d Hz)", url, decoder.SampleRate())

	return &HTTPMP3{
		url:        url,
		response:   resp,
		decoder:    decoder,
		sampleRate: decoder.SampleRate(),
	}, nil
}

func (s *HTTPMP3) Read(samples []int16) (int, error) {
	return readS16(s.decoder, &s.buf, samples)
}

func (s *HTTPMP3) SampleRate() int { return s.sampleRate }
func (s *HTTPMP3) Channels() int   { return mp3Channels }
func (s *HTTPMP3) Close() error {
	if s.response != nil {
		return s.response.Body.Close()
	}
	return nil
}

// readS16 reads whole little-endian samples from r into samples, reusing *buf
func readS16(r io.Reader, buf *[]byte, samples []int16) (int, error) {
	need := len(samples) * 2
	if cap(*buf) < need {
		*buf = make([]byte, need)
	}
	b := (*buf)[:need]

	n, err := io.ReadFull(r, b)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}

	count := n / 2
	for i := 0; i < count; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return count, err
}
