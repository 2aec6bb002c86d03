// ABOUTME: Tests for audio types
// ABOUTME: Tests sample conversion and buffer sizing functions
package audio

import (
	"testing"
	"time"
)

func TestS16ToFloat(t *testing.T) {
	tests := []struct {
		name     string
		input    int16
		expected float32
	}{
		{"zero", 0, 0},
		{"half", 16384, 0.5},
		{"negative half", -16384, -0.5},
		{"min", -32768, -1.0},
		{"max", 32767, 32767.0 / 32768.0},
		{"one", 1, 1.0 / 32768.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := S16ToFloat(tt.input)
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestFloatToS16(t *testing.T) {
	tests := []struct {
		name     string
		input    float32
		expected int16
	}{
		{"zero", 0, 0},
		{"half", 0.5, 16384},
		{"min", -1.0, -32768},
		{"clamp high", 1.5, 32767},
		{"clamp low", -1.5, -32768},
		{"one", 1.0, 32767},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FloatToS16(tt.input)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestBufferBytes(t *testing.T) {
	tests := []struct {
		name       string
		channels   int
		sampleRate int
		window     time.Duration
		expected   int
	}{
		{"stereo 48k", 2, 48000, DefaultWindow, 38400},
		{"mono 48k", 1, 48000, DefaultWindow, 19200},
		{"mono 16k", 1, 16000, DefaultWindow, 6400},
		{"stereo 44.1k", 2, 44100, DefaultWindow, 35280},
		{"6ch 48k", 6, 48000, DefaultWindow, 115200},
		{"stereo 48k 100ms", 2, 48000, 100 * time.Millisecond, 19200},
		{"odd rate stays frame aligned", 2, 22051, DefaultWindow, 4410 * 4},
		{"zero channels", 0, 48000, DefaultWindow, 0},
		{"zero rate", 2, 0, DefaultWindow, 0},
		{"zero window", 2, 48000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := BufferBytes(tt.channels, tt.sampleRate, tt.window)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
			if tt.channels > 0 && result%(tt.channels*BytesPerSample) != 0 {
				t.Errorf("capacity %d is not frame aligned for %d channels", result, tt.channels)
			}
		})
	}
}

func TestPutS16AndS16At(t *testing.T) {
	samples := []int16{0, 16384, -16384, 32767, -32768}
	buf := make([]byte, len(samples)*BytesPerSample)

	n := PutS16(buf, samples)
	if n != len(buf) {
		t.Fatalf("expected %d bytes written, got %d", len(buf), n)
	}

	// 16384 is 0x4000 little-endian
	if buf[2] != 0x00 || buf[3] != 0x40 {
		t.Errorf("expected 0x00,0x40 for 16384, got %#x,%#x", buf[2], buf[3])
	}

	for i, want := range samples {
		if got := S16At(buf, i); got != want {
			t.Errorf("sample %d: expected %d, got %d", i, want, got)
		}
	}
}

func TestFormat(t *testing.T) {
	f := Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}
	if !f.Valid() {
		t.Error("expected format to be valid")
	}
	if f.FrameBytes() != 4 {
		t.Errorf("expected 4 frame bytes, got %d", f.FrameBytes())
	}

	if (Format{SampleRate: 48000}).Valid() {
		t.Error("expected zero channels to be invalid")
	}
	if (Format{Channels: 2}).Valid() {
		t.Error("expected zero sample rate to be invalid")
	}
}

func TestSampleFrom24Bit(t *testing.T) {
	tests := []struct {
		name     string
		input    [3]byte
		expected int32
	}{
		{"zero", [3]byte{0, 0, 0}, 0},
		{"positive", [3]byte{0x56, 0x34, 0x12}, 0x123456},
		{"negative", [3]byte{0x00, 0xFF, 0xFF}, -256},
		{"max positive", [3]byte{0xFF, 0xFF, 0x7F}, Max24Bit},
		{"max negative", [3]byte{0x00, 0x00, 0x80}, Min24Bit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleFrom24Bit(tt.input)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
			if back := SampleTo24Bit(result); back != tt.input {
				t.Errorf("repack mismatch: expected %v, got %v", tt.input, back)
			}
		})
	}
}
