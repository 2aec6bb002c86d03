// ABOUTME: Unit tests for PCM encoder
// ABOUTME: Tests 16-bit and 24-bit PCM encoding
package encode

import (
	"bytes"
	"strings"
	"testing"

	"github.com/resonate-audio/trackbridge/pkg/audio"
)

func TestNewPCM(t *testing.T) {
	tests := []struct {
		name        string
		format      audio.Format
		errContains string
	}{
		{"valid 16-bit PCM", audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}, ""},
		{"valid 24-bit PCM", audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 24}, ""},
		{"invalid codec", audio.Format{Codec: "opus", SampleRate: 48000, Channels: 2, BitDepth: 16}, "invalid codec"},
		{"unsupported bit depth", audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 32}, "unsupported bit depth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoder, err := NewPCM(tt.format)
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("NewPCM() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPCM() unexpected error = %v", err)
			}
			if encoder == nil {
				t.Fatal("NewPCM() returned nil encoder")
			}
		})
	}
}

func TestPCMEncoder_Encode16Bit(t *testing.T) {
	encoder, err := NewPCM(audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16})
	if err != nil {
		t.Fatalf("NewPCM() failed: %v", err)
	}

	output, err := encoder.Encode([]int16{16384, -32768, -1})
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	expected := []byte{0x00, 0x40, 0x00, 0x80, 0xFF, 0xFF}
	if !bytes.Equal(output, expected) {
		t.Errorf("Encode() = %v, want %v", output, expected)
	}
}

func TestPCMEncoder_Encode24Bit(t *testing.T) {
	encoder, err := NewPCM(audio.Format{Codec: "pcm", SampleRate: 96000, Channels: 2, BitDepth: 24})
	if err != nil {
		t.Fatalf("NewPCM() failed: %v", err)
	}

	output, err := encoder.Encode([]int16{16384, -1})
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	// 16384<<8 = 0x400000, -1<<8 = 0xFFFF00
	expected := []byte{0x00, 0x00, 0x40, 0x00, 0xFF, 0xFF}
	if !bytes.Equal(output, expected) {
		t.Errorf("Encode() = %v, want %v", output, expected)
	}
}
