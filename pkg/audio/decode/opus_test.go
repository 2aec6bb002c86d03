// ABOUTME: Tests for Opus decoder
// ABOUTME: Tests Opus decoder creation and decoding of encoded packets
package decode

import (
	"testing"

	"github.com/resonate-audio/trackbridge/pkg/audio"
	"github.com/resonate-audio/trackbridge/pkg/audio/encode"
)

func TestNewOpus(t *testing.T) {
	tests := []struct {
		name     string
		channels int
	}{
		{"stereo", 2},
		{"mono", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoder, err := NewOpus(audio.Format{Codec: "opus", SampleRate: 48000, Channels: tt.channels})
			if err != nil {
				t.Fatalf("failed to create decoder: %v", err)
			}
			if err := decoder.Close(); err != nil {
				t.Errorf("expected Close to succeed, got error: %v", err)
			}
		})
	}
}

func TestNewOpus_InvalidCodec(t *testing.T) {
	decoder, err := NewOpus(audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2})
	if err == nil {
		t.Fatal("expected error for invalid codec, got nil")
	}
	if decoder != nil {
		t.Fatal("expected decoder to be nil for invalid codec")
	}

	expectedError := "invalid codec for Opus decoder: pcm"
	if err.Error() != expectedError {
		t.Errorf("expected error %q, got %q", expectedError, err.Error())
	}
}

func TestOpusDecodeEncodedFrame(t *testing.T) {
	format := audio.Format{Codec: "opus", SampleRate: 48000, Channels: 2, BitDepth: 16}

	encoder, err := encode.NewOpus(format)
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}
	defer encoder.Close()

	decoder, err := NewOpus(format)
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}
	defer decoder.Close()

	// 20ms of stereo at 48kHz
	pcm := make([]int16, 960*2)
	for i := range pcm {
		pcm[i] = int16((i % 100) * 100)
	}

	packet, err := encoder.Encode(pcm)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	samples, err := decoder.Decode(packet)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(samples) != len(pcm) {
		t.Errorf("expected %d samples, got %d", len(pcm), len(samples))
	}
}

func TestOpusDecodeGarbage(t *testing.T) {
	decoder, err := NewOpus(audio.Format{Codec: "opus", SampleRate: 48000, Channels: 2})
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}

	if _, err := decoder.Decode(nil); err == nil {
		t.Error("expected error decoding an empty packet")
	}
}
