// ABOUTME: WebRTC transport package
// ABOUTME: Receives room audio from a WHEP endpoint with pion
// Package rtc implements stream.Transport over a WebRTC peer connection
// negotiated with WHEP. Remote Opus tracks are decoded to 48kHz S16 frames.
//
//	s, err := rtc.DialWHEP(ctx, rtc.Config{Endpoint: "https://sfu.example/whep/studio"})
//	track, err := s.WaitForTrack(ctx)
//	as, err := stream.New(ctx, s, track, stream.Options{})
package rtc
