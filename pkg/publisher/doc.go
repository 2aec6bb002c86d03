// ABOUTME: Trackbridge publishing server package
// ABOUTME: Serves a room of live audio tracks over WebSocket
// Package publisher serves trackbridge rooms.
//
// A Server hosts one room with one publishing participant. Each configured
// Track becomes a remote audio track that clients can open; the source is
// read every 20ms and encoded per subscriber as PCM or Opus.
//
// Example:
//
//	srv, err := publisher.NewServer(publisher.ServerConfig{
//	    Name:   "Studio",
//	    Room:   "main",
//	    Tracks: []publisher.Track{{Name: "tone", Source: publisher.NewTestTone(48000, 2)}},
//	})
//	go srv.Start()
//	defer srv.Stop()
package publisher
