// ABOUTME: High-level trackbridge library API
// ABOUTME: Player plays one remote room track through a local output device
// Package trackbridge is the main entry point for library users.
//
// A Player connects to a publisher over WebSocket (or to a WHEP endpoint),
// joins a room, picks an audio track and bridges it into an output device
// through a stream.AudioStream. For lower-level control see the stream,
// protocol, rtc and output packages.
//
// Example:
//
//	player, err := trackbridge.NewPlayer(trackbridge.PlayerConfig{
//	    ServerAddr: "localhost:8927",
//	    PlayerName: "Living Room",
//	    Room:       "main",
//	    Volume:     80,
//	})
//	err = player.Connect(ctx)
//	defer player.Close()
package trackbridge
