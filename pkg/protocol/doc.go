// ABOUTME: Trackbridge wire protocol package
// ABOUTME: Defines control messages, the binary frame format and the WebSocket client
// Package protocol implements the trackbridge wire protocol.
//
// Control messages are JSON envelopes of the form {"type": ..., "payload": ...}.
// Audio travels in binary messages: a 20-byte big-endian header naming the
// stream handle and format, followed by the codec payload.
//
// Client implements stream.Transport, so a joined room's tracks can be bridged
// straight into an audio device:
//
//	client := protocol.NewClient(protocol.Config{ServerAddr: "localhost:8927", Name: "Kitchen"})
//	err := client.Connect(ctx)
//	r, err := client.JoinRoom(ctx, "studio", "kitchen")
//	track, _ := r.FindTrack("")
//	s, err := stream.New(ctx, client, track, stream.Options{})
package protocol
