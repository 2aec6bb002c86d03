// Package room models the session layer a remote audio track lives in.
//
// A Room owns its Participants, and each Participant owns the
// RemoteAudioTracks it publishes. Tracks point back at their room and
// participant through weak pointers, so holding a track never keeps a left
// participant or a closed room alive. Resolving either reference fails once
// the entity is gone, which is how an audio stream refuses to open against a
// stale track.
package room
