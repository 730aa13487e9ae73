package core

import "github.com/pion/webrtc/v4"

// MediaSink is the rendering side of the client: whatever consumes the
// inbound tracks (an RTP drain in the headless player, a DOM element
// in a browser binding). The playback monitor drives recovery through
// this interface only.
type MediaSink interface {
	// Attach starts consuming an inbound track.
	Attach(track *webrtc.TrackRemote)
	Detach()

	// Play starts playback; muted retries are the caller's business.
	Play(muted bool) error
	Pause()
	Resume()
	Paused() bool

	// Position is the playback position in seconds since Attach.
	Position() float64

	// Reset clears the media source, forces a reset and reattaches the
	// same source. Used by bounded self-recovery after a fatal error.
	Reset() error

	// OnFatalError registers a callback for element-level fatal errors.
	OnFatalError(func(error))
}
