package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/whep/internal/domain"
)

// MediaConnection abstracts the peer-to-peer transport engine. The
// orchestrator owns exactly one per session attempt and must
// DetachHandlers before Close so a stale session's late events cannot
// drive the next session's state.
type MediaConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	RestartICE() error
	Close()

	ConnectionState() webrtc.PeerConnectionState
	// InboundVideoBytes reports the cumulative received byte count for
	// inbound video streams, audio excluded.
	InboundVideoBytes() (uint64, error)

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// DetachHandlers drops all registered event callbacks.
	DetachHandlers()
}

// MediaDialer opens transport connections. A fresh connection is
// dialed for every session attempt and for every capability probe.
type MediaDialer interface {
	Dial(servers []domain.ICEServer) (MediaConnection, error)
	// DialProbe opens a throwaway connection with a single receive-only
	// transceiver of the given kind.
	DialProbe(kind domain.MediaKind) (ProbeConnection, error)
}

// ProbeConnection is the narrow slice of a transport connection the
// codec capability probe needs. Probe connections are throwaway: torn
// down after a single offer/answer round regardless of outcome.
type ProbeConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	Close()
}
