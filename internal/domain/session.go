package domain

import "github.com/pion/webrtc/v4"

type SessionID string

// ICEServer is one STUN/TURN entry, either configured up front or
// advertised by the endpoint in a Link: rel="ice-server" header.
type ICEServer struct {
	URL        string
	Username   string
	Credential string
}

// Session is one active egress attempt. URL stays empty until the
// endpoint accepts the offer; while it is empty, locally discovered
// ICE candidates accumulate in Queued and are flushed as one batch
// the moment URL becomes known.
type Session struct {
	ID     SessionID
	URL    string
	Offer  *OfferInfo
	Queued []webrtc.ICECandidateInit
}

// OfferInfo is the subset of the local offer needed later for
// trickle-ICE fragment construction.
type OfferInfo struct {
	UsernameFragment string
	Password         string
	Media            []MediaSection
}

// MediaSection is one m= header of the offer, in appearance order.
// Ordering matters: trickle candidates reference sections by index.
type MediaSection struct {
	Header string // the m= line without the "m=" prefix
	MID    string
}
