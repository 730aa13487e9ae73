// Package sdpx rewrites locally generated SDP offers: it adds payload
// types for codecs the endpoint's default offer would omit, extracts
// the pieces needed for trickle-ICE fragments, and drives the codec
// capability probe.
package sdpx

import (
	"strconv"

	"github.com/pion/sdp/v3"

	"github.com/dkeye/whep/internal/core"
)

// Dynamic payload types live in 30..127; 64..95 are reserved by the
// RTP/RTCP multiplexing convention and never handed out.
const (
	ptMin        = 30
	ptMax        = 127
	ptReservedLo = 64
	ptReservedHi = 96 // exclusive
)

// PayloadAllocator hands out payload type numbers not yet present in
// one offer. Scoped to a single offer-construction pass.
type PayloadAllocator struct {
	used map[uint8]bool
}

func NewPayloadAllocator() *PayloadAllocator {
	return &PayloadAllocator{used: make(map[uint8]bool)}
}

// AllocatorForSession seeds the allocator with every payload type the
// offer already declares, across all media sections.
func AllocatorForSession(sd *sdp.SessionDescription) *PayloadAllocator {
	a := NewPayloadAllocator()
	for _, md := range sd.MediaDescriptions {
		for _, f := range md.MediaName.Formats {
			if n, err := strconv.Atoi(f); err == nil && n >= 0 && n <= 127 {
				a.Reserve(uint8(n))
			}
		}
	}
	return a
}

func (a *PayloadAllocator) Reserve(pt uint8) { a.used[pt] = true }

// Next returns the lowest free payload type, recording it as used.
func (a *PayloadAllocator) Next() (uint8, error) {
	for pt := ptMin; pt <= ptMax; pt++ {
		if pt >= ptReservedLo && pt < ptReservedHi {
			continue
		}
		if a.used[uint8(pt)] {
			continue
		}
		a.used[uint8(pt)] = true
		return uint8(pt), nil
	}
	return 0, core.NewError(core.KindSignaling, "payload type space exhausted")
}
