package sdpx

import (
	"sort"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/whep/internal/domain"
)

// TrickleCandidate is one local ICE candidate addressed to a media
// section by positional index.
type TrickleCandidate struct {
	Candidate  string // attribute value, with or without the "a=" prefix
	MediaIndex int
}

// FromInit converts transport-engine candidates to trickle candidates,
// defaulting to media index 0 when the engine did not set one.
func FromInit(cands []webrtc.ICECandidateInit) []TrickleCandidate {
	out := make([]TrickleCandidate, 0, len(cands))
	for _, c := range cands {
		idx := 0
		if c.SDPMLineIndex != nil {
			idx = int(*c.SDPMLineIndex)
		}
		out = append(out, TrickleCandidate{Candidate: c.Candidate, MediaIndex: idx})
	}
	return out
}

// Fragment builds an application/trickle-ice-sdpfrag body: the shared
// ICE credentials followed by one m= block per media index that has
// candidates, ascending. Indices without candidates are omitted.
func Fragment(info *domain.OfferInfo, cands []TrickleCandidate) string {
	byIndex := make(map[int][]TrickleCandidate)
	for _, c := range cands {
		if c.MediaIndex < 0 || c.MediaIndex >= len(info.Media) {
			continue
		}
		byIndex[c.MediaIndex] = append(byIndex[c.MediaIndex], c)
	}
	if len(byIndex) == 0 {
		return ""
	}

	indices := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	var b strings.Builder
	b.WriteString("a=ice-ufrag:" + info.UsernameFragment + "\r\n")
	b.WriteString("a=ice-pwd:" + info.Password + "\r\n")
	for _, i := range indices {
		sec := info.Media[i]
		b.WriteString("m=" + sec.Header + "\r\n")
		if sec.MID != "" {
			b.WriteString("a=mid:" + sec.MID + "\r\n")
		}
		for _, c := range byIndex[i] {
			b.WriteString("a=" + strings.TrimPrefix(c.Candidate, "a=") + "\r\n")
		}
	}
	return b.String()
}
