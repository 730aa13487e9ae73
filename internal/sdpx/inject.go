package sdpx

import (
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/dkeye/whep/internal/core"
	"github.com/dkeye/whep/internal/domain"
)

// InjectCapabilities appends one payload-type entry per capability to
// the matching media section of the offer. Capabilities whose media
// section is absent are skipped silently: many offers carry no audio
// section at all. The rewritten offer is returned.
func InjectCapabilities(offer string, caps []domain.CodecCapability) (string, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(offer)); err != nil {
		return "", core.WrapError(core.KindSignaling, err, "parse offer")
	}

	alloc := AllocatorForSession(&sd)
	for _, cap := range caps {
		if _, err := injectOne(&sd, alloc, cap); err != nil {
			return "", err
		}
	}

	out, err := sd.Marshal()
	if err != nil {
		return "", core.WrapError(core.KindSignaling, err, "marshal offer")
	}
	return string(out), nil
}

// injectOne adds cap to its media section using the next free payload
// type. Returns the allocated type, or 0 when no section matched.
func injectOne(sd *sdp.SessionDescription, alloc *PayloadAllocator, cap domain.CodecCapability) (uint8, error) {
	md := findMedia(sd, string(cap.Kind))
	if md == nil {
		return 0, nil
	}
	pt, err := alloc.Next()
	if err != nil {
		return 0, err
	}
	n := strconv.Itoa(int(pt))
	md.MediaName.Formats = append(md.MediaName.Formats, n)
	md.Attributes = append(md.Attributes, sdp.Attribute{Key: "rtpmap", Value: n + " " + cap.RTPMap()})
	if cap.Fmtp != "" {
		md.Attributes = append(md.Attributes, sdp.Attribute{Key: "fmtp", Value: n + " " + cap.Fmtp})
	}
	return pt, nil
}

// EnsureStereo makes the primary opus payload advertise stereo in both
// directions. Idempotent; a missing opus rtpmap is not an error.
func EnsureStereo(offer string) (string, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(offer)); err != nil {
		return "", core.WrapError(core.KindSignaling, err, "parse offer")
	}

	md := findMedia(&sd, "audio")
	if md == nil {
		return offer, nil
	}
	pt := opusPayloadType(md)
	if pt == "" {
		return offer, nil
	}

	found := false
	for i := range md.Attributes {
		attr := &md.Attributes[i]
		if attr.Key != "fmtp" || !strings.HasPrefix(attr.Value, pt+" ") {
			continue
		}
		params := strings.TrimPrefix(attr.Value, pt+" ")
		params = ensureParam(params, "stereo=1")
		params = ensureParam(params, "sprop-stereo=1")
		attr.Value = pt + " " + params
		found = true
		break
	}
	if !found {
		md.Attributes = append(md.Attributes, sdp.Attribute{
			Key: "fmtp", Value: pt + " stereo=1;sprop-stereo=1",
		})
	}

	out, err := sd.Marshal()
	if err != nil {
		return "", core.WrapError(core.KindSignaling, err, "marshal offer")
	}
	return string(out), nil
}

// ensureParam appends a key=value token unless it is already present.
// Token comparison, not substring: "sprop-stereo=1" must not satisfy a
// check for "stereo=1".
func ensureParam(params, kv string) string {
	for _, tok := range strings.Split(params, ";") {
		if strings.TrimSpace(tok) == kv {
			return params
		}
	}
	if strings.TrimSpace(params) == "" {
		return kv
	}
	return params + ";" + kv
}

func findMedia(sd *sdp.SessionDescription, kind string) *sdp.MediaDescription {
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media == kind {
			return md
		}
	}
	return nil
}

// opusPayloadType returns the payload type of the first rtpmap entry
// advertising two-channel opus, or "".
func opusPayloadType(md *sdp.MediaDescription) string {
	for _, attr := range md.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		parts := strings.SplitN(attr.Value, " ", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(parts[1]), "opus/48000/2") {
			return parts[0]
		}
	}
	return ""
}
