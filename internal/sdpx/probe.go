package sdpx

import (
	"context"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/whep/internal/core"
	"github.com/dkeye/whep/internal/domain"
)

// probeFingerprint never participates in a handshake: the probe
// connection is torn down before DTLS starts.
const probeFingerprint = "sha-256 AA:AD:2F:0A:8D:FF:1C:5E:99:43:B1:77:62:30:C4:DA:" +
	"6C:8C:DE:52:F1:A0:13:F8:28:3E:44:04:2E:D3:1B:E0"

// DetectCapabilities probes every candidate codec against the local
// transport engine and returns the supported subset, in input order.
// For each candidate it builds a throwaway offer carrying only that
// codec as an extra payload type and applies a synthetic answer that
// accepts exactly it; a clean negotiation means the engine supports
// the codec. Computed once per client instance, before the first
// session start.
func DetectCapabilities(ctx context.Context, dialer core.MediaDialer, candidates []domain.CodecCapability) ([]domain.CodecCapability, error) {
	var supported []domain.CodecCapability
	for _, cap := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := probeOne(dialer, cap)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("module", "sdpx").Str("codec", cap.String()).Bool("supported", ok).Msg("capability probed")
		if ok {
			supported = append(supported, cap)
		}
	}
	return supported, nil
}

func probeOne(dialer core.MediaDialer, cap domain.CodecCapability) (bool, error) {
	conn, err := dialer.DialProbe(cap.Kind)
	if err != nil {
		return false, core.WrapError(core.KindOther, err, "dial probe connection")
	}
	defer conn.Close()

	offer, err := conn.CreateOffer()
	if err != nil {
		return false, core.WrapError(core.KindOther, err, "create probe offer")
	}

	// Already advertised by the default offer: no negotiation needed.
	if strings.Contains(strings.ToLower(offer.SDP), strings.ToLower(cap.RTPMap())) {
		return true, nil
	}

	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(offer.SDP)); err != nil {
		return false, core.WrapError(core.KindSignaling, err, "parse probe offer")
	}
	pt, err := injectOne(&sd, AllocatorForSession(&sd), cap)
	if err != nil {
		return false, err
	}
	if pt == 0 {
		return false, nil
	}
	munged, err := sd.Marshal()
	if err != nil {
		return false, core.WrapError(core.KindSignaling, err, "marshal probe offer")
	}

	if err := conn.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: string(munged),
	}); err != nil {
		return false, nil
	}

	answer, err := syntheticAnswer(&sd, pt, cap)
	if err != nil {
		return false, err
	}
	applyErr := conn.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: answer,
	})
	return applyErr == nil, nil
}

// syntheticAnswer crafts the minimal answer accepting exactly pt. The
// ICE credentials and fingerprint are static throwaway values.
func syntheticAnswer(offer *sdp.SessionDescription, pt uint8, cap domain.CodecCapability) (string, error) {
	var b strings.Builder
	b.WriteString("v=0\r\n")
	b.WriteString("o=- 0 0 IN IP4 127.0.0.1\r\n")
	b.WriteString("s=-\r\n")
	b.WriteString("t=0 0\r\n")

	mids := make([]string, 0, len(offer.MediaDescriptions))
	for _, md := range offer.MediaDescriptions {
		if mid, ok := md.Attribute("mid"); ok {
			mids = append(mids, mid)
		}
	}
	if len(mids) > 0 {
		b.WriteString("a=group:BUNDLE " + strings.Join(mids, " ") + "\r\n")
	}

	n := int(pt)
	for _, md := range offer.MediaDescriptions {
		proto := strings.Join(md.MediaName.Protos, "/")
		b.WriteString("m=" + md.MediaName.Media + " 9 " + proto + " " + strconv.Itoa(n) + "\r\n")
		b.WriteString("c=IN IP4 0.0.0.0\r\n")
		if mid, ok := md.Attribute("mid"); ok {
			b.WriteString("a=mid:" + mid + "\r\n")
		}
		b.WriteString("a=ice-ufrag:probe\r\n")
		b.WriteString("a=ice-pwd:probeprobeprobeprobeprobe\r\n")
		b.WriteString("a=fingerprint:" + probeFingerprint + "\r\n")
		b.WriteString("a=setup:passive\r\n")
		b.WriteString("a=rtcp-mux\r\n")
		b.WriteString("a=sendonly\r\n")
		b.WriteString("a=rtpmap:" + strconv.Itoa(n) + " " + cap.RTPMap() + "\r\n")
		if cap.Fmtp != "" {
			b.WriteString("a=fmtp:" + strconv.Itoa(n) + " " + cap.Fmtp + "\r\n")
		}
	}
	return b.String(), nil
}
