package sdpx

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/whep/internal/core"
	"github.com/dkeye/whep/internal/domain"
)

type fakeProbeConn struct {
	offer     string
	rejectPT  bool
	localSet  string
	remoteSet string
	closed    bool
}

func (f *fakeProbeConn) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: f.offer}, nil
}

func (f *fakeProbeConn) SetLocalDescription(d webrtc.SessionDescription) error {
	f.localSet = d.SDP
	return nil
}

func (f *fakeProbeConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.remoteSet = d.SDP
	if f.rejectPT {
		return errors.New("no matching codec")
	}
	return nil
}

func (f *fakeProbeConn) Close() { f.closed = true }

type fakeProbeDialer struct {
	conns []*fakeProbeConn
	n     int
}

func (f *fakeProbeDialer) Dial([]domain.ICEServer) (core.MediaConnection, error) {
	panic("not used")
}

func (f *fakeProbeDialer) DialProbe(domain.MediaKind) (core.ProbeConnection, error) {
	c := f.conns[f.n]
	f.n++
	return c, nil
}

const audioProbeOffer = "v=0\r\n" +
	"o=- 1 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=ice-ufrag:abcd\r\n" +
	"a=ice-pwd:efghijklmnopqrstuvwx\r\n" +
	"a=recvonly\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

func surround6() domain.CodecCapability {
	caps := domain.MultichannelOpus()
	return caps[len(caps)-1]
}

func TestProbeAcceptedCodecIsSupported(t *testing.T) {
	conn := &fakeProbeConn{offer: audioProbeOffer}
	dialer := &fakeProbeDialer{conns: []*fakeProbeConn{conn}}

	got, err := DetectCapabilities(context.Background(), dialer, []domain.CodecCapability{surround6()})
	require.NoError(t, err)
	require.Len(t, got, 1)

	// The probe offer carried the codec as an extra payload type and the
	// synthetic answer accepted exactly that payload type.
	assert.Contains(t, conn.localSet, "multiopus/48000/6")
	assert.Contains(t, conn.remoteSet, "a=rtpmap:30 multiopus/48000/6")
	assert.Contains(t, conn.remoteSet, "m=audio 9 UDP/TLS/RTP/SAVPF 30")
	assert.True(t, conn.closed, "probe connection must always be torn down")
}

func TestProbeRejectedCodecIsUnsupported(t *testing.T) {
	conn := &fakeProbeConn{offer: audioProbeOffer, rejectPT: true}
	dialer := &fakeProbeDialer{conns: []*fakeProbeConn{conn}}

	got, err := DetectCapabilities(context.Background(), dialer, []domain.CodecCapability{surround6()})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.True(t, conn.closed)
}

func TestProbeShortCircuitsAdvertisedCodec(t *testing.T) {
	offer := strings.Replace(audioProbeOffer,
		"a=rtpmap:111 opus/48000/2\r\n",
		"a=rtpmap:111 opus/48000/2\r\na=rtpmap:63 multiopus/48000/6\r\n", 1)
	conn := &fakeProbeConn{offer: offer, rejectPT: true}
	dialer := &fakeProbeDialer{conns: []*fakeProbeConn{conn}}

	got, err := DetectCapabilities(context.Background(), dialer, []domain.CodecCapability{surround6()})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, conn.localSet, "no negotiation should happen for an advertised codec")
	assert.True(t, conn.closed)
}

func TestProbeHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dialer := &fakeProbeDialer{}
	_, err := DetectCapabilities(ctx, dialer, []domain.CodecCapability{surround6()})
	assert.ErrorIs(t, err, context.Canceled)
}
