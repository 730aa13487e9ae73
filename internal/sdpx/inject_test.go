package sdpx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/whep/internal/domain"
)

const testOffer = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0 1\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=ice-ufrag:EsAw\r\n" +
	"a=ice-pwd:P2uYro0UCOQ4zxjKXaWCBui1\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=fmtp:111 minptime=10;useinbandfec=1\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96 97\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:1\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"a=rtpmap:97 rtx/90000\r\n"

const videoOnlyOffer = "v=0\r\n" +
	"o=- 1 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=ice-ufrag:abcd\r\n" +
	"a=ice-pwd:efghijklmnopqrstuvwx\r\n" +
	"a=rtpmap:96 VP8/90000\r\n"

func TestInjectMultichannelOpus(t *testing.T) {
	caps := domain.MultichannelOpus()
	out, err := InjectCapabilities(testOffer, caps)
	require.NoError(t, err)

	for _, c := range caps {
		assert.Contains(t, out, c.RTPMap())
		assert.Contains(t, out, c.Fmtp)
	}
	// All four land in the audio section's format list.
	for _, line := range strings.Split(out, "\r\n") {
		if strings.HasPrefix(line, "m=audio") {
			assert.Len(t, strings.Fields(line), 3+1+4) // media port proto + opus + 4 injected
		}
	}
}

func TestInjectSkipsMissingSection(t *testing.T) {
	out, err := InjectCapabilities(videoOnlyOffer, domain.MultichannelOpus())
	require.NoError(t, err)
	assert.NotContains(t, out, "multiopus")
}

func TestEnsureStereoAddsBothMarkersOnce(t *testing.T) {
	out, err := EnsureStereo(testOffer)
	require.NoError(t, err)

	// Run twice: must be idempotent.
	out, err = EnsureStereo(out)
	require.NoError(t, err)

	var fmtp string
	for _, line := range strings.Split(out, "\r\n") {
		if strings.HasPrefix(line, "a=fmtp:111 ") {
			fmtp = line
		}
	}
	require.NotEmpty(t, fmtp)
	assert.Equal(t, 1, strings.Count(fmtp, "sprop-stereo=1"))
	// "stereo=1" appears once on its own plus once inside sprop-stereo=1.
	assert.Equal(t, 2, strings.Count(fmtp, "stereo=1"))
	assert.Contains(t, fmtp, "minptime=10")
}

func TestEnsureStereoWithoutOpusIsNoop(t *testing.T) {
	out, err := EnsureStereo(videoOnlyOffer)
	require.NoError(t, err)
	assert.Equal(t, videoOnlyOffer, out)
}

func TestEnsureStereoCreatesFmtpWhenAbsent(t *testing.T) {
	offer := strings.Replace(testOffer, "a=fmtp:111 minptime=10;useinbandfec=1\r\n", "", 1)
	out, err := EnsureStereo(offer)
	require.NoError(t, err)
	assert.Contains(t, out, "a=fmtp:111 stereo=1;sprop-stereo=1")
}
