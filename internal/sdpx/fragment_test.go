package sdpx

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/whep/internal/domain"
)

func TestParseOffer(t *testing.T) {
	info, err := ParseOffer(testOffer)
	require.NoError(t, err)

	assert.Equal(t, "EsAw", info.UsernameFragment)
	assert.Equal(t, "P2uYro0UCOQ4zxjKXaWCBui1", info.Password)
	require.Len(t, info.Media, 2)
	assert.Equal(t, "audio 9 UDP/TLS/RTP/SAVPF 111", info.Media[0].Header)
	assert.Equal(t, "0", info.Media[0].MID)
	assert.Equal(t, "video 9 UDP/TLS/RTP/SAVPF 96 97", info.Media[1].Header)
	assert.Equal(t, "1", info.Media[1].MID)
}

func TestParseOfferWithoutCredentials(t *testing.T) {
	offer := "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\na=mid:0\r\n"
	_, err := ParseOffer(offer)
	require.Error(t, err)
}

func TestFragmentGroupsByMediaIndex(t *testing.T) {
	info := &domain.OfferInfo{
		UsernameFragment: "ufrag",
		Password:         "pwd",
		Media: []domain.MediaSection{
			{Header: "audio 9 UDP/TLS/RTP/SAVPF 111", MID: "0"},
			{Header: "video 9 UDP/TLS/RTP/SAVPF 96", MID: "1"},
			{Header: "video 9 UDP/TLS/RTP/SAVPF 98", MID: "2"},
		},
	}
	frag := Fragment(info, []TrickleCandidate{
		{Candidate: "candidate:2 1 UDP 1686052607 1.2.3.4 3478 typ srflx", MediaIndex: 2},
		{Candidate: "candidate:1 1 UDP 2122260223 192.168.0.2 56143 typ host", MediaIndex: 0},
	})

	lines := strings.Split(strings.TrimRight(frag, "\r\n"), "\r\n")
	require.Equal(t, []string{
		"a=ice-ufrag:ufrag",
		"a=ice-pwd:pwd",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"a=mid:0",
		"a=candidate:1 1 UDP 2122260223 192.168.0.2 56143 typ host",
		"m=video 9 UDP/TLS/RTP/SAVPF 98",
		"a=mid:2",
		"a=candidate:2 1 UDP 1686052607 1.2.3.4 3478 typ srflx",
	}, lines)
	// Exactly two m= blocks and no block for index 1.
	assert.Equal(t, 2, strings.Count(frag, "m="))
	assert.NotContains(t, frag, "a=mid:1")
}

func TestFragmentEmptyWithoutCandidates(t *testing.T) {
	info := &domain.OfferInfo{UsernameFragment: "u", Password: "p",
		Media: []domain.MediaSection{{Header: "audio 9 RTP/AVP 0", MID: "0"}}}
	assert.Empty(t, Fragment(info, nil))
}

func TestFromInitDefaultsToFirstSection(t *testing.T) {
	idx := uint16(1)
	cands := FromInit([]webrtc.ICECandidateInit{
		{Candidate: "candidate:a"},
		{Candidate: "candidate:b", SDPMLineIndex: &idx},
	})
	require.Len(t, cands, 2)
	assert.Equal(t, 0, cands[0].MediaIndex)
	assert.Equal(t, 1, cands[1].MediaIndex)
}
