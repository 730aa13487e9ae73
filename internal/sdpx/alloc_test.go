package sdpx

import (
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/whep/internal/core"
)

func TestAllocatorSkipsReservedRange(t *testing.T) {
	a := NewPayloadAllocator()
	seen := make(map[uint8]bool)
	for i := 0; i < 66; i++ {
		pt, err := a.Next()
		require.NoError(t, err)
		assert.False(t, seen[pt], "payload type %d allocated twice", pt)
		seen[pt] = true
		assert.GreaterOrEqual(t, pt, uint8(30))
		assert.LessOrEqual(t, pt, uint8(127))
		assert.False(t, pt >= 64 && pt <= 95, "payload type %d falls in reserved range", pt)
	}
}

func TestAllocatorExhaustion(t *testing.T) {
	a := NewPayloadAllocator()
	// 30..63 and 96..127 hold 66 usable values.
	for i := 0; i < 66; i++ {
		_, err := a.Next()
		require.NoError(t, err)
	}
	_, err := a.Next()
	require.Error(t, err)
	assert.Equal(t, core.KindSignaling, core.KindOf(err))
}

func TestAllocatorSeededFromOffer(t *testing.T) {
	var sd sdp.SessionDescription
	require.NoError(t, sd.Unmarshal([]byte(testOffer)))

	a := AllocatorForSession(&sd)
	pt, err := a.Next()
	require.NoError(t, err)
	// 30 is free in the fixture, 96/97/111 are not.
	assert.Equal(t, uint8(30), pt)
	// 96, 97 and 111 are taken, leaving 62 more free values.
	for i := 0; i < 62; i++ {
		got, err := a.Next()
		require.NoError(t, err)
		assert.NotContains(t, []uint8{96, 97, 111}, got)
	}
	_, err = a.Next()
	assert.Error(t, err)
}
