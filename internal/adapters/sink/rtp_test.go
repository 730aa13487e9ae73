package sink

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaClockAccumulates(t *testing.T) {
	c := mediaClock{rate: 90000}
	c.Advance(1000) // baseline only
	assert.Zero(t, c.Seconds())

	c.Advance(1000 + 90000)
	assert.InDelta(t, 1.0, c.Seconds(), 1e-9)

	c.Advance(1000 + 3*90000)
	assert.InDelta(t, 3.0, c.Seconds(), 1e-9)
}

func TestMediaClockIgnoresReorderedPackets(t *testing.T) {
	c := mediaClock{rate: 90000}
	c.Advance(90000)
	c.Advance(2 * 90000)
	c.Advance(90000 + 1) // late arrival, negative delta
	assert.InDelta(t, 1.0, c.Seconds(), 1e-9)
}

func TestMediaClockSurvivesWraparound(t *testing.T) {
	c := mediaClock{rate: 90000}
	start := uint32(math.MaxUint32 - 45000 + 1)
	c.Advance(start)
	c.Advance(45000) // half a second before the wrap, half after
	assert.InDelta(t, 1.0, c.Seconds(), 1e-9)
}

func TestMediaClockRewind(t *testing.T) {
	c := mediaClock{rate: 48000}
	c.Advance(0)
	c.Advance(48000)
	require.InDelta(t, 1.0, c.Seconds(), 1e-9)

	c.Rewind()
	assert.Zero(t, c.Seconds())
	c.Advance(96000) // new baseline, no judgment
	assert.Zero(t, c.Seconds())
}

func TestPlayWithoutMediaFails(t *testing.T) {
	s := New()
	require.Error(t, s.Play(false))
	assert.True(t, s.Paused())
}

func TestPauseResume(t *testing.T) {
	s := New()
	// Not playing counts as paused for the monitor's purposes.
	assert.True(t, s.Paused())
	s.Pause()
	s.Resume()
	assert.True(t, s.Paused())
}
