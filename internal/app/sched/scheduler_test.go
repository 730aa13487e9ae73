package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterSameIdentityReplaces(t *testing.T) {
	s := New(WithBase(10 * time.Millisecond))
	defer s.Shutdown()

	var old, replacement atomic.Int32
	s.Register(Task{Owner: "flow", Interval: 20 * time.Millisecond, Check: func() { old.Add(1) }})
	s.Register(Task{Owner: "flow", Interval: 20 * time.Millisecond, Check: func() { replacement.Add(1) }})

	assert.Equal(t, 1, s.TaskCount())
	require.Eventually(t, func() bool { return replacement.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, old.Load(), "replaced task must never run")
}

func TestPanickingCheckStaysRegistered(t *testing.T) {
	s := New(WithBase(10 * time.Millisecond))
	defer s.Shutdown()

	var runs atomic.Int32
	s.Register(Task{Owner: "flaky", Interval: 10 * time.Millisecond, Check: func() {
		runs.Add(1)
		panic("boom")
	}})

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, s.TaskCount())
}

func TestDeregisterStopsTask(t *testing.T) {
	s := New(WithBase(10 * time.Millisecond))
	defer s.Shutdown()

	var runs atomic.Int32
	cancel := s.Register(Task{Owner: "flow", Interval: 10 * time.Millisecond, Check: func() { runs.Add(1) }})
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.Zero(t, s.TaskCount())
	time.Sleep(20 * time.Millisecond) // let any in-flight run finish
	settled := runs.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, runs.Load(), "deregistered task must not run again")
}

func TestPauseResumeByOwner(t *testing.T) {
	s := New(WithBase(10 * time.Millisecond))
	defer s.Shutdown()

	var flow, playback atomic.Int32
	s.Register(Task{Owner: "monitor.flow", Interval: 10 * time.Millisecond, Check: func() { flow.Add(1) }})
	s.Register(Task{Owner: "monitor.playback", Interval: 10 * time.Millisecond, Check: func() { playback.Add(1) }})

	s.PauseOwner("monitor.")
	time.Sleep(30 * time.Millisecond)
	pausedFlow, pausedPlayback := flow.Load(), playback.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, pausedFlow, flow.Load())
	assert.Equal(t, pausedPlayback, playback.Load())

	s.ResumeOwner("monitor.")
	require.Eventually(t, func() bool {
		return flow.Load() > pausedFlow && playback.Load() > pausedPlayback
	}, time.Second, 5*time.Millisecond)
}

func TestPauseScopedToOwnerPrefix(t *testing.T) {
	s := New(WithBase(10 * time.Millisecond))
	defer s.Shutdown()

	var other atomic.Int32
	s.Register(Task{Owner: "monitor.flow", Interval: 10 * time.Millisecond, Check: func() {}})
	s.Register(Task{Owner: "health", Interval: 10 * time.Millisecond, Check: func() { other.Add(1) }})

	s.PauseOwner("monitor.")
	require.Eventually(t, func() bool { return other.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestPriorityOrderWithinTick(t *testing.T) {
	s := New(WithBase(15*time.Millisecond), WithMaxPerTick(2))
	defer s.Shutdown()

	order := make(chan string, 8)
	s.Register(Task{Owner: "low", Interval: 10 * time.Millisecond, Priority: 1,
		Check: func() { order <- "low" }})
	s.Register(Task{Owner: "high", Interval: 10 * time.Millisecond, Priority: 5,
		Check: func() { order <- "high" }})

	first := <-order
	second := <-order
	assert.Equal(t, "high", first)
	assert.Equal(t, "low", second)
}

func TestShutdownDiscardsTasks(t *testing.T) {
	s := New(WithBase(10 * time.Millisecond))
	var runs atomic.Int32
	s.Register(Task{Owner: "flow", Interval: 10 * time.Millisecond, Check: func() { runs.Add(1) }})

	s.Shutdown()
	assert.Zero(t, s.TaskCount())
	time.Sleep(20 * time.Millisecond)
	settled := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, runs.Load())
}
