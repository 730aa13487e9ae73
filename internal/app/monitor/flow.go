// Package monitor holds the two stall detectors: one watching inbound
// media bytes, one watching playback progress. Both run as tasks on
// the shared scheduler and report through callbacks; neither owns any
// transport or rendering resource.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/whep/internal/app/sched"
	"github.com/dkeye/whep/internal/core"
)

const (
	flowOwner = "monitor.flow"

	// DefaultFlowInterval is the eager cadence used right after a
	// session (re)starts; most real stalls happen early.
	DefaultFlowInterval = 5 * time.Second
	// DefaultFlowStabilization is how long the eager cadence lasts
	// before the interval doubles.
	DefaultFlowStabilization = 30 * time.Second
	// DefaultFlowThreshold is how many consecutive no-progress checks
	// raise a stall.
	DefaultFlowThreshold = 3

	flowPriority = 4
)

// FlowConfig tunes the flow stall monitor; zero values pick defaults.
type FlowConfig struct {
	Interval      time.Duration
	Stabilization time.Duration
	Threshold     int
}

func (c *FlowConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultFlowInterval
	}
	if c.Stabilization <= 0 {
		c.Stabilization = DefaultFlowStabilization
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultFlowThreshold
	}
}

// Flow detects a connected transport that stopped delivering video
// bytes. A stall is a recovery signal, not a hard transport error:
// the orchestrator answers it with cleanup-and-restart, never failed.
type Flow struct {
	cfg     FlowConfig
	sched   *sched.Scheduler
	onStall func(reason string)

	mu         sync.Mutex
	conn       core.MediaConnection
	deregister func()
	startedAt  time.Time
	slowphase  bool
	baselined  bool
	lastBytes  uint64
	misses     int
}

func NewFlow(s *sched.Scheduler, cfg FlowConfig, onStall func(reason string)) *Flow {
	cfg.defaults()
	return &Flow{cfg: cfg, sched: s, onStall: onStall}
}

// Start begins watching conn. Any previous watch is discarded along
// with its baseline and miss counter.
func (f *Flow) Start(conn core.MediaConnection) {
	f.mu.Lock()
	if f.deregister != nil {
		f.deregister()
	}
	f.conn = conn
	f.startedAt = time.Now()
	f.slowphase = false
	f.baselined = false
	f.lastBytes = 0
	f.misses = 0
	f.deregister = f.sched.Register(sched.Task{
		Owner:    flowOwner,
		Interval: f.cfg.Interval,
		Priority: flowPriority,
		Check:    f.Check,
	})
	f.mu.Unlock()
}

// Stop detaches the monitor from the scheduler. The shared scheduler
// itself stays up for other monitors.
func (f *Flow) Stop() {
	f.mu.Lock()
	dereg := f.deregister
	f.deregister = nil
	f.conn = nil
	f.mu.Unlock()
	if dereg != nil {
		dereg()
	}
}

// Check is one scheduled probe of the inbound byte counter.
func (f *Flow) Check() {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return
	}

	switch state := conn.ConnectionState(); state {
	case webrtc.PeerConnectionStateConnected:
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		// A dead transport is an immediate stall; counting checks would
		// only delay the inevitable restart.
		f.raise(fmt.Sprintf("transport %s", state))
		return
	default:
		// Not connected yet: no baseline, no counting.
		return
	}

	bytes, err := conn.InboundVideoBytes()
	if err != nil {
		log.Debug().Str("module", "monitor.flow").Err(err).Msg("stats query failed")
		return
	}

	f.mu.Lock()
	stalled := false
	switch {
	case !f.baselined:
		f.baselined = true
		f.lastBytes = bytes
	case bytes > f.lastBytes:
		f.lastBytes = bytes
		f.misses = 0
		f.maybeSlowDown()
	default:
		f.misses++
		log.Debug().Str("module", "monitor.flow").Int("misses", f.misses).Uint64("bytes", bytes).
			Msg("no inbound video progress")
		if f.misses >= f.cfg.Threshold {
			// Reset before signalling so a session that recovers without
			// a restart does not immediately re-trigger.
			f.misses = 0
			stalled = true
		}
	}
	f.mu.Unlock()

	if stalled {
		f.raise("no inbound video bytes")
	}
}

// maybeSlowDown switches to the relaxed cadence once the session has
// survived the stabilization window. Assumes f.mu is held.
func (f *Flow) maybeSlowDown() {
	if f.slowphase || time.Since(f.startedAt) < f.cfg.Stabilization {
		return
	}
	f.slowphase = true
	if f.deregister != nil {
		f.deregister()
	}
	f.deregister = f.sched.Register(sched.Task{
		Owner:    flowOwner,
		Interval: f.cfg.Interval * 2,
		Priority: flowPriority,
		Check:    f.Check,
	})
	log.Debug().Str("module", "monitor.flow").Dur("interval", f.cfg.Interval*2).
		Msg("session stabilized, relaxing check interval")
}

func (f *Flow) raise(reason string) {
	log.Warn().Str("module", "monitor.flow").Str("reason", reason).Msg("flow stall")
	if f.onStall != nil {
		f.onStall(reason)
	}
}
