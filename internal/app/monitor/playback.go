package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/whep/internal/app/sched"
	"github.com/dkeye/whep/internal/core"
)

const (
	playbackOwner = "monitor.playback"

	// DefaultPlaybackInterval is the fixed check cadence.
	DefaultPlaybackInterval = 5 * time.Second
	// DefaultMinAdvance is the least position progress expected per
	// check before the sink counts as stalled.
	DefaultMinAdvance = 0.1 // seconds
	// DefaultVerifyDelay is how long after a successful play call the
	// monitor waits before verifying the sink actually started.
	DefaultVerifyDelay = 500 * time.Millisecond

	// Bounded self-recovery after a fatal sink error.
	DefaultMaxRecoveries  = 3
	DefaultRecoveryDelay  = time.Second
	playbackCheckPriority = 3
)

// PlaybackEvents are the signals the playback monitor raises. All
// callbacks are optional.
type PlaybackEvents struct {
	OnStall       func(reason string) // position stopped advancing
	OnSuccess     func(muted bool)    // playback started
	OnFailure     func(err error)     // playback could not start, even muted
	OnError       func(err error)     // fatal sink error, recovery starting
	OnUnrecovered func(err error)     // recovery attempts exhausted
}

// PlaybackConfig tunes the playback monitor; zero values pick defaults.
type PlaybackConfig struct {
	Interval      time.Duration
	MinAdvance    float64
	VerifyDelay   time.Duration
	MaxRecoveries int
	RecoveryDelay time.Duration
}

func (c *PlaybackConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultPlaybackInterval
	}
	if c.MinAdvance <= 0 {
		c.MinAdvance = DefaultMinAdvance
	}
	if c.VerifyDelay <= 0 {
		c.VerifyDelay = DefaultVerifyDelay
	}
	if c.MaxRecoveries <= 0 {
		c.MaxRecoveries = DefaultMaxRecoveries
	}
	if c.RecoveryDelay <= 0 {
		c.RecoveryDelay = DefaultRecoveryDelay
	}
}

// Playback detects a rendering sink that stopped advancing, a failure
// mode independent of network flow, and attempts bounded self-recovery
// before escalating.
type Playback struct {
	cfg    PlaybackConfig
	sched  *sched.Scheduler
	events PlaybackEvents

	mu         sync.Mutex
	sink       core.MediaSink
	deregister func()
	baselined  bool
	lastPos    float64
	recoveries int
	verify     *time.Timer
	retry      *time.Timer
}

func NewPlayback(s *sched.Scheduler, cfg PlaybackConfig, events PlaybackEvents) *Playback {
	cfg.defaults()
	return &Playback{cfg: cfg, sched: s, events: events}
}

// Start begins watching sink and registers the fatal-error hook.
func (p *Playback) Start(sink core.MediaSink) {
	p.mu.Lock()
	if p.deregister != nil {
		p.deregister()
	}
	p.sink = sink
	p.baselined = false
	p.lastPos = 0
	p.recoveries = 0
	p.deregister = p.sched.Register(sched.Task{
		Owner:    playbackOwner,
		Interval: p.cfg.Interval,
		Priority: playbackCheckPriority,
		Check:    p.Check,
	})
	p.mu.Unlock()

	sink.OnFatalError(p.onFatal)
}

func (p *Playback) Stop() {
	p.mu.Lock()
	dereg := p.deregister
	p.deregister = nil
	p.sink = nil
	if p.verify != nil {
		p.verify.Stop()
		p.verify = nil
	}
	if p.retry != nil {
		p.retry.Stop()
		p.retry = nil
	}
	p.mu.Unlock()
	if dereg != nil {
		dereg()
	}
}

// StartPlayback tries to start the sink: once normally, once muted if
// the first attempt is refused (autoplay policy, typically). A short
// delay after success it verifies the sink really advanced.
func (p *Playback) StartPlayback() {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return
	}

	muted := false
	if err := sink.Play(false); err != nil {
		log.Debug().Str("module", "monitor.playback").Err(err).Msg("play refused, retrying muted")
		muted = true
		if err := sink.Play(true); err != nil {
			log.Warn().Str("module", "monitor.playback").Err(err).Msg("muted play refused")
			if p.events.OnFailure != nil {
				p.events.OnFailure(err)
			}
			return
		}
	}
	if p.events.OnSuccess != nil {
		p.events.OnSuccess(muted)
	}

	// Catches engines that neither error nor actually play.
	p.mu.Lock()
	if p.verify != nil {
		p.verify.Stop()
	}
	p.verify = time.AfterFunc(p.cfg.VerifyDelay, func() { p.verifyStarted(sink) })
	p.mu.Unlock()
}

func (p *Playback) verifyStarted(sink core.MediaSink) {
	if sink.Paused() {
		p.raiseStall("sink paused after play")
		return
	}
	if sink.Position() == 0 {
		p.raiseStall("no progress after play")
	}
}

// Check is one scheduled comparison of playback position.
func (p *Playback) Check() {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return
	}

	pos := sink.Position()

	p.mu.Lock()
	stalled := false
	delta := pos - p.lastPos
	switch {
	case !p.baselined:
		p.baselined = true
	case !sink.Paused() && delta < p.cfg.MinAdvance:
		stalled = true
	}
	p.lastPos = pos
	p.mu.Unlock()

	if stalled {
		p.raiseStall(fmt.Sprintf("position advanced %.3fs in %s", delta, p.cfg.Interval))
	}
}

// onFatal runs bounded recovery: reset the sink and replay, up to
// MaxRecoveries attempts spaced RecoveryDelay apart. A successful
// reattachment resets the budget.
func (p *Playback) onFatal(cause error) {
	log.Error().Str("module", "monitor.playback").Err(cause).Msg("fatal sink error")
	if p.events.OnError != nil {
		p.events.OnError(cause)
	}
	p.scheduleRecovery(cause)
}

func (p *Playback) scheduleRecovery(cause error) {
	p.mu.Lock()
	if p.sink == nil {
		p.mu.Unlock()
		return
	}
	if p.recoveries >= p.cfg.MaxRecoveries {
		attempts := p.recoveries
		p.mu.Unlock()
		log.Error().Str("module", "monitor.playback").Int("attempts", attempts).
			Msg("sink recovery attempts exhausted")
		// Raised outside the lock: the handler may tear this monitor down.
		if p.events.OnUnrecovered != nil {
			p.events.OnUnrecovered(cause)
		}
		return
	}
	p.recoveries++
	if p.retry != nil {
		p.retry.Stop()
	}
	p.retry = time.AfterFunc(p.cfg.RecoveryDelay, func() { p.attemptRecovery() })
	p.mu.Unlock()
}

func (p *Playback) attemptRecovery() {
	p.mu.Lock()
	sink := p.sink
	attempt := p.recoveries
	p.mu.Unlock()
	if sink == nil {
		return
	}

	log.Info().Str("module", "monitor.playback").Int("attempt", attempt).Msg("resetting sink")
	if err := sink.Reset(); err != nil {
		p.scheduleRecovery(err)
		return
	}

	p.mu.Lock()
	p.recoveries = 0
	p.mu.Unlock()
	p.StartPlayback()
}

func (p *Playback) raiseStall(reason string) {
	log.Warn().Str("module", "monitor.playback").Str("reason", reason).Msg("playback stall")
	if p.events.OnStall != nil {
		p.events.OnStall(reason)
	}
}
