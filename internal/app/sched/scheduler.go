// Package sched runs a small number of periodic health checks behind
// one shared timer, with priority ordering and load-based throttling
// so monitoring overhead scales down under pressure.
package sched

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type TaskStatus string

const (
	StatusScheduled TaskStatus = "scheduled"
	StatusRunning   TaskStatus = "running"
	StatusPaused    TaskStatus = "paused"
)

// Task is one periodic health check. Identity is (Owner, Interval):
// registering the same identity again replaces the previous task.
type Task struct {
	Owner    string
	Interval time.Duration
	Priority int
	Check    func()
}

type taskState struct {
	Task
	status  TaskStatus
	lastRun time.Time
}

const (
	// DefaultBase is the shared timer cadence.
	DefaultBase = time.Second
	// DefaultMaxPerTick caps how many checks run on one tick; the rest
	// wait for the next tick instead of blocking it.
	DefaultMaxPerTick = 10

	maxThrottleLevel = 3
)

// Scheduler multiplexes all registered tasks onto a single timer. The
// timer runs only while at least one task is registered.
type Scheduler struct {
	mu         sync.Mutex
	base       time.Duration
	perfBudget time.Duration // tick overrun tolerated before throttling up
	maxPerTick int

	tasks    map[string]*taskState
	throttle int // effective interval multiplier is 1<<throttle
	lastTick time.Time
	stop     chan struct{}
	done     chan struct{}
}

type Option func(*Scheduler)

// WithBase overrides the shared timer cadence (tests mostly).
func WithBase(d time.Duration) Option {
	return func(s *Scheduler) { s.base = d }
}

func WithMaxPerTick(n int) Option {
	return func(s *Scheduler) { s.maxPerTick = n }
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		base:       DefaultBase,
		maxPerTick: DefaultMaxPerTick,
		tasks:      make(map[string]*taskState),
	}
	for _, o := range opts {
		o(s)
	}
	s.perfBudget = s.base / 2
	return s
}

func identity(owner string, interval time.Duration) string {
	return fmt.Sprintf("%s/%s", owner, interval)
}

// Register adds or replaces a task and returns its deregistration
// handle. A replaced task keeps its identity but becomes immediately
// eligible again. Registering the first task starts the shared timer.
func (s *Scheduler) Register(t Task) (deregister func()) {
	id := identity(t.Owner, t.Interval)

	s.mu.Lock()
	s.tasks[id] = &taskState{Task: t, status: StatusScheduled}
	if s.stop == nil {
		s.start()
	}
	s.mu.Unlock()

	log.Debug().Str("module", "sched").Str("task", id).Msg("task registered")
	return func() { s.deregister(id) }
}

func (s *Scheduler) deregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return
	}
	delete(s.tasks, id)
	log.Debug().Str("module", "sched").Str("task", id).Msg("task deregistered")
	// No idle polling: the last task stops the timer entirely.
	if len(s.tasks) == 0 {
		s.stopTimer()
	}
}

// PauseOwner pauses every task whose owner has the given prefix;
// paused tasks are skipped by selection but stay registered.
func (s *Scheduler) PauseOwner(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ts := range s.tasks {
		if hasOwnerPrefix(ts.Owner, owner) {
			ts.status = StatusPaused
		}
	}
}

// ResumeOwner resumes previously paused tasks, pushing their next run
// a full effective interval out.
func (s *Scheduler) ResumeOwner(owner string) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ts := range s.tasks {
		if hasOwnerPrefix(ts.Owner, owner) && ts.status == StatusPaused {
			ts.status = StatusScheduled
			ts.lastRun = now
		}
	}
}

// Shutdown stops the timer and discards all tasks. Permanent: used on
// client teardown, never on transient session restarts.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]*taskState)
	s.stopTimer()
}

// TaskCount reports how many tasks are registered (paused included).
func (s *Scheduler) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// start assumes s.mu is held.
func (s *Scheduler) start() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.lastTick = time.Now()
	go s.loop(s.stop, s.done)
}

// stopTimer assumes s.mu is held.
func (s *Scheduler) stopTimer() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.base)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	elapsed := now.Sub(s.lastTick)
	s.lastTick = now
	s.adjustThrottle(elapsed)
	due := s.selectDue(now)
	s.mu.Unlock()

	for _, ts := range due {
		s.run(ts)
	}
}

// adjustThrottle raises the interval multiplier when ticks arrive late
// (the process is starved) and lowers it once timing is comfortably
// back under budget. Assumes s.mu is held.
func (s *Scheduler) adjustThrottle(elapsed time.Duration) {
	overrun := elapsed - s.base
	switch {
	case overrun > s.perfBudget && s.throttle < maxThrottleLevel:
		s.throttle++
		log.Warn().Str("module", "sched").Dur("tick", elapsed).Int("level", s.throttle).
			Msg("tick overran budget, throttling up")
	case overrun < s.perfBudget/2 && s.throttle > 0:
		s.throttle--
	}
}

// selectDue picks up to maxPerTick runnable tasks, highest priority
// first. Assumes s.mu is held.
func (s *Scheduler) selectDue(now time.Time) []*taskState {
	due := make([]*taskState, 0, len(s.tasks))
	for _, ts := range s.tasks {
		if ts.status != StatusScheduled {
			continue
		}
		effective := ts.Interval << s.throttle
		if ts.lastRun.IsZero() || now.Sub(ts.lastRun) >= effective {
			due = append(due, ts)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].Priority > due[j].Priority })
	if len(due) > s.maxPerTick {
		due = due[:s.maxPerTick]
	}
	for _, ts := range due {
		ts.status = StatusRunning
		ts.lastRun = now
	}
	return due
}

// run executes one check. A failing check is logged and stays
// registered: one broken monitor must not starve the others.
func (s *Scheduler) run(ts *taskState) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "sched").Str("owner", ts.Owner).
				Interface("panic", r).Msg("health check panicked")
		}
		s.mu.Lock()
		if ts.status == StatusRunning {
			ts.status = StatusScheduled
		}
		s.mu.Unlock()
	}()
	ts.Check()
}

func hasOwnerPrefix(owner, prefix string) bool {
	return len(owner) >= len(prefix) && owner[:len(prefix)] == prefix
}
