package app

import (
	"context"
	"sync"

	"github.com/looplab/fsm"

	"github.com/dkeye/whep/internal/core"
)

// Lifecycle events.
const (
	evDetected = "codecs-detected"
	evRecover  = "recover"
	evRetry    = "retry"
	evFail     = "fail"
	evClose    = "close"
)

// lifecycle is the single observable slot holding the session state.
// Transitions are validated by the FSM and applied synchronously;
// observers see every (from, to) pair in total order. Closed has no
// outgoing transitions at all, so it wins over failed.
type lifecycle struct {
	mu        sync.Mutex
	machine   *fsm.FSM
	observers []func(from, to core.State)
}

func newLifecycle() *lifecycle {
	l := &lifecycle{}
	l.machine = fsm.NewFSM(
		string(core.StateDiscovering),
		fsm.Events{
			{Name: evDetected, Src: []string{string(core.StateDiscovering)}, Dst: string(core.StateRunning)},
			{Name: evRecover, Src: []string{string(core.StateRunning)}, Dst: string(core.StateRestarting)},
			{Name: evRetry, Src: []string{string(core.StateRestarting)}, Dst: string(core.StateRunning)},
			{Name: evFail, Src: []string{
				string(core.StateDiscovering),
				string(core.StateRunning),
				string(core.StateRestarting),
			}, Dst: string(core.StateFailed)},
			{Name: evClose, Src: []string{
				string(core.StateDiscovering),
				string(core.StateRunning),
				string(core.StateRestarting),
				string(core.StateFailed),
			}, Dst: string(core.StateClosed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				for _, obs := range l.observers {
					obs(core.State(e.Src), core.State(e.Dst))
				}
			},
		},
	)
	return l
}

// Current is safe to call from transition observers: it relies on the
// machine's own synchronization, not the transition lock.
func (l *lifecycle) Current() core.State {
	return core.State(l.machine.Current())
}

// Observe registers a synchronous transition observer. Must be called
// before the first transition.
func (l *lifecycle) Observe(fn func(from, to core.State)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}

// Transition fires one lifecycle event. An illegal transition returns
// a state error and leaves the current state untouched.
func (l *lifecycle) Transition(event string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.machine.Event(context.Background(), event); err != nil {
		return core.WrapError(core.KindState, err, "transition "+event)
	}
	return nil
}
