package core

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/whep/internal/domain"
)

// Events is the typed callback registry handed to the orchestrator by
// its embedder. Every field is optional; the orchestrator invokes them
// synchronously, in transition order.
type Events struct {
	OnStateChange     func(from, to State)
	OnError           func(err error)
	OnCandidate       func(webrtc.ICECandidateInit)
	OnTrack           func(track *webrtc.TrackRemote)
	OnClosed          func()
	OnRestart         func(reason string)
	OnFlowStall       func(reason string)
	OnPlaybackStall   func(reason string)
	OnPlaybackSuccess func(muted bool)
	OnPlaybackFailure func(err error)
	OnCodecsDetected  func(caps []domain.CodecCapability)
}

// Event is the generic envelope published on the Feed for external
// observers (the diagnostics console, mainly).
type Event struct {
	Type   string    `json:"type"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Feed fans events out to subscribers over bounded channels. A slow
// subscriber loses events rather than blocking the orchestrator.
type Feed struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan Event)}
}

func (f *Feed) Subscribe() (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	ch := make(chan Event, 64)
	f.subs[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
}

func (f *Feed) Publish(typ, detail string) {
	ev := Event{Type: typ, Detail: detail, At: time.Now()}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
