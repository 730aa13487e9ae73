// Package sink is the rendering side of the headless player: it
// drains inbound RTP and derives a playback position from the RTP
// clock, giving the playback monitor a real progress signal without a
// decoder or an output device.
package sink

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/whep/internal/core"
)

// mediaClock accumulates elapsed time from RTP timestamps of a single
// stream.
type mediaClock struct {
	rate      uint32
	lastTS    uint32
	baselined bool
	elapsed   uint64 // RTP clock units
}

// Advance feeds one packet timestamp. The first timestamp only sets
// the baseline. Signed difference survives the 32-bit wrap; reordered
// packets yield a negative delta and are ignored.
func (c *mediaClock) Advance(ts uint32) {
	if !c.baselined {
		c.baselined = true
		c.lastTS = ts
		return
	}
	if d := int32(ts - c.lastTS); d > 0 {
		c.elapsed += uint64(d)
		c.lastTS = ts
	}
}

// Seconds converts accumulated clock units to seconds.
func (c *mediaClock) Seconds() float64 {
	if c.rate == 0 {
		return 0
	}
	return float64(c.elapsed) / float64(c.rate)
}

// Rewind drops progress and rebaselines on the next packet.
func (c *mediaClock) Rewind() {
	c.baselined = false
	c.elapsed = 0
}

// RTP drains attached tracks on background readers. Position tracking
// follows one reference track, video preferred: audio keeps flowing on
// many broken streams where video froze.
type RTP struct {
	mu       sync.Mutex
	readers  map[*webrtc.TrackRemote]bool
	refTrack *webrtc.TrackRemote
	clock    mediaClock

	playing bool
	paused  bool
	muted   bool

	onFatal func(error)
}

func New() *RTP {
	return &RTP{readers: make(map[*webrtc.TrackRemote]bool)}
}

// Attach starts draining track. The first video track (or the first
// track of any kind) becomes the position reference.
func (s *RTP) Attach(track *webrtc.TrackRemote) {
	s.mu.Lock()
	if s.readers[track] {
		s.mu.Unlock()
		return
	}
	s.readers[track] = true
	if s.refTrack == nil || (s.refTrack.Kind() != webrtc.RTPCodecTypeVideo &&
		track.Kind() == webrtc.RTPCodecTypeVideo) {
		s.refTrack = track
		s.clock = mediaClock{rate: track.Codec().ClockRate}
	}
	s.mu.Unlock()

	log.Info().Str("module", "sink").Str("kind", track.Kind().String()).Msg("track attached")
	go s.drain(track)
}

// Detach stops position tracking and forgets all tracks. The read
// loops exit on their own once the transport closes the tracks.
func (s *RTP) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readers = make(map[*webrtc.TrackRemote]bool)
	s.refTrack = nil
	s.clock = mediaClock{}
	s.playing = false
	s.paused = false
}

func (s *RTP) drain(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			s.mu.Lock()
			active := s.readers[track]
			delete(s.readers, track)
			fatal := s.onFatal
			s.mu.Unlock()
			if active {
				log.Warn().Str("module", "sink").Err(err).Msg("track read failed")
				if fatal != nil {
					fatal(core.WrapError(core.KindOther, err, "media source died"))
				}
			}
			return
		}
		s.consume(track, pkt)
	}
}

// consume feeds one packet to the position clock. A paused sink keeps
// draining but stops the clock.
func (s *RTP) consume(track *webrtc.TrackRemote, pkt *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if track != s.refTrack || !s.playing || s.paused {
		return
	}
	s.clock.Advance(pkt.Timestamp)
}

// Play starts the position clock. Fails when nothing is attached yet,
// the headless analogue of an element with no source.
func (s *RTP) Play(muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.readers) == 0 {
		return core.NewError(core.KindOther, "no media attached")
	}
	s.playing = true
	s.paused = false
	s.muted = muted
	return nil
}

func (s *RTP) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *RTP) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

func (s *RTP) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused || !s.playing
}

// Position reports seconds of RTP clock consumed on the reference track.
func (s *RTP) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Seconds()
}

// Reset rewinds the position clock and rebaselines on the next packet,
// keeping the attached tracks.
func (s *RTP) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock.Rewind()
	return nil
}

func (s *RTP) OnFatalError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFatal = fn
}
