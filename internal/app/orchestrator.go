// Package app sequences the WHEP session: codec discovery, the
// signaling handshake, candidate trickling, stall-driven restarts and
// permanent-failure classification. It is the only writer of the
// lifecycle state.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/whep/internal/app/monitor"
	"github.com/dkeye/whep/internal/app/sched"
	"github.com/dkeye/whep/internal/core"
	"github.com/dkeye/whep/internal/domain"
	"github.com/dkeye/whep/internal/sdpx"
)

const (
	// DefaultRetryDelay is the pause between cleanup and the automatic
	// re-entry to running after a recoverable failure.
	DefaultRetryDelay = 2 * time.Second

	// monitorOwnerPrefix covers both monitors for group pause/resume.
	monitorOwnerPrefix = "monitor"
)

// Config tunes the orchestrator; zero values pick defaults.
type Config struct {
	// ICEServers, when non-empty, skips the OPTIONS discovery round.
	ICEServers []domain.ICEServer
	// Capabilities are the codec configurations probed before the first
	// session start. Defaults to the multichannel opus family.
	Capabilities []domain.CodecCapability
	RetryDelay   time.Duration
	Flow         monitor.FlowConfig
	Playback     monitor.PlaybackConfig
}

func (c *Config) defaults() {
	if c.Capabilities == nil {
		c.Capabilities = domain.MultichannelOpus()
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
}

// Status is a point-in-time snapshot for the diagnostics console.
type Status struct {
	State          core.State `json:"state"`
	Endpoint       string     `json:"endpoint"`
	SessionURL     string     `json:"session_url,omitempty"`
	Capabilities   []string   `json:"capabilities,omitempty"`
	Restarts       uint64     `json:"restarts"`
	FlowStalls     uint64     `json:"flow_stalls"`
	PlaybackStalls uint64     `json:"playback_stalls"`
}

// Orchestrator drives one egress session against one WHEP endpoint.
type Orchestrator struct {
	cfg      Config
	signaler core.Signaler
	dialer   core.MediaDialer
	sink     core.MediaSink
	events   core.Events
	feed     *core.Feed
	metrics  *Metrics

	life     *lifecycle
	sched    *sched.Scheduler
	flow     *monitor.Flow
	playback *monitor.Playback

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	session        *domain.Session
	conn           core.MediaConnection
	caps           []domain.CodecCapability
	retry          *time.Timer
	playing        bool
	restarts       uint64
	flowStalls     uint64
	playbackStalls uint64
}

func New(signaler core.Signaler, dialer core.MediaDialer, sink core.MediaSink, events core.Events, cfg Config) *Orchestrator {
	cfg.defaults()
	o := &Orchestrator{
		cfg:      cfg,
		signaler: signaler,
		dialer:   dialer,
		sink:     sink,
		events:   events,
		feed:     core.NewFeed(),
		metrics:  NewMetrics(),
		life:     newLifecycle(),
		sched:    sched.New(),
	}
	o.flow = monitor.NewFlow(o.sched, cfg.Flow, o.onFlowStall)
	o.playback = monitor.NewPlayback(o.sched, cfg.Playback, monitor.PlaybackEvents{
		OnStall:       o.onPlaybackStall,
		OnSuccess:     o.onPlaybackSuccess,
		OnFailure:     o.onPlaybackFailure,
		OnError:       o.surfaceError,
		OnUnrecovered: o.onUnrecovered,
	})
	o.life.Observe(func(from, to core.State) {
		o.metrics.setState(to)
		log.Info().Str("module", "app").
			Str("from", string(from)).Str("to", string(to)).Msg("lifecycle transition")
		o.feed.Publish("state", string(from)+" -> "+string(to))
		if o.events.OnStateChange != nil {
			o.events.OnStateChange(from, to)
		}
	})
	return o
}

// Feed exposes the event fan-out for external observers.
func (o *Orchestrator) Feed() *core.Feed { return o.feed }

// Metrics exposes the session metrics for the diagnostics console.
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

// State reports the current lifecycle state.
func (o *Orchestrator) State() core.State { return o.life.Current() }

// Status snapshots the session for the diagnostics console.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		State:          o.life.Current(),
		Endpoint:       o.signaler.Endpoint(),
		Restarts:       o.restarts,
		FlowStalls:     o.flowStalls,
		PlaybackStalls: o.playbackStalls,
	}
	if o.session != nil {
		st.SessionURL = o.session.URL
	}
	for _, c := range o.caps {
		st.Capabilities = append(st.Capabilities, c.String())
	}
	return st
}

// Start probes codec capabilities and enters the first session. It is
// the single public entry point and is only valid from the initial
// state; errors during discovery are permanent regardless of kind.
func (o *Orchestrator) Start(ctx context.Context) error {
	if s := o.life.Current(); s != core.StateDiscovering {
		return core.Errorf(core.KindState, "start from %s", s)
	}
	o.ctx, o.cancel = context.WithCancel(ctx)

	caps, err := sdpx.DetectCapabilities(o.ctx, o.dialer, o.cfg.Capabilities)
	if err != nil {
		o.surfaceError(err)
		o.fail()
		return err
	}
	o.mu.Lock()
	o.caps = caps
	o.mu.Unlock()
	log.Info().Str("module", "app").Int("supported", len(caps)).Msg("codec discovery finished")
	o.feed.Publish("codecs", capsDetail(caps))
	if o.events.OnCodecsDetected != nil {
		o.events.OnCodecsDetected(caps)
	}

	if err := o.life.Transition(evDetected); err != nil {
		return err
	}
	return o.runStartup()
}

// runStartup runs one startup attempt and routes its outcome. Close
// can land while the attempt is in flight; the freshly dialed
// transport is then torn down here, because restart no-ops on a
// closed machine and would otherwise leak it.
func (o *Orchestrator) runStartup() error {
	err := o.startSession()
	if o.life.Current() == core.StateClosed {
		o.cleanup(true)
		return err
	}
	if err != nil {
		o.classify(err)
	}
	return err
}

// startSession runs the full startup sequence once. Any error aborts
// the sequence; retry happens only through the restarting state.
func (o *Orchestrator) startSession() error {
	servers := o.cfg.ICEServers
	if len(servers) == 0 {
		var err error
		if servers, err = o.signaler.ICEServers(o.ctx); err != nil {
			return err
		}
	}

	conn, err := o.dialer.Dial(servers)
	if err != nil {
		return core.WrapError(core.KindOther, err, "transport dial")
	}

	sess := &domain.Session{ID: domain.SessionID(uuid.NewString())}
	o.mu.Lock()
	o.session = sess
	o.conn = conn
	o.playing = false
	o.mu.Unlock()

	conn.OnICECandidate(o.onCandidate)
	conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("module", "app").Str("state", s.String()).Msg("transport state")
		o.feed.Publish("transport", s.String())
	})
	conn.OnTrack(o.onTrack)

	offer, err := conn.CreateOffer()
	if err != nil {
		return core.WrapError(core.KindOther, err, "create offer")
	}
	munged, err := sdpx.InjectCapabilities(offer.SDP, o.caps)
	if err != nil {
		return err
	}
	if munged, err = sdpx.EnsureStereo(munged); err != nil {
		return err
	}
	info, err := sdpx.ParseOffer(munged)
	if err != nil {
		return err
	}
	o.mu.Lock()
	sess.Offer = info
	o.mu.Unlock()

	if err := conn.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: munged,
	}); err != nil {
		return core.WrapError(core.KindOther, err, "set local description")
	}
	answer, sessionURL, err := o.signaler.PostOffer(o.ctx, munged)
	if err != nil {
		return err
	}
	if err := conn.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: answer,
	}); err != nil {
		return core.WrapError(core.KindOther, err, "set remote description")
	}

	// URL now known: flush whatever trickled in during negotiation as
	// one batch. Without a session URL there is nowhere to patch, so
	// candidates stay queued.
	o.mu.Lock()
	sess.URL = sessionURL
	var queued []webrtc.ICECandidateInit
	if sessionURL != "" {
		queued = sess.Queued
		sess.Queued = nil
	}
	o.mu.Unlock()
	log.Info().Str("module", "app").Str("session", sessionURL).Msg("session established")
	o.feed.Publish("session", sessionURL)
	if len(queued) > 0 {
		o.patch(sess, sdpx.FromInit(queued))
	}

	o.flow.Start(conn)
	o.playback.Start(o.sink)
	return nil
}

// onCandidate queues or forwards one locally discovered candidate.
func (o *Orchestrator) onCandidate(c webrtc.ICECandidateInit) {
	if o.events.OnCandidate != nil {
		o.events.OnCandidate(c)
	}
	o.mu.Lock()
	sess := o.session
	if sess == nil {
		o.mu.Unlock()
		return
	}
	if sess.URL == "" {
		sess.Queued = append(sess.Queued, c)
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	o.patch(sess, sdpx.FromInit([]webrtc.ICECandidateInit{c}))
}

// patch sends one trickle fragment. Trickle failures are advisory:
// the session either works without the candidate or the flow monitor
// catches the fallout.
func (o *Orchestrator) patch(sess *domain.Session, cands []sdpx.TrickleCandidate) {
	if sess.Offer == nil {
		return
	}
	frag := sdpx.Fragment(sess.Offer, cands)
	if frag == "" {
		return
	}
	if err := o.signaler.PatchCandidates(o.ctx, sess.URL, frag); err != nil {
		log.Warn().Str("module", "app").Err(err).Msg("trickle patch failed")
	}
}

func (o *Orchestrator) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	log.Info().Str("module", "app").Str("kind", track.Kind().String()).
		Str("codec", track.Codec().MimeType).Msg("inbound track")
	o.feed.Publish("track", track.Kind().String())
	o.sink.Attach(track)
	if o.events.OnTrack != nil {
		o.events.OnTrack(track)
	}

	o.mu.Lock()
	first := !o.playing
	o.playing = true
	o.mu.Unlock()
	if first {
		o.playback.StartPlayback()
	}
}

// Close tears the session down permanently. Safe to call repeatedly;
// the closed state has no outgoing transitions so the second call is
// a no-op.
func (o *Orchestrator) Close() {
	if err := o.life.Transition(evClose); err != nil {
		return
	}
	o.stopRetry()
	o.cleanup(true)
	o.sched.Shutdown()
	if o.cancel != nil {
		o.cancel()
	}
	o.feed.Publish("closed", "")
	if o.events.OnClosed != nil {
		o.events.OnClosed()
	}
}

// Pause suspends rendering and monitoring without touching the
// lifecycle state or the transport.
func (o *Orchestrator) Pause() {
	o.sink.Pause()
	o.sched.PauseOwner(monitorOwnerPrefix)
}

// Resume restarts rendering and monitoring.
func (o *Orchestrator) Resume() {
	o.sink.Resume()
	o.sched.ResumeOwner(monitorOwnerPrefix)
}

// UpdateURL switches to a new endpoint: same cleanup as a restart but
// the new session starts immediately, no retry delay. Only legal once
// a session exists, so running and restarting.
func (o *Orchestrator) UpdateURL(endpoint string) error {
	if s := o.life.Current(); s != core.StateRunning && s != core.StateRestarting {
		err := core.Errorf(core.KindState, "update url from %s", s)
		o.surfaceError(err)
		return err
	}
	if err := o.signaler.SetEndpoint(endpoint); err != nil {
		o.surfaceError(err)
		return err
	}

	o.stopRetry()
	o.cleanup(true)
	// From restarting, re-enter running first; a pending retry would
	// have done the same later.
	if o.life.Current() == core.StateRestarting {
		if err := o.life.Transition(evRetry); err != nil {
			return err
		}
	}
	o.feed.Publish("endpoint", endpoint)
	return o.runStartup()
}

// classify routes one startup or runtime error: permanent kinds fail
// the machine, everything else goes through cleanup-and-restart.
func (o *Orchestrator) classify(err error) {
	o.surfaceError(err)
	if core.Permanent(err) || o.life.Current() == core.StateDiscovering {
		o.fail()
		return
	}
	o.restart()
}

func (o *Orchestrator) surfaceError(err error) {
	log.Error().Str("module", "app").Err(err).Msg("session error")
	o.metrics.countError(err)
	o.feed.Publish("error", err.Error())
	if o.events.OnError != nil {
		o.events.OnError(err)
	}
}

func (o *Orchestrator) fail() {
	if err := o.life.Transition(evFail); err != nil {
		return
	}
	o.stopRetry()
	o.cleanup(true)
}

// restart enters restarting, cleans up and arms the retry timer. A
// no-op unless currently running.
func (o *Orchestrator) restart() {
	if err := o.life.Transition(evRecover); err != nil {
		return
	}
	o.mu.Lock()
	o.restarts++
	o.mu.Unlock()
	o.metrics.restarts.Inc()
	o.feed.Publish("restart", "")
	if o.events.OnRestart != nil {
		o.events.OnRestart("recoverable failure")
	}

	o.cleanup(true)

	o.mu.Lock()
	o.retry = time.AfterFunc(o.cfg.RetryDelay, o.retryNow)
	o.mu.Unlock()
}

func (o *Orchestrator) retryNow() {
	if err := o.life.Transition(evRetry); err != nil {
		return
	}
	_ = o.runStartup()
}

func (o *Orchestrator) stopRetry() {
	o.mu.Lock()
	if o.retry != nil {
		o.retry.Stop()
		o.retry = nil
	}
	o.mu.Unlock()
}

// cleanup releases the per-session resources: monitors detach from
// their targets, transport handlers are dropped before Close so a
// stale session's late events cannot drive the next session, and the
// remote resource delete is fire-and-forget.
func (o *Orchestrator) cleanup(deleteRemote bool) {
	o.flow.Stop()
	o.playback.Stop()
	o.sink.Detach()

	o.mu.Lock()
	conn := o.conn
	sess := o.session
	o.conn = nil
	o.session = nil
	o.playing = false
	o.mu.Unlock()

	if conn != nil {
		conn.DetachHandlers()
		conn.Close()
	}
	if deleteRemote && sess != nil && sess.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := o.signaler.Delete(ctx, sess.URL); err != nil {
			log.Debug().Str("module", "app").Err(err).Msg("session delete failed")
		}
	}
}

func (o *Orchestrator) onFlowStall(reason string) {
	o.mu.Lock()
	o.flowStalls++
	o.mu.Unlock()
	o.metrics.flowStalls.Inc()
	o.feed.Publish("flow-stall", reason)
	if o.events.OnFlowStall != nil {
		o.events.OnFlowStall(reason)
	}
	o.restart()
}

// onPlaybackStall nudges the sink with a pause/resume cycle. The
// transport stays up: a stuck renderer is not a network problem.
func (o *Orchestrator) onPlaybackStall(reason string) {
	o.mu.Lock()
	o.playbackStalls++
	o.mu.Unlock()
	o.metrics.playbackStalls.Inc()
	o.feed.Publish("playback-stall", reason)
	if o.events.OnPlaybackStall != nil {
		o.events.OnPlaybackStall(reason)
	}
	o.sink.Pause()
	o.sink.Resume()
}

func (o *Orchestrator) onPlaybackSuccess(muted bool) {
	o.feed.Publish("playback", "started")
	if o.events.OnPlaybackSuccess != nil {
		o.events.OnPlaybackSuccess(muted)
	}
}

func (o *Orchestrator) onPlaybackFailure(err error) {
	o.feed.Publish("playback", "failed: "+err.Error())
	if o.events.OnPlaybackFailure != nil {
		o.events.OnPlaybackFailure(err)
	}
}

// onUnrecovered escalates exhausted sink recovery to a full restart.
func (o *Orchestrator) onUnrecovered(err error) {
	o.surfaceError(err)
	o.restart()
}

func capsDetail(caps []domain.CodecCapability) string {
	out := ""
	for i, c := range caps {
		if i > 0 {
			out += ", "
		}
		out += c.String()
	}
	return out
}
