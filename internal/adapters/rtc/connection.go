// Package rtc is the pion-backed transport adapter: receive-only peer
// connections for egress sessions and throwaway connections for codec
// capability probes.
package rtc

import (
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/whep/internal/core"
	"github.com/dkeye/whep/internal/domain"
)

// Dialer builds peer connections on a shared media engine setup.
type Dialer struct{}

func NewDialer() *Dialer { return &Dialer{} }

func newAPI() (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, err
	}
	se := webrtc.SettingEngine{LoggerFactory: loggerFactory{}}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

func iceConfiguration(servers []domain.ICEServer) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	for _, s := range servers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       []string{s.URL},
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return cfg
}

// Dial opens a receive-only connection with one audio and one video
// transceiver, the shape a WHEP egress offer needs.
func (d *Dialer) Dial(servers []domain.ICEServer) (core.MediaConnection, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(iceConfiguration(servers))
	if err != nil {
		return nil, err
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	c := &Connection{pc: pc}
	c.install()
	return c, nil
}

// DialProbe opens a throwaway connection with a single receive-only
// transceiver so probe offers carry exactly one media section.
func (d *Dialer) DialProbe(kind domain.MediaKind) (core.ProbeConnection, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, err
	}
	codecType := webrtc.RTPCodecTypeAudio
	if kind == domain.MediaVideo {
		codecType = webrtc.RTPCodecTypeVideo
	}
	if _, err := pc.AddTransceiverFromKind(codecType, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return nil, err
	}
	return &probeConnection{pc: pc}, nil
}

// Connection adapts a pion peer connection to the transport interface
// the orchestrator consumes. Pion callbacks are installed once and
// dispatch through swappable handler slots so DetachHandlers cuts a
// stale session off without racing pion's internal goroutines.
type Connection struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func (c *Connection) install() {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onCandidate
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("module", "webrtc").Str("state", s.String()).Msg("peer state")
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})
	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().Str("module", "webrtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("track received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(track, receiver)
		}
	})
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Connection) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *Connection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// RestartICE renegotiates the local side with fresh ICE credentials.
func (c *Connection) RestartICE() error {
	offer, err := c.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return err
	}
	return c.pc.SetLocalDescription(offer)
}

func (c *Connection) Close() {
	if err := c.pc.Close(); err != nil {
		log.Error().Str("module", "webrtc").Err(err).Msg("close error")
	}
}

func (c *Connection) ConnectionState() webrtc.PeerConnectionState {
	return c.pc.ConnectionState()
}

// InboundVideoBytes sums the cumulative received bytes across inbound
// video streams, audio excluded.
func (c *Connection) InboundVideoBytes() (uint64, error) {
	var total uint64
	for _, s := range c.pc.GetStats() {
		if in, ok := s.(webrtc.InboundRTPStreamStats); ok && in.Kind == "video" {
			total += in.BytesReceived
		}
	}
	return total, nil
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = fn
}

func (c *Connection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *Connection) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *Connection) DetachHandlers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = nil
	c.onState = nil
	c.onTrack = nil
}

type probeConnection struct {
	pc *webrtc.PeerConnection
}

func (p *probeConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *probeConnection) SetLocalDescription(d webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(d)
}

func (p *probeConnection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(d)
}

func (p *probeConnection) Close() {
	if err := p.pc.Close(); err != nil {
		log.Debug().Str("module", "webrtc").Err(err).Msg("probe close error")
	}
}
