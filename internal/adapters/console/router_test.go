package console

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/whep/internal/app"
	"github.com/dkeye/whep/internal/core"
	"github.com/dkeye/whep/internal/domain"
)

type stubSignaler struct{ endpoint string }

func (s *stubSignaler) ICEServers(context.Context) ([]domain.ICEServer, error) { return nil, nil }
func (s *stubSignaler) PostOffer(context.Context, string) (string, string, error) {
	return "", "", core.NewError(core.KindOther, "not wired")
}
func (s *stubSignaler) PatchCandidates(context.Context, string, string) error { return nil }
func (s *stubSignaler) Delete(context.Context, string) error                  { return nil }
func (s *stubSignaler) Endpoint() string                                      { return s.endpoint }
func (s *stubSignaler) SetEndpoint(url string) error                          { s.endpoint = url; return nil }

type stubDialer struct{}

func (stubDialer) Dial([]domain.ICEServer) (core.MediaConnection, error) {
	return nil, core.NewError(core.KindOther, "not wired")
}
func (stubDialer) DialProbe(domain.MediaKind) (core.ProbeConnection, error) {
	return nil, core.NewError(core.KindOther, "not wired")
}

type stubSink struct{}

func (stubSink) Attach(*webrtc.TrackRemote) {}
func (stubSink) Detach()                    {}
func (stubSink) Play(bool) error            { return nil }
func (stubSink) Pause()                     {}
func (stubSink) Resume()                    {}
func (stubSink) Paused() bool               { return true }
func (stubSink) Position() float64          { return 0 }
func (stubSink) Reset() error               { return nil }
func (stubSink) OnFatalError(func(error))   {}

func newConsole(t *testing.T) (*app.Orchestrator, *httptest.Server) {
	t.Helper()
	orch := app.New(&stubSignaler{endpoint: "https://egress.example.org/whep"},
		stubDialer{}, stubSink{}, core.Events{}, app.Config{})
	srv := httptest.NewServer(SetupRouter("release", orch))
	t.Cleanup(srv.Close)
	t.Cleanup(orch.Close)
	return orch, srv
}

func TestStatusEndpoint(t *testing.T) {
	_, srv := newConsole(t)

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st app.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, core.StateDiscovering, st.State)
	assert.Equal(t, "https://egress.example.org/whep", st.Endpoint)
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newConsole(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "whep_lifecycle_state")
}

func TestEventsWebsocketStreamsFeed(t *testing.T) {
	orch, srv := newConsole(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	// Subscription races the dial; give the handler a beat to attach.
	time.Sleep(50 * time.Millisecond)
	orch.Feed().Publish("flow-stall", "no inbound video bytes")

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev core.Event
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, "flow-stall", ev.Type)
	assert.Equal(t, "no inbound video bytes", ev.Detail)
}
