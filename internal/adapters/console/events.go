package console

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/whep/internal/core"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local diagnostics tooling; cross-origin browsers are fine.
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveEvents upgrades the request and streams session events as JSON
// until the subscriber disconnects. The feed drops events for slow
// readers, so a stuck websocket never blocks the session.
func serveEvents(c *gin.Context, feed *core.Feed) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Str("module", "console").Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.Close()

	events, cancel := feed.Subscribe()
	defer cancel()

	// Reader goroutine: we never expect client messages, but reading
	// is how gorilla surfaces close frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
