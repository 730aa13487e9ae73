// Package console is the local diagnostics surface: session status,
// prometheus metrics and a live event feed over websocket. It is
// read-only and meant for localhost binding.
package console

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/whep/internal/app"
)

func SetupRouter(mode string, orch *app.Orchestrator) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		orch.Metrics().Registry(), promhttp.HandlerOpts{},
	)))

	api := r.Group("/api")
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, orch.Status())
	})
	api.GET("/events", func(c *gin.Context) {
		serveEvents(c, orch.Feed())
	})

	log.Info().Str("module", "console").Msg("router setup")
	return r
}
