package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/whep/internal/adapters/console"
	"github.com/dkeye/whep/internal/adapters/rtc"
	"github.com/dkeye/whep/internal/adapters/sink"
	"github.com/dkeye/whep/internal/adapters/whep"
	"github.com/dkeye/whep/internal/app"
	"github.com/dkeye/whep/internal/app/monitor"
	"github.com/dkeye/whep/internal/config"
	"github.com/dkeye/whep/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	endpoint := cfg.Endpoint
	if len(os.Args) > 1 {
		endpoint = os.Args[1]
	}
	if endpoint == "" {
		log.Fatal().Msg("no WHEP endpoint configured; set endpoint in config or pass it as the first argument")
	}

	signaler, err := whep.NewClient(endpoint, whep.Auth{
		BearerToken: cfg.BearerToken,
		BasicUser:   cfg.BasicUser,
		BasicPass:   cfg.BasicPass,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid endpoint")
	}

	player := sink.New()
	orch := app.New(signaler, rtc.NewDialer(), player, core.Events{
		OnFlowStall: func(reason string) {
			log.Warn().Str("reason", reason).Msg("flow stalled, restarting")
		},
		OnPlaybackStall: func(reason string) {
			log.Warn().Str("reason", reason).Msg("playback stalled")
		},
	}, app.Config{
		ICEServers: cfg.DomainICEServers(),
		RetryDelay: cfg.RetryDelay,
		Flow:       monitor.FlowConfig{Interval: cfg.FlowInterval},
		Playback:   monitor.PlaybackConfig{Interval: cfg.PlaybackInterval},
	})

	srv := &http.Server{
		Addr:    cfg.ConsoleAddr,
		Handler: console.SetupRouter(cfg.Mode, orch),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.ConsoleAddr).Msg("diagnostics console started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("endpoint", endpoint).Msg("starting playback")
		// A recoverable first attempt keeps retrying in the background;
		// only a permanent failure should stop the process.
		if err := orch.Start(ctx); err != nil && orch.State() == core.StateFailed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		orch.Close()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("exited with error")
		os.Exit(1)
	}
	log.Info().Msg("exited gracefully")
}
