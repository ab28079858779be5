package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/talkie/internal/adapters/audio"
	router "github.com/dkeye/talkie/internal/adapters/http"
	wssignal "github.com/dkeye/talkie/internal/adapters/signal"
	"github.com/dkeye/talkie/internal/app"
	"github.com/dkeye/talkie/internal/app/chat"
	"github.com/dkeye/talkie/internal/app/heartbeat"
	"github.com/dkeye/talkie/internal/app/orch"
	"github.com/dkeye/talkie/internal/app/signaling"
	"github.com/dkeye/talkie/internal/auth"
	"github.com/dkeye/talkie/internal/config"
	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/metrics"
	"github.com/dkeye/talkie/internal/protocol"
	"github.com/dkeye/talkie/internal/store/badgerstore"
	"github.com/dkeye/talkie/internal/store/postgres"
)

const shutdownTimeout = 10 * time.Second

type store interface {
	core.MembershipStore
	core.MessageStore
	io.Closer
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg.PostgresDSN, postgres.Options{MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute})
	case "badger":
		return badgerstore.Open(cfg.BadgerPath)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogger(cfg.Log)
	return cfg, nil
}

func serve(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("store close")
		}
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var policy app.Policy = app.SimplePolicy{}
	if cfg.Chat.TolerantBackpressure {
		policy = app.TolerantPolicy{}
	}

	reg := app.NewRegistry(app.NewDirectory(), cfg.Registry.AllowMultipleSessions)
	engine := chat.NewEngine(st, st, reg, chat.Options{
		HistoryLimit: cfg.Chat.HistoryLimit,
		LaneQueue:    cfg.Chat.LaneQueue,
		LaneIdle:     cfg.Chat.LaneIdleTimeout,
		StoreTimeout: cfg.Chat.StoreTimeout,
	}, m)
	signals := signaling.NewRouter(audio.NewRTPProcessor(), signaling.Options{EchoAudio: cfg.Signaling.EchoAudio}, m)
	o := orch.New(reg, st, signals, engine, policy, m)
	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	ctl := wssignal.NewSignalWSController(o, verifier, protocol.NewDecoder(cfg.Signaling.ValidateSDP), wssignal.Options{
		SendBuffer:      cfg.WS.SendBuffer,
		WriteWait:       cfg.WS.WriteWait,
		ReadLimit:       cfg.ReadLimit,
		PongWait:        2*cfg.Heartbeat.Interval + cfg.WS.WriteWait,
		EventsPerSecond: cfg.RateLimit.EventsPerSecond,
		Burst:           cfg.RateLimit.Burst,
	}, m)

	r := router.SetupRouter(ctx, cfg, router.Deps{Orch: o, Signal: ctl, Verifier: verifier, Metrics: m})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	monitor := heartbeat.NewMonitor(reg, o, cfg.Heartbeat.Interval, m)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info().Str("addr", addr).Str("store", cfg.Store.Driver).Msg("talkie server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return monitor.Run(gctx)
	})
	group.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		if err := o.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("relay shutdown incomplete")
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
