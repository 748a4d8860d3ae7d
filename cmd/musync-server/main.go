package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/rebenew/musync/internal/adapters/http"
	"github.com/rebenew/musync/internal/broadcast"
	"github.com/rebenew/musync/internal/config"
	"github.com/rebenew/musync/internal/core"
	"github.com/rebenew/musync/internal/gateway"
	"github.com/rebenew/musync/internal/health"
	"github.com/rebenew/musync/internal/registry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early, before anything else logs.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	bc := broadcast.New()
	reg := registry.New(bc, core.Config{
		HostTimeout:        cfg.HostTimeout(),
		ReconnectionWindow: cfg.ReconnectionWindow(),
	})

	monitor := health.New(reg, health.Config{
		HealthCheckInterval: cfg.HealthCheckInterval(),
		CleanupInterval:     cfg.CleanupInterval(),
		HostTimeout:         cfg.HostTimeout(),
		ReconnectionWindow:  cfg.ReconnectionWindow(),
	})
	monitor.Start()

	gw := gateway.New(reg, bc, gateway.Config{
		ClientIdleTimeout:  cfg.ClientIdleTimeout(),
		MaxOutboundBacklog: cfg.MaxOutboundBacklog,
		OverflowAction:     gateway.KickConnection,
		RateLimit:          60,
		RateLimitWindow:    10 * time.Second,
	})

	r := router.SetupRouter(ctx, cfg, reg, gw)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("musync server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	monitor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	reg.Shutdown()
	log.Info().Msg("server exited gracefully")
}
