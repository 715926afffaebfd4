package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"ionex/internal/api"
	"ionex/internal/config"
	"ionex/internal/core"
	"ionex/internal/reports"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	configureLogging(cfg.Logging)

	store, err := reports.NewLocalStore(cfg.Reports.LocalDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open report store")
	}

	c := core.New(cfg.Ledger, cfg.Reports.Workers, store)
	if _, err := c.Users.RegisterAdmin(cfg.Bootstrap.AdminName); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap admin user")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	t, ctx := tomb.WithContext(ctx)

	c.StartReports(t)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: api.NewHandler(c).Router(),
	}
	t.Go(func() error {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("starting ionex exchange core")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	t.Go(func() error {
		<-t.Dying()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	<-ctx.Done()
	t.Kill(nil)
	if err := t.Wait(); err != nil {
		log.Error().Err(err).Msg("exchange core exited with error")
		os.Exit(1)
	}
}

func configureLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
