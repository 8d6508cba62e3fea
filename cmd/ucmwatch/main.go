package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/ucmwatch/internal/api"
	"github.com/snarg/ucmwatch/internal/calllog"
	"github.com/snarg/ucmwatch/internal/config"
	"github.com/snarg/ucmwatch/internal/monitor"
	"github.com/snarg/ucmwatch/internal/ucm"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	flag.StringVar(&overrides.UCMHost, "ucm-host", "", "exchange hostname or IP")
	flag.StringVar(&overrides.DBPath, "db", "", "call log database path")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("ucmwatch starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Call log
	history, err := calllog.Open(cfg.DBPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open call log")
	}
	defer history.Close()

	// Live state and fan-out
	store := monitor.NewStore()
	bus := monitor.NewEventBus(256, 0)
	source := monitor.NewSource(store, bus)

	// Exchange monitor. The HTTP surface keeps serving history and dialing
	// even when this is off or the exchange is unreachable.
	var client *ucm.Client
	if cfg.MonitorEnabled {
		client = ucm.NewClient(ucm.ClientOptions{
			Host:      cfg.UCMHost,
			Port:      cfg.UCMPort,
			Username:  cfg.MonitorUser,
			Password:  cfg.MonitorPass,
			TLSVerify: cfg.TLSVerify,
			Log:       log.With().Str("component", "ucm").Logger(),
		})
		correlator := monitor.NewCorrelator(store, bus, history,
			log.With().Str("component", "monitor").Logger())
		go client.Run(ctx, correlator)
	} else {
		log.Warn().Msg("exchange monitor disabled")
	}

	// Click-to-dial
	var dialer *ucm.Dialer
	if cfg.DialUser != "" {
		dialer = ucm.NewDialer(ucm.DialerOptions{
			Host:      cfg.UCMHost,
			Port:      cfg.UCMPort,
			Username:  cfg.DialUser,
			Password:  cfg.DialPass,
			TLSVerify: cfg.TLSVerify,
			Log:       log.With().Str("component", "dialer").Logger(),
		})
	} else {
		log.Warn().Msg("no API credentials configured, click-to-dial disabled")
	}

	// HTTP server
	deps := api.Deps{
		Monitor: source,
		History: history,
	}
	if client != nil {
		deps.MonitorStatus = client
	}
	if dialer != nil {
		deps.Dialer = dialer
	}
	srv := api.NewServer(cfg, deps, version, startTime, log.With().Str("component", "http").Logger())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("ucmwatch stopped")
}
