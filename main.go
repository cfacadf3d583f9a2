// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/pushrelay/server/config"
	"github.com/pushrelay/server/push"
	"github.com/pushrelay/server/router"
	"github.com/pushrelay/server/store"
)

const shutdownTimeout = 10 * time.Second

// parseFlags builds the configuration: defaults, then the optional YAML
// file, then any flag given on the command line.
func parseFlags(args []string, logger zerolog.Logger) (*config.Config, error) {
	app := kingpin.New("pushrelay", "Self-hosted Web Push notification relay.")
	configPath := app.Flag("config", "Path to a YAML config file.").Short('c').String()
	dataDir := app.Flag("data-dir", "Directory holding keys, secret and subscriptions.").Short('d').String()
	host := app.Flag("host", "Address to bind.").String()
	port := app.Flag("port", "Port to bind.").Short('p').Int()
	subject := app.Flag("subject", "VAPID contact (mailto: or https: URL) used when generating keys.").String()
	staticDir := app.Flag("static-dir", "Serve a browser UI from this directory.").String()
	logLevel := app.Flag("log-level", "Log level (debug, info, warn, error).").String()

	if _, err := app.Parse(args); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath, logger)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *subject != "" {
		cfg.Subject = *subject
	}
	if *staticDir != "" {
		cfg.StaticDir = *staticDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(cfg.Level()).With().Timestamp().Logger()
}

// newServer loads persisted state and wires the HTTP server. Key and secret
// failures are fatal; a bad subscriptions file only starts the store empty.
func newServer(cfg *config.Config, logger zerolog.Logger) (*echo.Echo, error) {
	keys := store.NewKeyStore(store.NewFile(cfg.DataPath(config.KeyFile), 0o600), cfg.Subject, logger)
	keyPair, err := keys.LoadOrCreate()
	if err != nil {
		return nil, fmt.Errorf("load VAPID keys: %w", err)
	}

	secret := store.NewSecretStore(store.NewFile(cfg.DataPath(config.SecretFile), 0o600), logger)
	if _, err := secret.LoadOrCreate(); err != nil {
		return nil, fmt.Errorf("load secret: %w", err)
	}
	logger.Info().Str("path", cfg.DataPath(config.SecretFile)).Msg("Shared secret ready")

	subs := store.NewSubscriptionStore(store.NewFile(cfg.DataPath(config.SubscriptionsFile), 0o600), logger)
	subs.Load()

	sender := push.NewWebPushSender(keyPair, push.WebPushOptions{
		TTL:     cfg.Push.TTL,
		Urgency: cfg.Push.Urgency,
		Client:  &http.Client{Timeout: cfg.Push.Timeout},
	})
	dispatcher := push.NewDispatcher(subs, sender, cfg.Push.Concurrency, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = router.ErrorHandler(logger)

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(router.RequestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Cors.AllowedOrigins,
	}))

	if cfg.StaticDir != "" {
		e.Static("/", cfg.StaticDir)
	}

	router.RegisterRoutes(e, &router.State{
		Keys:          keys,
		Secret:        secret,
		Subscriptions: subs,
		Dispatcher:    dispatcher,
		SessionTTL:    cfg.SessionTTL,
		Logger:        logger.With().Str("component", "router").Logger(),
	})
	return e, nil
}

func run(ctx context.Context, e *echo.Echo, addr string, logger zerolog.Logger) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info().Str("address", addr).Msg("Starting pushrelay")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info().Msg("Shutdown complete")
		return nil
	}
}

func main() {
	bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := parseFlags(os.Args[1:], bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger := newLogger(cfg, os.Stdout)

	e, err := newServer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, e, cfg.Addr(), logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}
