// cartd serves the cart API over the local store, falling back to the
// remote cart service when the store cannot answer.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cartsync/internal/adapter"
	"cartsync/internal/config"
	"cartsync/internal/handler"
	"cartsync/internal/identity"
	"cartsync/internal/middleware"
	"cartsync/internal/remote"
	"cartsync/internal/service"
	"cartsync/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := initLogger(os.Stdout, cfg)
	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("store_driver", cfg.Store.Driver),
		slog.Bool("remote_enabled", cfg.Remote.BaseURL != ""),
	)

	tiers, pinger, closeTiers, err := buildTiers(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTiers()

	svc := service.New(tiers, logger)
	h := handler.New(svc, pinger, logger)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Recovery runs inside RequestID so panic logs carry the request id.
	// Logging sits inside the session middleware to see the resolved owner.
	httpHandler := middleware.Chain(
		middleware.RequestID(),
		middleware.Recovery(logger),
		identity.Middleware(logger),
		middleware.Logging(logger),
	)(mux)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", server.Addr),
			slog.Any("tiers", svc.Tiers()),
		)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// buildTiers opens the local store and, when configured, the remote client,
// in fallback order. The returned func closes whatever was opened.
func buildTiers(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]adapter.Tier, handler.Pinger, func(), error) {
	var (
		tiers  []adapter.Tier
		pinger handler.Pinger
		closer = func() {}
	)

	if cfg.Store.Driver == config.DriverMemory {
		logger.Warn("using in-memory store; carts are lost on restart")
		tiers = append(tiers, adapter.NewMemory("local"))
	} else {
		st, err := store.Open(ctx, store.Config{
			Driver:       cfg.Store.Driver,
			DSN:          cfg.Store.DSN,
			MaxOpenConns: cfg.Store.MaxOpenConns,
		}, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening local store: %w", err)
		}
		tiers = append(tiers, st)
		pinger = st
		closer = func() {
			if err := st.Close(); err != nil {
				logger.Error("closing local store", slog.String("error", err.Error()))
			}
		}
	}

	if cfg.Remote.BaseURL != "" {
		rc, err := remote.New(remote.Config{
			BaseURL:          cfg.Remote.BaseURL,
			APIKey:           cfg.Remote.APIKey,
			PrimaryMergePath: cfg.Remote.PrimaryMergePath,
			LegacyMergePath:  cfg.Remote.LegacyMergePath,
			Timeout:          cfg.Remote.Timeout,
			Fingerprint:      cfg.Remote.Fingerprint,
		}, logger)
		if err != nil {
			closer()
			return nil, nil, nil, fmt.Errorf("creating remote client: %w", err)
		}
		tiers = append(tiers, rc)
	}

	return tiers, pinger, closer, nil
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON for Cloud Logging; development uses text.
func initLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if cfg.Environment == "production" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
