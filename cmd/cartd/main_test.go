package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartsync/internal/config"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name      string
		env       string
		level     string
		wantJSON  bool
		wantDebug bool
	}{
		{"development text", "development", "info", false, false},
		{"production json", "production", "warn", true, false},
		{"debug", "development", "debug", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := initLogger(&buf, &config.Config{Environment: tt.env, LogLevel: tt.level})

			logger.Debug("dbg")
			logger.Error("boom")

			out := buf.String()
			assert.Equal(t, tt.wantJSON, strings.HasPrefix(out, "{"), out)
			assert.Equal(t, tt.wantDebug, strings.Contains(out, "dbg"), out)
			assert.Contains(t, out, "boom")
		})
	}
}

func TestBuildTiers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("memory only", func(t *testing.T) {
		cfg := config.Default()
		cfg.Store.Driver = config.DriverMemory

		tiers, pinger, closer, err := buildTiers(ctx, &cfg, logger)
		require.NoError(t, err)
		defer closer()

		require.Len(t, tiers, 1)
		assert.Equal(t, "local", tiers[0].Name())
		assert.Nil(t, pinger)
	})

	t.Run("sqlite and remote", func(t *testing.T) {
		cfg := config.Default()
		cfg.Store.DSN = filepath.Join(t.TempDir(), "cart.db")
		cfg.Remote.BaseURL = "http://127.0.0.1:1"

		tiers, pinger, closer, err := buildTiers(ctx, &cfg, logger)
		require.NoError(t, err)
		defer closer()

		require.Len(t, tiers, 2)
		assert.Equal(t, "local", tiers[0].Name())
		assert.Equal(t, "remote", tiers[1].Name())
		require.NotNil(t, pinger)
		assert.NoError(t, pinger.Ping(ctx))
	})
}
