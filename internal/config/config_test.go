package config_test

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/httpnio/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 5, cfg.WindowSize)
	require.Equal(t, 500*time.Millisecond, cfg.PacketTimeout)
	require.Equal(t, 20, cfg.MaxRetries)
	require.Equal(t, 1013, cfg.MaxPayload)
	require.Equal(t, 8080, cfg.Port)
}

func TestValidateRejects(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero window", func(c *config.Config) { c.WindowSize = 0 }},
		{"zero timeout", func(c *config.Config) { c.PacketTimeout = 0 }},
		{"zero retries", func(c *config.Config) { c.MaxRetries = 0 }},
		{"payload too large", func(c *config.Config) { c.MaxPayload = 1014 }},
		{"negative drain", func(c *config.Config) { c.DrainRounds = -1 }},
		{"zero inbox", func(c *config.Config) { c.InboxSize = 0 }},
		{"bad transport", func(c *config.Config) { c.Transport = "carrier-pigeon" }},
		{"bad port", func(c *config.Config) { c.Port = 70000 }},
		{"zero request timeout", func(c *config.Config) { c.RequestTimeout = 0 }},
		{"zero workers", func(c *config.Config) { c.Workers = 0 }},
		{"bad router", func(c *config.Config) { c.RouterAddr = "no-port" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, errors.Is(err, config.ErrInvalidConfig))
		})
	}
}

func TestParseTransport(t *testing.T) {
	for in, want := range map[string]config.TransportKind{
		"tcp":       config.TransportStream,
		"UDP":       config.TransportReliable,
		" ws ":      config.TransportWebSocket,
		"reliable":  config.TransportReliable,
		"websocket": config.TransportWebSocket,
	} {
		got, err := config.ParseTransport(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}

func TestRouter(t *testing.T) {
	cfg := config.Default()
	ap, err := cfg.Router()
	require.NoError(t, err)
	require.False(t, ap.IsValid())

	cfg.RouterAddr = "127.0.0.1:3000"
	ap, err = cfg.Router()
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddrPort("127.0.0.1:3000"), ap)
}
