package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HUDDLE_USER", "alice")
	t.Setenv("HUDDLE_ROOM", "standup")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "alice", cfg.UserName)
	require.Equal(t, "standup", cfg.Room)
	require.Equal(t, StoreBbolt, cfg.Store)
	require.True(t, cfg.Playback)
	require.Equal(t, 500*time.Millisecond, cfg.ReconnectMin)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HUDDLE_USER", "bob")
	t.Setenv("HUDDLE_STORE", StorePebble)
	t.Setenv("HUDDLE_PLAYBACK", "false")
	t.Setenv("HUDDLE_PAGE_SIZE", "6")
	t.Setenv("HUDDLE_RECONNECT_MAX", "30s")
	t.Setenv("HUDDLE_COMPACT", "not-a-bool")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, StorePebble, cfg.Store)
	require.False(t, cfg.Playback)
	require.False(t, cfg.Compact)
	require.Equal(t, 6, cfg.PageSize)
	require.Equal(t, 30*time.Second, cfg.ReconnectMax)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ChatURL:      "ws://localhost/ws/{room}",
			Room:         "room-1",
			UserName:     "alice",
			Store:        StoreBbolt,
			ReconnectMin: time.Second,
			ReconnectMax: time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"Valid", func(c *Config) {}, false},
		{"Bad room", func(c *Config) { c.Room = "room one" }, true},
		{"Empty room", func(c *Config) { c.Room = "" }, true},
		{"No user", func(c *Config) { c.UserName = "" }, true},
		{"No URL", func(c *Config) { c.ChatURL = "" }, true},
		{"Zero backoff", func(c *Config) { c.ReconnectMin = 0 }, true},
		{"Inverted backoff", func(c *Config) { c.ReconnectMax = time.Millisecond }, true},
		{"Negative page size", func(c *Config) { c.PageSize = -1 }, true},
		{"Unknown store", func(c *Config) { c.Store = "sqlite" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
