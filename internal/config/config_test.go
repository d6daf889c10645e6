package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8000", cfg.APIBaseURL)
	require.Equal(t, "ws://localhost:8000/ws", cfg.ChannelURL)
	require.Equal(t, "molva.db", cfg.StateFile)
	require.EqualValues(t, 5242880, cfg.MaxAttachmentSize)
	require.Equal(t, 5, cfg.ReconnectAttempts)
	require.Equal(t, 2*time.Second, cfg.ReconnectDelay)
	require.Equal(t, 15*time.Second, cfg.RequestTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MOLVA_API_URL", "https://chat.example.com")
	t.Setenv("MOLVA_MAX_ATTACHMENT", "1024")
	t.Setenv("MOLVA_RECONNECT_ATTEMPTS", "7")
	t.Setenv("MOLVA_RECONNECT_DELAY", "500ms")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://chat.example.com", cfg.APIBaseURL)
	require.EqualValues(t, 1024, cfg.MaxAttachmentSize)
	require.Equal(t, 7, cfg.ReconnectAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.ReconnectDelay)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("MOLVA_MAX_ATTACHMENT", "lots")
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{
		APIBaseURL:        "http://localhost:8000",
		ChannelURL:        "ws://localhost:8000/ws",
		MaxAttachmentSize: 1,
		ReconnectAttempts: 1,
	}
	require.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*Config){
		"missing api url":     func(c *Config) { c.APIBaseURL = "" },
		"missing channel url": func(c *Config) { c.ChannelURL = "" },
		"zero attachment cap": func(c *Config) { c.MaxAttachmentSize = 0 },
		"zero attempts":       func(c *Config) { c.ReconnectAttempts = 0 },
	} {
		cfg := valid
		mutate(&cfg)
		require.Error(t, cfg.Validate(), name)
	}
}
