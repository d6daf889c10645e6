package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	APIBaseURL        string
	ChannelURL        string
	StateFile         string
	MaxAttachmentSize int64
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	RequestTimeout    time.Duration
}

func Load() (*Config, error) {
	maxSize, err := strconv.ParseInt(getEnv("MOLVA_MAX_ATTACHMENT", "5242880"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("MOLVA_MAX_ATTACHMENT: %w", err)
	}

	attempts, err := strconv.Atoi(getEnv("MOLVA_RECONNECT_ATTEMPTS", "5"))
	if err != nil {
		return nil, fmt.Errorf("MOLVA_RECONNECT_ATTEMPTS: %w", err)
	}

	reconnectDelay, err := time.ParseDuration(getEnv("MOLVA_RECONNECT_DELAY", "2s"))
	if err != nil {
		return nil, fmt.Errorf("MOLVA_RECONNECT_DELAY: %w", err)
	}

	requestTimeout, err := time.ParseDuration(getEnv("MOLVA_REQUEST_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("MOLVA_REQUEST_TIMEOUT: %w", err)
	}

	cfg := &Config{
		APIBaseURL:        getEnv("MOLVA_API_URL", "http://localhost:8000"),
		ChannelURL:        getEnv("MOLVA_CHANNEL_URL", "ws://localhost:8000/ws"),
		StateFile:         getEnv("MOLVA_STATE", "molva.db"),
		MaxAttachmentSize: maxSize,
		ReconnectAttempts: attempts,
		ReconnectDelay:    reconnectDelay,
		RequestTimeout:    requestTimeout,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("MOLVA_API_URL is required")
	}
	if c.ChannelURL == "" {
		return fmt.Errorf("MOLVA_CHANNEL_URL is required")
	}
	if c.MaxAttachmentSize <= 0 {
		return fmt.Errorf("MOLVA_MAX_ATTACHMENT must be greater than 0")
	}
	if c.ReconnectAttempts <= 0 {
		return fmt.Errorf("MOLVA_RECONNECT_ATTEMPTS must be greater than 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
