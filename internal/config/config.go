package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"huddle/internal/content"

	"github.com/joho/godotenv"
)

const (
	StoreBbolt  = "bbolt"
	StorePebble = "pebble"
)

type Config struct {
	ChatURL      string
	FilesURL     string
	Room         string
	UserName     string
	DBFile       string
	Store        string
	CacheDir     string
	Playback     bool
	Compact      bool
	PageSize     int
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	LogLevel     string

	RelayAddr    string
	RelayUploads string
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{
		ChatURL:      getEnv("HUDDLE_CHAT_URL", "ws://localhost:8080/ws/{room}"),
		FilesURL:     getEnv("HUDDLE_FILES_URL", "http://localhost:8080"),
		Room:         getEnv("HUDDLE_ROOM", "lobby"),
		UserName:     getEnv("HUDDLE_USER", ""),
		DBFile:       getEnv("HUDDLE_DB", "huddle.db"),
		Store:        getEnv("HUDDLE_STORE", StoreBbolt),
		CacheDir:     getEnv("HUDDLE_CACHE_DIR", ""),
		Playback:     getEnvAsBool("HUDDLE_PLAYBACK", true),
		Compact:      getEnvAsBool("HUDDLE_COMPACT", false),
		PageSize:     getEnvAsInt("HUDDLE_PAGE_SIZE", 0),
		ReconnectMin: getEnvAsDuration("HUDDLE_RECONNECT_MIN", 500*time.Millisecond),
		ReconnectMax: getEnvAsDuration("HUDDLE_RECONNECT_MAX", 10*time.Second),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		RelayAddr:    getEnv("RELAY_ADDR", ":8080"),
		RelayUploads: getEnv("RELAY_UPLOADS", "uploads"),
	}

	return cfg, nil
}

// Validate checks the settings needed to join a room.
func (c *Config) Validate() error {
	if err := content.ValidateRoomID(c.Room); err != nil {
		return fmt.Errorf("HUDDLE_ROOM: %w", err)
	}
	if c.UserName == "" {
		return fmt.Errorf("HUDDLE_USER is required")
	}
	if c.ChatURL == "" {
		return fmt.Errorf("HUDDLE_CHAT_URL is required")
	}
	if c.ReconnectMin <= 0 {
		return fmt.Errorf("HUDDLE_RECONNECT_MIN must be greater than 0")
	}
	if c.ReconnectMax < c.ReconnectMin {
		return fmt.Errorf("HUDDLE_RECONNECT_MAX must not be less than HUDDLE_RECONNECT_MIN")
	}
	if c.PageSize < 0 {
		return fmt.Errorf("HUDDLE_PAGE_SIZE must not be negative")
	}
	switch c.Store {
	case StoreBbolt, StorePebble:
	default:
		return fmt.Errorf("unknown HUDDLE_STORE %q", c.Store)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}
