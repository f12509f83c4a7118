package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr string
	PublicURL  string

	RedisURL    string
	DatabaseURL string

	TimeControl     string
	RoomIdleTimeout time.Duration
	MaxRooms        int

	RatingsBaseURL string

	MessageDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:      ":8420",
		TimeControl:     "10+5",
		RoomIdleTimeout: 30 * time.Minute,
		MaxRooms:        500,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.PublicURL = strings.TrimSpace(os.Getenv("PUBLIC_URL"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("TIME_CONTROL")); v != "" {
		cfg.TimeControl = v
	}
	if v := strings.TrimSpace(os.Getenv("ROOM_IDLE_TIMEOUT")); v != "" { // seconds
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RoomIdleTimeout = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_ROOMS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRooms = n
		}
	}

	cfg.RatingsBaseURL = strings.TrimSpace(os.Getenv("RATINGS_BASE_URL"))
	cfg.MessageDir = strings.TrimSpace(os.Getenv("MESSAGE_DIR"))

	if cfg.ListenAddr == "" {
		return nil, errors.New("LISTEN_ADDR is required")
	}

	return cfg, nil
}
