package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string

	// Protocol-level liveness: clients PING every HeartbeatInterval; a
	// connection silent for HeartbeatTimeout is evicted by the sweep, which
	// runs every SweepInterval.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SweepInterval     time.Duration

	EventRetention int
	MaxRooms       int

	// Transport tuning.
	ClientSendBuffer int
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration

	// Empty disables the Redis event journal.
	RedisAddr string

	LogLevel string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ListenAddr:        getString("LISTEN_ADDR", ":8080"),
		HeartbeatInterval: getDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		HeartbeatTimeout:  getDuration("HEARTBEAT_TIMEOUT", 90*time.Second),
		SweepInterval:     getDuration("SWEEP_INTERVAL", 15*time.Second),
		EventRetention:    getInt("EVENT_RETENTION", 50),
		MaxRooms:          getInt("MAX_ROOMS", 0),
		ClientSendBuffer:  getInt("CLIENT_SEND_BUFFER", 256),
		PingInterval:      54 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		RedisAddr:         getString("REDIS_ADDR", ""),
		LogLevel:          getString("LOG_LEVEL", "info"),
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
