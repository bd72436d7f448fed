package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// GameModeConfig describes one matchmaking queue.
type GameModeConfig struct {
	Name             string
	RequiredPlayers  int
	TickInterval     time.Duration
	RequireLoading   bool
	LoadingTTL       time.Duration
}

type Config struct {
	// Server
	ListenAddr string
	Env        string
	PodID      string

	// CORS
	AllowedOrigins []string

	// Store
	RedisURL string

	// Game modes
	GameModes []GameModeConfig

	// Circuit breaker
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Allocation
	AllocationTTL     time.Duration
	AllocationTimeout time.Duration
	MaxRetries        int
	WatchdogDelay     time.Duration

	// Store call deadlines
	StoreCallTimeout time.Duration

	// Session
	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration
}

// Load loads configuration from environment variables.
// It returns an error if critical configuration is missing.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		Env:        getEnv("ENV", "development"),
		PodID:      getEnv("POD_ID", "default-pod"),

		BreakerThreshold: getEnvInt("BREAKER_THRESHOLD", 5),
		BreakerCooldown:  getEnvDuration("BREAKER_COOLDOWN", 60*time.Second),

		AllocationTTL:     getEnvDuration("ALLOCATION_TTL", 30*time.Second),
		AllocationTimeout: getEnvDuration("ALLOCATION_TIMEOUT", 5*time.Second),
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		WatchdogDelay:     getEnvDuration("WATCHDOG_DELAY", 10*time.Second),

		StoreCallTimeout: getEnvDuration("STORE_CALL_TIMEOUT", 2*time.Second),

		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 15*time.Second),
		ClientTimeout:     getEnvDuration("CLIENT_TIMEOUT", 60*time.Second),
	}

	origins := getEnv("ALLOWED_ORIGINS", "http://localhost:3000")
	for _, o := range strings.Split(origins, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	var err error
	if cfg.RedisURL, err = getEnvRequired("REDIS_URL"); err != nil {
		return nil, err
	}

	modeNames := strings.Split(getEnv("GAME_MODES", "normal_1v1"), ",")
	for _, name := range modeNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		prefix := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		cfg.GameModes = append(cfg.GameModes, GameModeConfig{
			Name:            name,
			RequiredPlayers: getEnvInt(prefix+"_REQUIRED_PLAYERS", 2),
			TickInterval:    getEnvDuration(prefix+"_TICK_INTERVAL", 1*time.Second),
			RequireLoading:  getEnvBool(prefix+"_REQUIRE_LOADING", false),
			LoadingTTL:      getEnvDuration(prefix+"_LOADING_TTL", 20*time.Second),
		})
	}
	if len(cfg.GameModes) == 0 {
		return nil, fmt.Errorf("no game modes configured")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvRequired(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("missing required environment variable: %s", key)
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
