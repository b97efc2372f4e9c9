// Package config loads and validates the engine's environment-provided
// configuration: listen port, store coordinates, and the optional signing
// secret for authentication tokens (spec §6.4).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration.
type Config struct {
	// Required
	Port        string
	DatabaseURL string

	// Optional, used only when AuthEnabled is true
	JWTSecret   string
	AuthEnabled bool

	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	WatchPartyPath string
	ChatPath       string

	// Rate limits (M = per minute)
	RateLimitAPIGlobal   string
	RateLimitAPIPublic   string
	RateLimitAPIRooms    string
	RateLimitAPIMessages string
	RateLimitWsIP        string
	RateLimitWsUser      string

	// Domain knobs
	RoomMaxParticipantsDefault int
	ChatHistoryLimit           int
	PlaybackHistoryLimit       int
	ReplayLimit                int
}

// ValidateEnv validates all required environment variables and returns a
// Config. All violations are aggregated into a single error rather than
// failing on the first one encountered.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = buildDatabaseURLFromParts()
	}
	if cfg.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL (or DB_HOST/DB_USER/DB_PASSWORD/DB_NAME/DB_PORT) is required")
	}

	cfg.AuthEnabled = os.Getenv("AUTH_ENABLED") != "false"
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.AuthEnabled {
		if cfg.JWTSecret == "" {
			errs = append(errs, "JWT_SECRET is required when AUTH_ENABLED is not \"false\"")
		} else if len(cfg.JWTSecret) < 32 {
			errs = append(errs, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
		}
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.WatchPartyPath = getEnvOrDefault("WATCH_PARTY_PATH", "/watch-party")
	cfg.ChatPath = getEnvOrDefault("CHAT_PATH", "/chat")

	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitAPIMessages = getEnvOrDefault("RATE_LIMIT_API_MESSAGES", "500-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	cfg.RoomMaxParticipantsDefault = getEnvIntOrDefault("ROOM_MAX_PARTICIPANTS_DEFAULT", 10)
	cfg.ChatHistoryLimit = getEnvIntOrDefault("CHAT_HISTORY_LIMIT", 200)
	cfg.PlaybackHistoryLimit = getEnvIntOrDefault("PLAYBACK_HISTORY_LIMIT", 50)
	cfg.ReplayLimit = getEnvIntOrDefault("REPLAY_LIMIT", 10)

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// buildDatabaseURLFromParts assembles a postgres:// URL from discrete
// DB_HOST/DB_USER/DB_PASSWORD/DB_NAME/DB_PORT variables, the fallback form
// favored by operators who don't want to hand-assemble a connection string.
func buildDatabaseURLFromParts() string {
	host := os.Getenv("DB_HOST")
	name := os.Getenv("DB_NAME")
	if host == "" || name == "" {
		return ""
	}
	user := getEnvOrDefault("DB_USER", "postgres")
	password := os.Getenv("DB_PASSWORD")
	port := getEnvOrDefault("DB_PORT", "5432")
	sslmode := getEnvOrDefault("DB_SSLMODE", "disable")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"port", cfg.Port,
		"database_url", redactDatabaseURL(cfg.DatabaseURL),
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"auth_enabled", cfg.AuthEnabled,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"watch_party_path", cfg.WatchPartyPath,
		"chat_path", cfg.ChatPath,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// redactSecret shows only the first 8 characters of a secret.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		if secret == "" {
			return ""
		}
		return "***"
	}
	return secret[:8] + "***"
}

// redactDatabaseURL hides the password component of a postgres:// URL.
func redactDatabaseURL(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}
