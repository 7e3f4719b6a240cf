package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer      string // Required: issuer claim for elevation grants
	SigningSeed string // Optional: base64 Ed25519 seed; empty generates an ephemeral keypair

	DatabaseFile string // Optional: path to SQLite database file (default: ./stepup.db)
	RedisAddr    string // Optional: Redis address for shared lockout counters; empty keeps them in SQLite

	// WebAuthn relying-party identity.
	RPID          string
	RPOrigin      string
	RPDisplayName string

	// Engine policy knobs. All tunable; defaults are deliberately short.
	RequirementTTL time.Duration // default 5m
	ChallengeTTL   time.Duration // default 5m
	MaxAttempts    int           // default 5
	DeviceTTL      time.Duration // default 30 days
	MaxDeviceTTL   time.Duration // default 90 days
	GrantTTL       time.Duration // default 10m

	LockoutThreshold int           // failures before lockout (default 10)
	LockoutWindow    time.Duration // failure accumulation window (default 15m)
	LockoutDuration  time.Duration // how long a lockout holds (default 15m)

	OTPDigits       int           // delivered-code length (default 6)
	OTPCodeTTL      time.Duration // delivered-code validity (default 5m)
	BackupCodeCount int           // codes per batch (default 10)
	WebAuthnMaxKeys int           // credentials per user (default 5)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Sweep interval (default: 15m)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:      getEnvOrDefault("STEPUP_ISSUER", "authsome-stepup"),
		SigningSeed: os.Getenv("STEPUP_SIGNING_SEED"),

		DatabaseFile: getEnvOrDefault("STEPUP_DATABASE_FILE", "stepup.db"),
		RedisAddr:    os.Getenv("STEPUP_REDIS_ADDR"),

		RPID:          getEnvOrDefault("STEPUP_RP_ID", "localhost"),
		RPOrigin:      getEnvOrDefault("STEPUP_RP_ORIGIN", "http://localhost:8080"),
		RPDisplayName: getEnvOrDefault("STEPUP_RP_DISPLAY_NAME", "AuthSome"),

		RequirementTTL: getEnvDurationOrDefault("STEPUP_REQUIREMENT_TTL", 5*time.Minute),
		ChallengeTTL:   getEnvDurationOrDefault("STEPUP_CHALLENGE_TTL", 5*time.Minute),
		MaxAttempts:    getEnvIntOrDefault("STEPUP_MAX_ATTEMPTS", 5),
		DeviceTTL:      getEnvDurationOrDefault("STEPUP_DEVICE_TTL", 30*24*time.Hour),
		MaxDeviceTTL:   getEnvDurationOrDefault("STEPUP_MAX_DEVICE_TTL", 90*24*time.Hour),
		GrantTTL:       getEnvDurationOrDefault("STEPUP_GRANT_TTL", 10*time.Minute),

		LockoutThreshold: getEnvIntOrDefault("STEPUP_LOCKOUT_THRESHOLD", 10),
		LockoutWindow:    getEnvDurationOrDefault("STEPUP_LOCKOUT_WINDOW", 15*time.Minute),
		LockoutDuration:  getEnvDurationOrDefault("STEPUP_LOCKOUT_DURATION", 15*time.Minute),

		OTPDigits:       getEnvIntOrDefault("STEPUP_OTP_DIGITS", 6),
		OTPCodeTTL:      getEnvDurationOrDefault("STEPUP_OTP_CODE_TTL", 5*time.Minute),
		BackupCodeCount: getEnvIntOrDefault("STEPUP_BACKUP_CODE_COUNT", 10),
		WebAuthnMaxKeys: getEnvIntOrDefault("STEPUP_WEBAUTHN_MAX_KEYS", 5),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 15*time.Minute),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
