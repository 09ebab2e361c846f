package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aussiebroadwan/trackgate/internal/access/service"
	"github.com/aussiebroadwan/trackgate/pkg/jwtx"
)

// Credential store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	Issuer    string // issuer claim for tokens (default: trackgate)
	Algorithm string // JWT signing algorithm, EdDSA or ES256 (default: EdDSA)
	NumKeys   int    // number of signing keys to generate (default: 3, max: 10)

	AccessTTL             time.Duration // default: 10m
	RefreshTTL            time.Duration // default: 7d
	TokenLeeway           time.Duration // clock skew tolerance (default: 0)
	RevokeSessionOnReplay bool          // revoke the whole session when a rotated refresh token is replayed

	DatabaseFile    string // path to SQLite database file (default: ./trackgate.db)
	PepperFile      string // path to the password pepper (default: ./pepper)
	CredentialStore string // sqlite, memory or redis (default: sqlite)
	RedisAddr       string // required for the redis credential store
	RedisPrefix     string

	AuditKafkaBrokers []string // audit decisions go to Kafka when set
	AuditKafkaTopic   string
	AuditBuffer       int

	// BootstrapUsername creates a staff subject on startup when no subject
	// with that name exists. Without BootstrapPassword a password is
	// generated and logged once.
	BootstrapUsername string
	BootstrapPassword string

	Env                  string        // dev, staging, prod (default: dev)
	LogLevel             string        // debug, info, warn, error (default: info)
	LogFormat            string        // json, text (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // default: 10s
	HousekeepingInterval time.Duration // default: 1h
}

// LoadConfig reads the environment, after loading a .env file from the
// working directory if there is one.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Issuer:                getEnvOrDefault("ACCESS_ISSUER", "trackgate"),
		Algorithm:             getEnvOrDefault("ACCESS_ALGORITHM", jwtx.AlgorithmEdDSA),
		NumKeys:               getEnvIntOrDefault("ACCESS_NUM_KEYS", 3),
		AccessTTL:             getEnvDurationOrDefault("ACCESS_TOKEN_TTL", service.DefaultAccessTTL),
		RefreshTTL:            getEnvDurationOrDefault("REFRESH_TOKEN_TTL", service.DefaultRefreshTTL),
		TokenLeeway:           getEnvDurationOrDefault("ACCESS_TOKEN_LEEWAY", 0),
		RevokeSessionOnReplay: getEnvBoolOrDefault("REVOKE_SESSION_ON_REPLAY", true),
		DatabaseFile:          getEnvOrDefault("ACCESS_DATABASE_FILE", "trackgate.db"),
		PepperFile:            getEnvOrDefault("ACCESS_PEPPER_FILE", "pepper"),
		CredentialStore:       strings.ToLower(getEnvOrDefault("CREDENTIAL_STORE", StoreSQLite)),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPrefix:           getEnvOrDefault("REDIS_PREFIX", "trackgate:"),
		AuditKafkaBrokers:     getEnvListOrDefault("AUDIT_KAFKA_BROKERS", nil),
		AuditKafkaTopic:       getEnvOrDefault("AUDIT_KAFKA_TOPIC", "trackgate.decisions"),
		AuditBuffer:           getEnvIntOrDefault("AUDIT_BUFFER", 1024),
		BootstrapUsername:     os.Getenv("BOOTSTRAP_USERNAME"),
		BootstrapPassword:     os.Getenv("BOOTSTRAP_PASSWORD"),
		Env:                   getEnvOrDefault("ENV", "dev"),
		LogLevel:              getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:             getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                  getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:   getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval:  getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", time.Hour),
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings the application cannot start with.
func (c Config) Validate() error {
	var errs []error

	switch c.Algorithm {
	case jwtx.AlgorithmEdDSA, jwtx.AlgorithmES256:
	default:
		errs = append(errs, fmt.Errorf("ACCESS_ALGORITHM: unsupported algorithm %q", c.Algorithm))
	}

	switch c.CredentialStore {
	case StoreSQLite, StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis credential store"))
		}
	default:
		errs = append(errs, fmt.Errorf("CREDENTIAL_STORE: unknown store %q", c.CredentialStore))
	}

	if c.AccessTTL <= 0 || c.AccessTTL >= c.RefreshTTL {
		errs = append(errs, fmt.Errorf("ACCESS_TOKEN_TTL %s must be positive and shorter than REFRESH_TOKEN_TTL %s", c.AccessTTL, c.RefreshTTL))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT: %d is out of range", c.Port))
	}

	return errors.Join(errs...)
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

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}

// getEnvListOrDefault splits a comma separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for part := range strings.SplitSeq(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
