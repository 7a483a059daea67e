package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string
	AdminAPIKey string
	CountryCode string

	StrictSchema bool

	RevocationBaseURL         string
	TrustListBaseURL          string
	SyncIntervalSeconds       int
	RevocationSyncConcurrency int
	RevocationNibbles         int
	HTTPTimeoutSeconds        int

	RulesBundlePath string
	RulesBundleID   string
	RulesValueSets  string

	TrustVaultPath   string
	TrustVaultSecret string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	LockTTLSeconds int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                  addr,
		PostgresDSN:               os.Getenv("POSTGRES_DSN"),
		LogLevel:                  envDefault("LOG_LEVEL", "info"),
		AdminAPIKey:               os.Getenv("ADMIN_API_KEY"),
		CountryCode:               envDefault("COUNTRY_CODE", "DE"),
		StrictSchema:              envBoolDefault("STRICT_SCHEMA", true),
		RevocationBaseURL:         os.Getenv("REVOCATION_BASE_URL"),
		TrustListBaseURL:          os.Getenv("TRUSTLIST_BASE_URL"),
		SyncIntervalSeconds:       envIntDefault("SYNC_INTERVAL_SECONDS", 3600),
		RevocationSyncConcurrency: envIntDefault("REVOCATION_SYNC_CONCURRENCY", 4),
		RevocationNibbles:         envIntDefault("REVOCATION_NIBBLES", 1),
		HTTPTimeoutSeconds:        envIntDefault("HTTP_TIMEOUT_SECONDS", 30),
		RulesBundlePath:           os.Getenv("RULES_BUNDLE_PATH"),
		RulesBundleID:             envDefault("RULES_BUNDLE_ID", "reference_v0"),
		RulesValueSets:            os.Getenv("RULES_VALUE_SETS"),
		TrustVaultPath:            os.Getenv("TRUST_VAULT_PATH"),
		TrustVaultSecret:          os.Getenv("TRUST_VAULT_SECRET"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   envIntDefault("REDIS_DB", 0),
		LockTTLSeconds:            envIntDefault("LOCK_TTL_SECONDS", 60),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func (c Config) SyncInterval() time.Duration {
	if c.SyncIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}
