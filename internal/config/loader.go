package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/example/hr-portal/internal/logging"
)

// Token store backends.
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config captures environment driven configuration values for the portal.
type Config struct {
	APIBaseURL          string
	HTTPPort            int
	RequestTimeout      time.Duration
	MaintenanceInterval time.Duration
	TokenStore          string
	SQLiteDSN           string
	StateFile           string
	RedisURL            string
	RedisKeyPrefix      string
	LogLevel            slog.Level
	LoginRatePerMinute  int
	// TrustedProxies lists the peers whose X-Forwarded-For header is believed
	// when identifying a client. Empty means the socket address is always used.
	TrustedProxies []netip.Prefix
}

// environment carries the defaults; envdecode leaves a numeric field at zero
// when its value does not parse, which the range checks in Load report.
type environment struct {
	APIBaseURL          string        `env:"HRPORTAL_API_BASE_URL"`
	HTTPPort            int           `env:"HRPORTAL_HTTP_PORT,default=8090"`
	RequestTimeout      time.Duration `env:"HRPORTAL_REQUEST_TIMEOUT,default=15s"`
	MaintenanceInterval time.Duration `env:"HRPORTAL_MAINTENANCE_INTERVAL,default=10s"`
	TokenStore          string        `env:"HRPORTAL_TOKEN_STORE,default=sqlite"`
	SQLiteDSN           string        `env:"HRPORTAL_SQLITE_DSN,default=file:hrportal.db"`
	StateFile           string        `env:"HRPORTAL_STATE_FILE,default=hrportal-session.json"`
	RedisURL            string        `env:"HRPORTAL_REDIS_URL"`
	RedisKeyPrefix      string        `env:"HRPORTAL_REDIS_KEY_PREFIX,default=hrportal:session:"`
	LogLevel            string        `env:"HRPORTAL_LOG_LEVEL,default=info"`
	LoginRate           int           `env:"HRPORTAL_LOGIN_RATE,default=10"`
	TrustedProxies      []string      `env:"HRPORTAL_TRUSTED_PROXIES"`
}

// Load parses configuration values from the current process environment.
//
// Variables are decoded by envdecode, then validated here so that every
// missing or malformed entry is reported in a single localized error.
func Load() (Config, error) {
	var env environment
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("lecture de l'environnement impossible: %w", err)
	}

	cfg := Config{
		HTTPPort:            env.HTTPPort,
		RequestTimeout:      env.RequestTimeout,
		MaintenanceInterval: env.MaintenanceInterval,
		SQLiteDSN:           strings.TrimSpace(env.SQLiteDSN),
		StateFile:           strings.TrimSpace(env.StateFile),
		RedisURL:            strings.TrimSpace(env.RedisURL),
		RedisKeyPrefix:      strings.TrimSpace(env.RedisKeyPrefix),
		LoginRatePerMinute:  env.LoginRate,
	}

	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 4)

	if base := strings.TrimSpace(env.APIBaseURL); base == "" {
		missing = append(missing, "HRPORTAL_API_BASE_URL")
	} else if parsed, err := url.Parse(base); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		invalid = append(invalid, "HRPORTAL_API_BASE_URL")
	} else {
		cfg.APIBaseURL = base
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		invalid = append(invalid, "HRPORTAL_HTTP_PORT")
	}
	if cfg.RequestTimeout <= 0 {
		invalid = append(invalid, "HRPORTAL_REQUEST_TIMEOUT")
	}
	if cfg.MaintenanceInterval <= 0 {
		invalid = append(invalid, "HRPORTAL_MAINTENANCE_INTERVAL")
	}

	switch store := strings.ToLower(strings.TrimSpace(env.TokenStore)); store {
	case StoreSQLite, StoreFile, StoreRedis, StoreMemory:
		cfg.TokenStore = store
	default:
		invalid = append(invalid, "HRPORTAL_TOKEN_STORE")
	}

	if cfg.TokenStore == StoreSQLite && cfg.SQLiteDSN == "" {
		invalid = append(invalid, "HRPORTAL_SQLITE_DSN")
	}
	if cfg.TokenStore == StoreFile && cfg.StateFile == "" {
		invalid = append(invalid, "HRPORTAL_STATE_FILE")
	}
	if cfg.TokenStore == StoreRedis && cfg.RedisURL == "" {
		missing = append(missing, "HRPORTAL_REDIS_URL")
	}

	if level, ok := logging.ParseLevel(strings.TrimSpace(env.LogLevel)); ok {
		cfg.LogLevel = level
	} else {
		invalid = append(invalid, "HRPORTAL_LOG_LEVEL")
	}

	if cfg.LoginRatePerMinute <= 0 {
		invalid = append(invalid, "HRPORTAL_LOGIN_RATE")
	}

	proxies, err := parseTrustedProxies(env.TrustedProxies)
	if err != nil {
		invalid = append(invalid, "HRPORTAL_TRUSTED_PROXIES")
	}
	cfg.TrustedProxies = proxies

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("Variables d'environnement obligatoires manquantes: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("Valeurs de variables d'environnement invalides: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

// parseTrustedProxies accepts CIDR prefixes and bare addresses, the latter
// standing for a single host.
func parseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(value); err == nil {
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(value)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", value, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
