// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relaychat service.
package server

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends for the message history.
const (
	StorageFile   = "file"
	StorageGitHub = "github"
)

// RateLimitConfig defines the parameters for token-bucket rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// GitHubConfig locates the repository that holds the encrypted history.
type GitHubConfig struct {
	APIBase   string
	Token     string
	Repo      string
	Branch    string
	DataPath  string
	Secret    string
	ShardSize int
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	Env            string
	AllowedOrigins []string
	MaxMessageSize int64
	// RateLimit throttles frames on one WebSocket connection.
	RateLimit RateLimitConfig
	// HTTPRateLimit throttles POST requests per client IP.
	HTTPRateLimit RateLimitConfig

	DataDir   string
	StaticDir string
	Storage   string
	GitHub    GitHubConfig
	RedisURL  string

	VAPIDSubject string
	PushTTL      time.Duration
	PushTimeout  time.Duration
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: ":3000",
		Env:  "development",
		AllowedOrigins: []string{
			"http://localhost:3000",
		},
		MaxMessageSize: 5 << 20,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		HTTPRateLimit: RateLimitConfig{
			Burst:          30,
			RefillInterval: 10 * time.Second,
		},
		DataDir:      ".",
		StaticDir:    "public",
		Storage:      StorageFile,
		GitHub:       GitHubConfig{Branch: "main", DataPath: "data", ShardSize: 500},
		VAPIDSubject: "mailto:test@example.com",
		PushTTL:      24 * time.Hour,
		PushTimeout:  time.Minute,
	}
}

func sanitizeRateLimit(rl, def RateLimitConfig) RateLimitConfig {
	if rl.Burst <= 0 {
		rl.Burst = def.Burst
	}
	if rl.RefillInterval <= 0 {
		rl.RefillInterval = def.RefillInterval
	}
	return rl
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.Env == "" {
		cfg.Env = def.Env
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	cfg.RateLimit = sanitizeRateLimit(cfg.RateLimit, def.RateLimit)
	cfg.HTTPRateLimit = sanitizeRateLimit(cfg.HTTPRateLimit, def.HTTPRateLimit)
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.Storage == "" {
		cfg.Storage = def.Storage
	}
	if cfg.GitHub.Branch == "" {
		cfg.GitHub.Branch = def.GitHub.Branch
	}
	if cfg.GitHub.DataPath == "" {
		cfg.GitHub.DataPath = def.GitHub.DataPath
	}
	if cfg.GitHub.ShardSize <= 0 {
		cfg.GitHub.ShardSize = def.GitHub.ShardSize
	}
	if cfg.VAPIDSubject == "" {
		cfg.VAPIDSubject = def.VAPIDSubject
	}
	if cfg.PushTTL <= 0 {
		cfg.PushTTL = def.PushTTL
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = def.PushTimeout
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		sanitizeConfig(defaultConfig())
		return
	}

	sanitized := *cfg
	sanitized.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitizeConfig(sanitized)
}

// CurrentConfig returns a copy of the active configuration.
func CurrentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	if len(c.AllowedOrigins) > 0 {
		if origins, all := normalizeOrigins(c.AllowedOrigins); len(origins) == 0 && !all {
			errs = append(errs, errors.New("ALLOWED_ORIGINS contains no valid origin"))
		}
	}
	switch c.Storage {
	case StorageFile:
	case StorageGitHub:
		if c.GitHub.Token == "" {
			errs = append(errs, errors.New("GITHUB_TOKEN is required for github storage"))
		}
		if c.GitHub.Repo == "" {
			errs = append(errs, errors.New("GITHUB_REPO is required for github storage"))
		} else if !strings.Contains(c.GitHub.Repo, "/") {
			errs = append(errs, errors.New("GITHUB_REPO must be owner/name"))
		}
		if c.GitHub.Secret == "" {
			errs = append(errs, errors.New("ENCRYPT_SECRET is required for github storage"))
		}
	default:
		errs = append(errs, errors.New("STORAGE must be \"file\" or \"github\""))
	}
	return errors.Join(errs...)
}

// NewConfigFromEnv creates a Config instance from environment variables,
// reading a .env file first when one exists.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	_ = godotenv.Load()

	cfg := defaultConfig()

	// Load SERVER_PORT (PORT is accepted for platform compatibility)
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	} else if port := os.Getenv("PORT"); port != "" {
		cfg.Port = ":" + strings.TrimPrefix(port, ":")
	}

	cfg.Env = getEnv("ENV", cfg.Env)

	// Load ALLOWED_ORIGINS
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	// Load MAX_MESSAGE_SIZE
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	// Load RATE_LIMIT_BURST
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	// Load RATE_LIMIT_REFILL_INTERVAL
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if burst := os.Getenv("HTTP_RATE_LIMIT_BURST"); burst != "" {
		cfg.HTTPRateLimit.Burst = parseIntValue(burst, cfg.HTTPRateLimit.Burst)
	}

	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.StaticDir = getEnv("STATIC_DIR", cfg.StaticDir)
	cfg.Storage = strings.ToLower(getEnv("STORAGE", cfg.Storage))
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.GitHub.APIBase = os.Getenv("GITHUB_API_URL")
	cfg.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	cfg.GitHub.Repo = os.Getenv("GITHUB_REPO")
	cfg.GitHub.Branch = getEnv("GITHUB_BRANCH", cfg.GitHub.Branch)
	cfg.GitHub.DataPath = getEnv("GITHUB_DATA_PATH", cfg.GitHub.DataPath)
	cfg.GitHub.Secret = os.Getenv("ENCRYPT_SECRET")
	if size := os.Getenv("SHARD_SIZE"); size != "" {
		cfg.GitHub.ShardSize = parseIntValue(size, cfg.GitHub.ShardSize)
	}

	cfg.VAPIDSubject = getEnv("VAPID_SUBJECT", cfg.VAPIDSubject)
	if ttl := os.Getenv("PUSH_TTL"); ttl != "" {
		cfg.PushTTL = parseSeconds(ttl, cfg.PushTTL)
	}
	if timeout := os.Getenv("PUSH_TIMEOUT"); timeout != "" {
		cfg.PushTimeout = parseSeconds(timeout, cfg.PushTimeout)
	}

	return &cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
