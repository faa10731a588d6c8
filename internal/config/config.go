package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration populated from environment variables.
type Config struct {
	// App
	AppName     string
	AppVersion  string
	Host        string
	Port        int
	Environment string // "development" or "production"
	Debug       bool
	CORSOrigins string // comma-separated list or "*"

	// Supabase (PostgREST repository + JWT verification)
	SupabaseURL        string
	SupabaseKey        string
	SupabaseServiceKey string
	JWTSecret          string

	// Direct Postgres repository. Takes precedence over Supabase when set.
	DatabaseURL     string
	DatabaseMaxConn int
	DatabaseMinConn int

	// Redis
	RedisURL      string
	RedisPassword string

	// Limits
	MaxMessagesPerMinute int
	MaxConnectionsPerIP  int

	// Timing
	MessageQueueRetention time.Duration
	PingTimeout           time.Duration
	PingInterval          time.Duration
	TypingTimeout         time.Duration
}

// Load reads configuration from environment variables, merging a local .env
// file first when one exists (real environment variables win; production
// deployments set variables directly). It returns an error if any variable is
// set but cannot be parsed, or if required values are missing.
func Load() (*Config, error) {
	_ = godotenv.Load()

	p := &parser{}

	cfg := &Config{
		AppName:     envStr("APP_NAME", "Papo Hub"),
		AppVersion:  envStr("APP_VERSION", "1.0.0"),
		Host:        envStr("HOST", "0.0.0.0"),
		Port:        p.int("PORT", 8000),
		Environment: envStr("ENVIRONMENT", "development"),
		Debug:       p.bool("DEBUG", true),
		CORSOrigins: envStr("CORS_ORIGINS", "*"),

		SupabaseURL:        envStr("SUPABASE_URL", ""),
		SupabaseKey:        envStr("SUPABASE_KEY", ""),
		SupabaseServiceKey: envStr("SUPABASE_SERVICE_KEY", ""),
		JWTSecret:          envStr("SUPABASE_JWT_SECRET", ""),

		DatabaseURL:     envStr("DATABASE_URL", ""),
		DatabaseMaxConn: p.int("DATABASE_MAX_CONNS", 25),
		DatabaseMinConn: p.int("DATABASE_MIN_CONNS", 5),

		RedisURL:      envStr("REDIS_URL", "redis://localhost:6379"),
		RedisPassword: envStr("REDIS_PASSWORD", ""),

		MaxMessagesPerMinute: p.int("MAX_MESSAGES_PER_MINUTE", 30),
		MaxConnectionsPerIP:  p.int("MAX_CONNECTIONS_PER_IP", 5),

		MessageQueueRetention: p.seconds("MESSAGE_QUEUE_RETENTION", 86400*time.Second),
		PingTimeout:           p.seconds("SOCKETIO_PING_TIMEOUT", 60*time.Second),
		PingInterval:          p.seconds("SOCKETIO_PING_INTERVAL", 25*time.Second),
		TypingTimeout:         p.seconds("TYPING_TIMEOUT", 10*time.Second),
	}

	if parseErr := errors.Join(p.errs...); parseErr != nil {
		return nil, parseErr
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// UsesDirectPostgres returns true when the direct Postgres repository should
// be used instead of the Supabase PostgREST client.
func (c *Config) UsesDirectPostgres() bool {
	return c.DatabaseURL != ""
}

func (c *Config) validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("SUPABASE_JWT_SECRET is required"))
	}

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535"))
	}

	if c.DatabaseURL == "" && c.SupabaseURL == "" {
		errs = append(errs, fmt.Errorf("either SUPABASE_URL or DATABASE_URL is required"))
	}
	if c.DatabaseURL == "" && c.SupabaseURL != "" && c.SupabaseServiceKey == "" {
		errs = append(errs, fmt.Errorf("SUPABASE_SERVICE_KEY is required when SUPABASE_URL is set"))
	}

	if c.DatabaseMaxConn < 1 {
		errs = append(errs, fmt.Errorf("DATABASE_MAX_CONNS must be at least 1"))
	}
	if c.DatabaseMinConn < 0 {
		errs = append(errs, fmt.Errorf("DATABASE_MIN_CONNS must not be negative"))
	}
	if c.DatabaseMinConn > c.DatabaseMaxConn {
		errs = append(errs, fmt.Errorf("DATABASE_MIN_CONNS (%d) must not exceed DATABASE_MAX_CONNS (%d)", c.DatabaseMinConn, c.DatabaseMaxConn))
	}

	if c.MaxMessagesPerMinute < 1 {
		errs = append(errs, fmt.Errorf("MAX_MESSAGES_PER_MINUTE must be at least 1"))
	}
	if c.MaxConnectionsPerIP < 1 {
		errs = append(errs, fmt.Errorf("MAX_CONNECTIONS_PER_IP must be at least 1"))
	}

	if c.MessageQueueRetention < time.Second {
		errs = append(errs, fmt.Errorf("MESSAGE_QUEUE_RETENTION must be at least 1 second"))
	}
	if c.TypingTimeout < time.Second {
		errs = append(errs, fmt.Errorf("TYPING_TIMEOUT must be at least 1 second"))
	}
	if c.PingInterval < time.Second {
		errs = append(errs, fmt.Errorf("SOCKETIO_PING_INTERVAL must be at least 1 second"))
	}
	if c.PingTimeout <= c.PingInterval {
		errs = append(errs, fmt.Errorf("SOCKETIO_PING_TIMEOUT (%s) must exceed SOCKETIO_PING_INTERVAL (%s)", c.PingTimeout, c.PingInterval))
	}

	return errors.Join(errs...)
}

// parser collects parse errors so Load can report all invalid values at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected boolean)", key, v))
		return fallback
	}
	return b
}

// seconds parses an integer number of seconds. The deployment contract uses
// plain integers for every interval, so Go duration strings are not accepted.
func (p *parser) seconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected seconds as integer)", key, v))
		return fallback
	}
	return time.Duration(n) * time.Second
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
