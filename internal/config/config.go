package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"loom.social/internal/auth"
)

const (
	defaultAddr       = ":8080"
	defaultAccessTTL  = "60m"
	defaultRefreshTTL = "24h"
	envProduction     = "production"
	envDevelopment    = "development"
)

// Config is the explicit process configuration. It is loaded once at
// startup and handed to components at construction time; nothing reads
// environment variables at call time.
type Config struct {
	Env         string
	Addr        string
	PostgresDSN string

	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration

	CORSOrigins []string
}

func (c *Config) IsProduction() bool { return c.Env == envProduction }

// CodecConfig builds the token codec configuration.
func (c *Config) CodecConfig() auth.CodecConfig {
	return auth.CodecConfig{
		AccessSecret:  []byte(c.AccessTokenSecret),
		RefreshSecret: []byte(c.RefreshTokenSecret),
		AccessTTL:     c.AccessTokenTTL,
		RefreshTTL:    c.RefreshTokenTTL,
		Issuer:        "loom",
	}
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Env:                envOr("LOOM_ENV", envDevelopment),
		Addr:               envOr("LOOM_ADDR", defaultAddr),
		PostgresDSN:        os.Getenv("LOOM_PG_DSN"),
		AccessTokenSecret:  os.Getenv("LOOM_ACCESS_TOKEN_SECRET"),
		RefreshTokenSecret: os.Getenv("LOOM_REFRESH_TOKEN_SECRET"),
	}

	if cfg.PostgresDSN == "" {
		return nil, errors.New("LOOM_PG_DSN is required")
	}
	if cfg.AccessTokenSecret == "" {
		return nil, errors.New("LOOM_ACCESS_TOKEN_SECRET is required")
	}
	if cfg.RefreshTokenSecret == "" {
		return nil, errors.New("LOOM_REFRESH_TOKEN_SECRET is required")
	}
	if cfg.AccessTokenSecret == cfg.RefreshTokenSecret {
		return nil, errors.New("access and refresh token secrets must differ")
	}

	var err error
	cfg.AccessTokenTTL, err = auth.ParseExpiry(envOr("LOOM_ACCESS_TOKEN_EXPIRES_IN", defaultAccessTTL))
	if err != nil {
		return nil, fmt.Errorf("LOOM_ACCESS_TOKEN_EXPIRES_IN: %w", err)
	}
	cfg.RefreshTokenTTL, err = auth.ParseExpiry(envOr("LOOM_REFRESH_TOKEN_EXPIRES_IN", defaultRefreshTTL))
	if err != nil {
		return nil, fmt.Errorf("LOOM_REFRESH_TOKEN_EXPIRES_IN: %w", err)
	}

	if origins := os.Getenv("LOOM_CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
