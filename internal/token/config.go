package token

import (
	"os"
	"time"
)

const (
	DefaultIssuer     = "pitchfork-auth"
	DefaultPreAuthTTL = 5 * time.Minute
	DefaultSessionTTL = time.Hour
)

// Config holds the token signing settings. It is built once at startup and
// never mutated afterwards.
type Config struct {
	Secret     []byte
	Issuer     string
	PreAuthTTL time.Duration
	SessionTTL time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// ConfigFromEnv reads JWT_SECRET, TOKEN_ISSUER, PREAUTH_TTL and SESSION_TTL.
// Durations use time.ParseDuration syntax (e.g. "5m"); invalid values fall
// back to the defaults.
func ConfigFromEnv() Config {
	cfg := Config{
		Secret:     []byte(os.Getenv("JWT_SECRET")),
		Issuer:     os.Getenv("TOKEN_ISSUER"),
		PreAuthTTL: durationFromEnv("PREAUTH_TTL", DefaultPreAuthTTL),
		SessionTTL: durationFromEnv("SESSION_TTL", DefaultSessionTTL),
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	return cfg
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
