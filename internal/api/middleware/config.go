package middleware

import (
	"time"

	"github.com/gjallarhorn-io/gjallarhorn/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits are requests per second for three tiers:
//   - Global: applied to all requests
//   - Client: applied per client address
//   - UnknownClient: shared by requests whose address cannot be determined
//
// A zero burst is computed as 2 × rate.
type Config struct {
	GlobalRPS        int
	ClientRPS        int
	UnknownClientRPS int

	GlobalBurst        int
	ClientBurst        int
	UnknownClientBurst int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxClients      int
}

// LoadConfig loads rate limiter configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS:        config.GetEnvInt("GJALLARHORN_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS:        config.GetEnvInt("GJALLARHORN_CLIENT_RPS", defaultClientRPS),
		UnknownClientRPS: config.GetEnvInt("GJALLARHORN_UNKNOWN_CLIENT_RPS", defaultUnknownClientRPS),

		GlobalBurst:        config.GetEnvInt("GJALLARHORN_GLOBAL_BURST", 0),
		ClientBurst:        config.GetEnvInt("GJALLARHORN_CLIENT_BURST", 0),
		UnknownClientBurst: config.GetEnvInt("GJALLARHORN_UNKNOWN_CLIENT_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"GJALLARHORN_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("GJALLARHORN_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:  config.GetEnvInt("GJALLARHORN_RATE_LIMIT_MAX_CLIENTS", defaultMaxClients),
	}
}
