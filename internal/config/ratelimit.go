package config

import (
	"time"

	"github.com/rs/zerolog/log"
)

type RateLimitConfig struct {
	Enabled bool
	MaxHits int
	Window  time.Duration
}

func GetRateLimitConfig(key string) RateLimitConfig {
	enabled := parseEnvBool("RATELIMIT_ENABLED", false)

	configs := map[string]RateLimitConfig{
		"global": {
			Enabled: enabled,
			MaxHits: parseEnvInt("RATELIMIT_GLOBAL", 1000), // 1000 requests per minute globally
			Window:  time.Minute,
		},
		"api_message": {
			Enabled: enabled,
			MaxHits: parseEnvInt("RATELIMIT_API_MESSAGE", 60), // 60 requests per minute
			Window:  time.Minute,
		},
		"conversation_message": {
			Enabled: enabled,
			MaxHits: parseEnvInt("RATELIMIT_CONVERSATION_MESSAGE", 30), // 30 requests per minute
			Window:  time.Minute,
		},
		"conversation_ws": {
			Enabled: enabled,
			MaxHits: parseEnvInt("RATELIMIT_CONVERSATION_WS", 10), // 10 upgrades per minute
			Window:  time.Minute,
		},
	}

	if config, exists := configs[key]; exists {
		return config
	}

	log.Warn().Str("key", key).Msg("No rate limit config found")
	return RateLimitConfig{Enabled: false}
}
