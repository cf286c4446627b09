package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	ProviderHosted = "hosted"
	ProviderOpenAI = "openai"
)

// GetModelURL returns the URL of the hosted question answering model
func GetModelURL() string {
	value := GetEnvOrDefault("MODEL_URL", "")
	if value == "" {
		log.Warn().Msg("MODEL_URL environment variable not set")
	}
	return value
}

// GetAccessKey returns the bearer token sent to the hosted model
func GetAccessKey() string {
	value := GetEnvOrDefault("ACCESS_KEY", "")
	if value == "" {
		log.Warn().Msg("ACCESS_KEY environment variable not set")
	}
	return value
}

// GetInferenceProvider returns which backend answers questions
func GetInferenceProvider() string {
	provider := strings.ToLower(GetEnvOrDefault("INFERENCE_PROVIDER", ProviderHosted))
	switch provider {
	case ProviderHosted, ProviderOpenAI:
		return provider
	default:
		log.Warn().Str("provider", provider).Msg("Unknown inference provider, falling back to hosted")
		return ProviderHosted
	}
}

func GetInferenceTimeout() time.Duration {
	return parseEnvDuration("INFERENCE_TIMEOUT", 30*time.Second)
}

// GetOpenAIKey returns the OpenAI key, empty when the OpenAI backend is unused
func GetOpenAIKey() string {
	return GetEnvOrDefault("OPENAI_KEY", "")
}

func GetOpenAIModel() string {
	return GetEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini")
}

// GetOpenAIBaseURL allows pointing the OpenAI backend at a compatible server
func GetOpenAIBaseURL() string {
	return GetEnvOrDefault("OPENAI_BASE_URL", "")
}
