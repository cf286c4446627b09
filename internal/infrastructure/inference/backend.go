package inference

import (
	"fmt"
	"net/http"

	"github.com/mlqa/lingo/internal/config"
	"github.com/rs/zerolog/log"
)

// NewBackend builds the backend selected by INFERENCE_PROVIDER
func NewBackend() (Backend, error) {
	timeout := config.GetInferenceTimeout()

	switch config.GetInferenceProvider() {
	case config.ProviderOpenAI:
		key := config.GetOpenAIKey()
		if key == "" {
			return nil, fmt.Errorf("OPENAI_KEY is required for the openai inference provider")
		}
		model := config.GetOpenAIModel()
		log.Info().Str("model", model).Msg("Using OpenAI inference backend")
		return NewOpenAIService(NewOpenAIClient(key, config.GetOpenAIBaseURL()), model, timeout), nil
	default:
		modelURL := config.GetModelURL()
		if modelURL == "" {
			return nil, fmt.Errorf("MODEL_URL is required for the hosted inference provider")
		}
		log.Info().Str("model_url", modelURL).Msg("Using hosted inference backend")
		return NewHostedService(&http.Client{}, modelURL, config.GetAccessKey(), timeout), nil
	}
}
