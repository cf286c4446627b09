package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mlqa/lingo/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

const extractivePrompt = `You answer questions using only the context paragraph you are given.
Reply with the shortest span of the context that answers the question, copied verbatim.
The question may be in any language; always answer in the language of the context.
If the context does not contain the answer, reply with an empty string.`

// ChatCompleter is the part of the OpenAI client the backend needs
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIService answers questions with a chat completion model and replies
// in the same shape as a hosted extractive QA model.
type OpenAIService struct {
	client  ChatCompleter
	model   string
	timeout time.Duration
}

func NewOpenAIService(client ChatCompleter, model string, timeout time.Duration) *OpenAIService {
	return &OpenAIService{
		client:  client,
		model:   model,
		timeout: timeout,
	}
}

// NewOpenAIClient builds a go-openai client, optionally against a compatible server
func NewOpenAIClient(key, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(key)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (s *OpenAIService) Name() string {
	return "openai"
}

func (s *OpenAIService) Query(ctx context.Context, in Inputs) (*Result, error) {
	started := time.Now()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractivePrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Context:\n%s\n\nQuestion:\n%s", in.Context, in.Question)},
		},
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
			metrics.ObserveUpstream(s.Name(), "upstream_error", started)
			log.Warn().Err(err).Int("status", apiErr.HTTPStatusCode).Msg("OpenAI returned an error")

			body, marshalErr := json.Marshal(Answer{Error: apiErr.Message, Start: -1, End: -1})
			if marshalErr != nil {
				return nil, fmt.Errorf("failed to encode upstream error: %w", marshalErr)
			}
			return &Result{StatusCode: apiErr.HTTPStatusCode, Body: body}, nil
		}

		metrics.ObserveUpstream(s.Name(), "transport_error", started)
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		metrics.ObserveUpstream(s.Name(), "invalid_response", started)
		return nil, fmt.Errorf("%w: no choices in completion", ErrInvalidResponse)
	}

	answer := Answer{
		Answer: strings.TrimSpace(resp.Choices[0].Message.Content),
		Start:  -1,
		End:    -1,
	}

	body, err := json.Marshal(answer)
	if err != nil {
		return nil, fmt.Errorf("failed to encode answer: %w", err)
	}

	metrics.ObserveUpstream(s.Name(), "ok", started)
	return &Result{StatusCode: http.StatusOK, Body: body}, nil
}
