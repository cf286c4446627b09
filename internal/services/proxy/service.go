// Package proxy forwards raw question/context pairs to the inference backend
// and hands its reply back untouched.
package proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/mlqa/lingo/internal/infrastructure/inference"
	"github.com/rs/zerolog/log"
)

// MessageRequest is the body accepted by the passthrough route
type MessageRequest struct {
	Question string `json:"question" validate:"max=4000"`
	Context  string `json:"context" validate:"max=50000"`
}

type Service struct {
	backend inference.Backend
}

func NewService(backend inference.Backend) *Service {
	log.Info().Str("backend", backend.Name()).Msg("Message proxy initialized")

	return &Service{
		backend: backend,
	}
}

// Forward sends the pair upstream. The returned result carries the upstream
// status and body as they were received.
func (s *Service) Forward(ctx context.Context, req MessageRequest) (*inference.Result, error) {
	started := time.Now()

	log.Trace().
		Int("question_length", len(req.Question)).
		Int("context_length", len(req.Context)).
		Msg("Forwarding message to inference backend")

	res, err := s.backend.Query(ctx, inference.Inputs{Question: req.Question, Context: req.Context})
	if err != nil {
		return nil, fmt.Errorf("failed to forward message: %w", err)
	}

	log.Debug().
		Str("backend", s.backend.Name()).
		Int("status", res.StatusCode).
		Dur("latency", time.Since(started)).
		Msg("Message forwarded")

	return res, nil
}
