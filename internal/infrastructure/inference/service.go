package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mlqa/lingo/internal/metrics"
	"github.com/rs/zerolog/log"
)

const maxResponseBytes = 1 << 20

// HostedService queries a hosted model endpoint with a bearer token
type HostedService struct {
	client    *http.Client
	modelURL  string
	accessKey string
	timeout   time.Duration
}

func NewHostedService(client *http.Client, modelURL, accessKey string, timeout time.Duration) *HostedService {
	if client == nil {
		client = &http.Client{}
	}

	return &HostedService{
		client:    client,
		modelURL:  modelURL,
		accessKey: accessKey,
		timeout:   timeout,
	}
}

func (s *HostedService) Name() string {
	return "hosted"
}

// Query posts {"inputs": {...}} to the model and returns its reply as is
func (s *HostedService) Query(ctx context.Context, in Inputs) (*Result, error) {
	started := time.Now()

	jsonData, err := json.Marshal(queryRequest{Inputs: in})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.modelURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.accessKey))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		metrics.ObserveUpstream(s.Name(), "transport_error", started)
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.ObserveUpstream(s.Name(), "transport_error", started)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if !json.Valid(body) {
		metrics.ObserveUpstream(s.Name(), "invalid_response", started)
		log.Warn().
			Int("status", resp.StatusCode).
			Int("body_bytes", len(body)).
			Msg("Inference endpoint returned a non-JSON body")
		return nil, fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}

	outcome := "ok"
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		outcome = "upstream_error"
		log.Warn().
			Int("status", resp.StatusCode).
			RawJSON("body", body).
			Msg("Inference endpoint returned an error status")
	}
	metrics.ObserveUpstream(s.Name(), outcome, started)

	log.Debug().
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(started)).
		Msg("Inference request completed")

	return &Result{StatusCode: resp.StatusCode, Body: body}, nil
}
