// Package inference talks to the question answering model that produces
// answers from a context paragraph.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidResponse is returned when the upstream body is not usable JSON
	ErrInvalidResponse = errors.New("invalid response from inference endpoint")
	// ErrNoAnswer is returned when the upstream replied without any candidate answer
	ErrNoAnswer = errors.New("inference endpoint returned no answer")
)

// Inputs are the two strings an extractive QA model works on
type Inputs struct {
	Question string `json:"question"`
	Context  string `json:"context"`
}

type queryRequest struct {
	Inputs Inputs `json:"inputs"`
}

// Answer is the response shape of hosted extractive QA models. Error and
// EstimatedTime are set while the model is loading or failing.
type Answer struct {
	Answer        string  `json:"answer"`
	Score         float64 `json:"score"`
	Start         int     `json:"start"`
	End           int     `json:"end"`
	Error         string  `json:"error,omitempty"`
	EstimatedTime float64 `json:"estimated_time,omitempty"`
}

// Result is the raw upstream reply, passed through to clients unmodified
type Result struct {
	StatusCode int
	Body       json.RawMessage
}

// UpstreamError reports an error the model endpoint itself returned
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("inference endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("inference endpoint returned status %d: %s", e.StatusCode, e.Message)
}

// Backend answers a question against a context
type Backend interface {
	Name() string
	Query(ctx context.Context, in Inputs) (*Result, error)
}

// DecodeAnswer extracts the best answer from an upstream result. Hosted
// models answer either with a single object or, when asked for several
// candidates, with an array ordered by score.
func DecodeAnswer(res *Result) (*Answer, error) {
	if res == nil {
		return nil, ErrInvalidResponse
	}

	body := bytes.TrimSpace(res.Body)
	ok := res.StatusCode >= http.StatusOK && res.StatusCode < http.StatusMultipleChoices

	var answer Answer
	if len(body) > 0 && body[0] == '[' {
		var candidates []Answer
		if err := json.Unmarshal(body, &candidates); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		if len(candidates) == 0 {
			if !ok {
				return nil, &UpstreamError{StatusCode: res.StatusCode}
			}
			return nil, ErrNoAnswer
		}
		answer = candidates[0]
	} else if err := json.Unmarshal(body, &answer); err != nil {
		if !ok {
			return nil, &UpstreamError{StatusCode: res.StatusCode}
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if !ok || answer.Error != "" {
		status := res.StatusCode
		if ok {
			status = http.StatusBadGateway
		}
		return nil, &UpstreamError{StatusCode: status, Message: answer.Error}
	}

	return &answer, nil
}
