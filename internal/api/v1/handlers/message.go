package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/mlqa/lingo/internal/services/proxy"
	"github.com/mlqa/lingo/pkg/httpext"
	"github.com/rs/zerolog/hlog"
)

// use a single instance of Validate, it caches struct info
var validate = validator.New(validator.WithRequiredStructEnabled())

// HandleMessage forwards {question, context} to the model and returns its
// reply unmodified. Failures come back as {"error": message}.
func HandleMessage(proxyService *proxy.Service, w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	var req proxy.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn().Err(err).Msg("Client sent malformed JSON request")
		httpext.JsonError(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	if err := validate.Struct(req); err != nil {
		logger.Warn().Err(err).Msg("Request validation failed")
		httpext.JsonError(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	// Upstream statuses are passed through and our own failures are 502/504,
	// rather than 200 for everything with the error in the body
	res, err := proxyService.Forward(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		logger.Error().Err(err).Int("status", status).Msg("Failed to forward message")
		httpext.JsonError(w, err.Error(), status)
		return
	}

	httpext.RawJsonResponse(w, res.StatusCode, res.Body)
}
