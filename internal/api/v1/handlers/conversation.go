package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mlqa/lingo/internal/api/v1/middleware"
	"github.com/mlqa/lingo/internal/services/conversation"
	"github.com/mlqa/lingo/pkg/httpext"
	"github.com/rs/zerolog/hlog"
)

// SubmitRequest is the body of POST /v1/conversation/messages
type SubmitRequest struct {
	Message string `json:"message" validate:"required,max=50000"`
}

// HandleGetConversation returns the session's conversation view
func HandleGetConversation(conversationService *conversation.Service, w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetSession(r)
	if claims == nil {
		httpext.JsonError(w, "Missing session", http.StatusUnauthorized)
		return
	}

	view, err := conversationService.View(r.Context(), claims.ConversationID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("conversation_id", claims.ConversationID).Msg("Failed to load conversation")
		httpext.JsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	httpext.JsonResponse(w, http.StatusOK, view)
}

// HandlePostMessage submits a message and returns the bot reply
func HandlePostMessage(conversationService *conversation.Service, w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	claims := middleware.GetSession(r)
	if claims == nil {
		httpext.JsonError(w, "Missing session", http.StatusUnauthorized)
		return
	}

	var req SubmitRequest
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

	reply, err := conversationService.Submit(r.Context(), claims.ConversationID, req.Message)
	if err != nil {
		status, message := conversationError(err)
		logger.Warn().Err(err).Int("status", status).Str("conversation_id", claims.ConversationID).Msg("Message submission failed")
		httpext.JsonError(w, message, status)
		return
	}

	httpext.JsonResponse(w, http.StatusOK, reply)
}

// HandleResetConversation clears the context and the history
func HandleResetConversation(conversationService *conversation.Service, w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetSession(r)
	if claims == nil {
		httpext.JsonError(w, "Missing session", http.StatusUnauthorized)
		return
	}

	if err := conversationService.Reset(r.Context(), claims.ConversationID); err != nil {
		status, message := conversationError(err)
		hlog.FromRequest(r).Warn().Err(err).Int("status", status).Msg("Conversation reset failed")
		httpext.JsonError(w, message, status)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// conversationError maps a conversation service error onto a status code
// and a client safe message
func conversationError(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, conversation.ErrRequestInFlight):
		return http.StatusConflict, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "The model did not answer in time"
	case errors.Is(err, conversation.ErrUpstreamFailed):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
