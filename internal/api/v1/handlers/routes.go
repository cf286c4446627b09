package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	v1ws "github.com/mlqa/lingo/internal/api/v1/handlers/websocket"
	v1mware "github.com/mlqa/lingo/internal/api/v1/middleware"
	"github.com/mlqa/lingo/internal/connections"
	"github.com/mlqa/lingo/internal/metrics"
	"github.com/mlqa/lingo/internal/services"
)

func RegisterRoutes(router *mux.Router, services *services.Services, manager *connections.Manager) {
	router.Use(metrics.Middleware)

	// Operational routes
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		HandleHealth(services, w, r)
	}).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	// Passthrough to the model, no session required
	router.Handle("/api/message", v1mware.RateLimit("api_message")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleMessage(services.GetProxyService(), w, r)
	}))).Methods("POST")

	// v1 routes
	v1 := router.PathPrefix("/v1").Subrouter()

	// Conversation routes are bound to the session cookie
	conversationRouter := v1.PathPrefix("/conversation").Subrouter()
	conversationRouter.Use(v1mware.RequireSession(services.GetSessionService()))

	conversationRouter.HandleFunc("", func(w http.ResponseWriter, r *http.Request) {
		HandleGetConversation(services.GetConversationService(), w, r)
	}).Methods("GET")
	conversationRouter.HandleFunc("", func(w http.ResponseWriter, r *http.Request) {
		HandleResetConversation(services.GetConversationService(), w, r)
	}).Methods("DELETE")
	conversationRouter.Handle("/messages", v1mware.RateLimit("conversation_message")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandlePostMessage(services.GetConversationService(), w, r)
	}))).Methods("POST")
	conversationRouter.Handle("/ws", v1mware.RateLimit("conversation_ws")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v1ws.HandleConversationWebSocket(services.GetConversationService(), manager, w, r)
	}))).Methods("GET")
}
