package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/mlqa/lingo/internal/infrastructure/inference"
	"github.com/mlqa/lingo/internal/infrastructure/redis"
	"github.com/mlqa/lingo/internal/services/conversation"
	"github.com/mlqa/lingo/internal/services/proxy"
	"github.com/mlqa/lingo/internal/services/session"
	"github.com/rs/zerolog/log"
)

var (
	// Mutex for thread-safe initialization
	servicesMu sync.RWMutex
)

type Services struct {
	backend             inference.Backend
	conversationService *conversation.Service
	proxyService        *proxy.Service
	redisService        *redis.Service
	sessionService      *session.Service
}

// InitializeServices initializes all required services
func InitializeServices() (*Services, error) {
	servicesMu.Lock()
	defer servicesMu.Unlock()

	log.Info().Msg("Initializing core services")

	// Initialize inference backend (required)
	backend, err := inference.NewBackend()
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize inference backend - required for answering questions")
		return nil, fmt.Errorf("failed to initialize inference backend: %w", err)
	}

	// Initialize Redis service (optional)
	redisService := redis.NewService()
	log.Info().Bool("available", redisService != nil).Msg("Initializing Redis service")

	return NewServices(backend, redisService), nil
}

// NewServices wires the services around an existing backend. redisService
// may be nil.
func NewServices(backend inference.Backend, redisService *redis.Service) *Services {
	sessionService := session.NewService(redisService)
	log.Info().Msg("Initializing session service")

	conversationService := conversation.NewService(redisService, backend)
	log.Info().Msg("Initializing conversation service")

	proxyService := proxy.NewService(backend)

	log.Info().Msg("All services initialized successfully")

	return &Services{
		backend:             backend,
		conversationService: conversationService,
		proxyService:        proxyService,
		redisService:        redisService,
		sessionService:      sessionService,
	}
}

// GetConversationService returns the conversation service
func (s *Services) GetConversationService() *conversation.Service {
	return s.conversationService
}

// GetProxyService returns the message proxy service
func (s *Services) GetProxyService() *proxy.Service {
	return s.proxyService
}

// GetSessionService returns the session service
func (s *Services) GetSessionService() *session.Service {
	return s.sessionService
}

// Health reports whether optional dependencies are reachable
func (s *Services) Health(ctx context.Context) map[string]string {
	status := map[string]string{
		"inference": s.backend.Name(),
		"redis":     "disabled",
	}

	if s.redisService != nil {
		if err := s.redisService.Ping(ctx); err != nil {
			status["redis"] = "unreachable"
		} else {
			status["redis"] = "ok"
		}
	}

	return status
}

// Close stops background work and releases connections held by the services
func (s *Services) Close() {
	s.conversationService.Close()
	s.sessionService.Close()

	if s.redisService != nil {
		if err := s.redisService.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis connection")
		}
	}
}
