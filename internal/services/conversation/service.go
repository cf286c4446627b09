// Package conversation keeps the server-side chat state: one context
// paragraph and a linear message history per session, with at most one
// request in flight at a time.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mlqa/lingo/internal/config"
	"github.com/mlqa/lingo/internal/infrastructure/inference"
	"github.com/mlqa/lingo/internal/infrastructure/redis"
	"github.com/mlqa/lingo/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyMessage    = errors.New("message must not be empty")
	ErrRequestInFlight = errors.New("a request is already in flight for this conversation")
	// ErrUpstreamFailed wraps every failure to get an answer from the model
	ErrUpstreamFailed = errors.New("failed to get an answer")
)

const janitorInterval = time.Minute

type Service struct {
	store       Store
	backend     inference.Backend
	now         func() time.Time
	stopJanitor func()
}

// NewService uses Redis for storage when it is available and falls back to
// memory otherwise.
func NewService(redisService *redis.Service, backend inference.Backend) *Service {
	ttl := config.GetConversationTTL()

	var store Store
	if redisService != nil {
		log.Info().Msg("Using Redis for conversation storage")

		// Test Redis connection
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisService.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("Redis connection failed")
			log.Warn().Msg("Falling back to in-memory conversation storage")
			store = NewMemoryStore(ttl)
		} else {
			// Outlive the upstream timeout so the guard never expires under a live request
			store = NewRedisStore(redisService, ttl, 2*config.GetInferenceTimeout())
		}
	} else {
		log.Info().Msg("Using in-memory conversation storage")
		store = NewMemoryStore(ttl)
	}

	svc := NewServiceWithStore(store, backend)
	if memory, ok := store.(*MemoryStore); ok {
		svc.stopJanitor = memory.StartJanitor(janitorInterval)
	}
	return svc
}

func NewServiceWithStore(store Store, backend inference.Backend) *Service {
	return &Service{
		store:   store,
		backend: backend,
		now:     time.Now,
	}
}

// Get returns the conversation, or a fresh empty one for unknown ids
func (s *Service) Get(ctx context.Context, id string) (*Conversation, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if c == nil {
		return newConversation(id, s.now()), nil
	}
	return c, nil
}

// View returns the conversation as clients render it
func (s *Service) View(ctx context.Context, id string) (*View, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	inFlight, err := s.store.InFlight(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read in-flight state: %w", err)
	}

	view := &View{
		ID:          c.ID,
		Context:     c.Context,
		Messages:    c.Messages,
		Placeholder: PlaceholderQuestion,
		InFlight:    inFlight,
	}
	if c.Context == nil {
		view.Placeholder = PlaceholderContext
	}
	if len(c.Messages) == 0 {
		view.Greeting = Greeting
	}

	return view, nil
}

// Submit appends a user message and the bot reply. The first message of a
// conversation becomes its context; later messages are questions answered
// against it. On upstream failure the user message is kept and no bot
// message is added.
func (s *Service) Submit(ctx context.Context, id, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.RejectedSubmissions.WithLabelValues("empty").Inc()
		return nil, ErrEmptyMessage
	}

	release, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// The context is stored with the message that sets it, so a failure
	// further down never turns the next question into the context
	settingContext := c.Context == nil
	if settingContext {
		c.Context = &text
	}

	c.append(RoleUser, text, s.now())
	metrics.ConversationMessages.WithLabelValues(string(RoleUser)).Inc()
	if err := s.store.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save conversation: %w", err)
	}

	var reply string
	if settingContext {
		s.warmUp(ctx, id, text)
		reply = ContextSetReply
	} else {
		reply, err = s.answer(ctx, text, *c.Context)
		if err != nil {
			log.Warn().Err(err).Str("conversation_id", id).Msg("Failed to answer question")
			return nil, err
		}
	}

	msg := c.append(RoleBot, reply, s.now())
	metrics.ConversationMessages.WithLabelValues(string(RoleBot)).Inc()
	// Saved even if the client went away
	if err := s.store.Save(context.WithoutCancel(ctx), c); err != nil {
		return nil, fmt.Errorf("failed to save conversation: %w", err)
	}

	log.Info().
		Str("conversation_id", id).
		Int("message_count", len(c.Messages)).
		Msg("Conversation updated")

	return &msg, nil
}

// Reset forgets the context and the history
func (s *Service) Reset(ctx context.Context, id string) error {
	release, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	log.Info().Str("conversation_id", id).Msg("Conversation reset")
	return nil
}

// Close stops background sweeping of the in-memory store
func (s *Service) Close() {
	if s.stopJanitor != nil {
		s.stopJanitor()
	}
}

// acquire takes the in-flight guard and returns its release func
func (s *Service) acquire(ctx context.Context, id string) (func(), error) {
	token, acquired, err := s.store.Acquire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire conversation: %w", err)
	}
	if !acquired {
		metrics.RejectedSubmissions.WithLabelValues("in_flight").Inc()
		return nil, ErrRequestInFlight
	}

	return func() {
		// The request context may already be cancelled, the guard must still go
		if err := s.store.Release(context.WithoutCancel(ctx), id, token); err != nil {
			log.Error().Err(err).Str("conversation_id", id).Msg("Failed to release conversation guard")
		}
	}, nil
}

// warmUp sends the new context as both question and context so the model is
// loaded before the first real question. Its outcome does not matter.
func (s *Service) warmUp(ctx context.Context, id, text string) {
	res, err := s.backend.Query(ctx, inference.Inputs{Question: text, Context: text})
	if err == nil {
		_, err = inference.DecodeAnswer(res)
	}
	if err != nil {
		log.Debug().Err(err).Str("conversation_id", id).Msg("Context warm-up request failed")
	}
}

func (s *Service) answer(ctx context.Context, question, paragraph string) (string, error) {
	res, err := s.backend.Query(ctx, inference.Inputs{Question: question, Context: paragraph})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstreamFailed, err)
	}

	answer, err := inference.DecodeAnswer(res)
	if errors.Is(err, inference.ErrNoAnswer) {
		return NoAnswerReply, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstreamFailed, err)
	}

	if strings.TrimSpace(answer.Answer) == "" {
		return NoAnswerReply, nil
	}
	return answer.Answer, nil
}
