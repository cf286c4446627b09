package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mlqa/lingo/internal/config"
	"github.com/mlqa/lingo/internal/infrastructure/redis"
	"github.com/rs/zerolog/log"
)

// SessionClaims bind a browser to one conversation
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID      string `json:"sid"`
	ConversationID string `json:"cid"`
}

type SessionStore interface {
	Set(ctx context.Context, sessionID string, claims *SessionClaims, lifetime time.Duration) error
	Get(ctx context.Context, sessionID string) (*SessionClaims, error)
	Delete(ctx context.Context, sessionID string) error
}

type RedisStore struct {
	redisService *redis.Service
}

type memorySession struct {
	claims    *SessionClaims
	expiresAt time.Time
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memorySession
	now      func() time.Time
}

const janitorInterval = time.Minute

type Service struct {
	store       SessionStore
	lifetime    time.Duration
	stopJanitor func()
}

func NewService(redisService *redis.Service) *Service {
	var store SessionStore
	if redisService != nil {
		// Test Redis connection
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisService.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, falling back to in-memory session storage")
			store = newMemoryStore()
		} else {
			store = &RedisStore{redisService: redisService}
		}
	} else {
		store = newMemoryStore()
	}

	svc := &Service{store: store, lifetime: config.GetSessionLifetime()}
	if memory, ok := store.(*MemoryStore); ok {
		svc.stopJanitor = memory.StartJanitor(janitorInterval)
	}
	return svc
}

func newMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memorySession),
		now:      time.Now,
	}
}

// Close stops background sweeping of the in-memory store
func (s *Service) Close() {
	if s.stopJanitor != nil {
		s.stopJanitor()
	}
}

func sessionKey(sessionID string) string {
	return "Session:" + sessionID
}

// Redis Store implementation
func (rs *RedisStore) Set(ctx context.Context, sessionID string, claims *SessionClaims, lifetime time.Duration) error {
	data, err := json.Marshal(claims)
	if err != nil {
		return err
	}

	return rs.redisService.Set(ctx, sessionKey(sessionID), string(data), lifetime)
}

func (rs *RedisStore) Get(ctx context.Context, sessionID string) (*SessionClaims, error) {
	data, err := rs.redisService.Get(ctx, sessionKey(sessionID))
	if errors.Is(err, redis.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var claims SessionClaims
	if err := json.Unmarshal([]byte(data), &claims); err != nil {
		return nil, err
	}

	return &claims, nil
}

func (rs *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return rs.redisService.Delete(ctx, sessionKey(sessionID))
}

// Memory Store implementation
func (ms *MemoryStore) Set(ctx context.Context, sessionID string, claims *SessionClaims, lifetime time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.sessions[sessionID] = memorySession{claims: claims, expiresAt: ms.now().Add(lifetime)}
	return nil
}

func (ms *MemoryStore) Get(ctx context.Context, sessionID string) (*SessionClaims, error) {
	ms.mu.RLock()
	session, exists := ms.sessions[sessionID]
	ms.mu.RUnlock()

	if !exists {
		return nil, nil
	}
	if !ms.now().Before(session.expiresAt) {
		return nil, ms.Delete(ctx, sessionID)
	}
	return session.claims, nil
}

func (ms *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.sessions, sessionID)
	return nil
}

// Sweep drops expired sessions and returns how many were removed
func (ms *MemoryStore) Sweep() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	removed := 0
	for id, session := range ms.sessions {
		if !now.Before(session.expiresAt) {
			delete(ms.sessions, id)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps every interval until the returned stop func is called
func (ms *MemoryStore) StartJanitor(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if removed := ms.Sweep(); removed > 0 {
					log.Debug().Int("removed", removed).Msg("Swept expired sessions")
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// CreateSession starts a new conversation, sets the signed session cookie
// and returns its claims
func (s *Service) CreateSession(ctx context.Context, w http.ResponseWriter) (*SessionClaims, error) {
	now := time.Now()
	sessionID := uuid.New().String()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        sessionID,
		},
		SessionID:      sessionID,
		ConversationID: uuid.New().String(),
	}

	if err := s.store.Set(ctx, sessionID, claims, s.lifetime); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(config.GetJWTSecret())
	if err != nil {
		return nil, fmt.Errorf("failed to sign session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     config.GetSessionCookieName(),
		Value:    signedToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   config.GetSessionCookieSecure(),
		SameSite: http.SameSiteStrictMode,
		Expires:  now.Add(s.lifetime),
	})

	log.Debug().
		Str("session_id", sessionID).
		Str("conversation_id", claims.ConversationID).
		Msg("Session created")

	return claims, nil
}

// ValidateSession checks if a valid session cookie exists and returns the
// claims. A missing, expired or revoked session yields nil, nil.
func (s *Service) ValidateSession(r *http.Request) (*SessionClaims, error) {
	cookie, err := r.Cookie(config.GetSessionCookieName())
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return nil, nil
		}
		return nil, err
	}

	claims, ok := parseClaims(cookie.Value)
	if !ok {
		return nil, nil
	}

	// Verify session exists in store
	storedClaims, err := s.store.Get(r.Context(), claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if storedClaims == nil {
		return nil, nil
	}

	return claims, nil
}

// ClearSession removes the session cookie and from storage
func (s *Service) ClearSession(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(config.GetSessionCookieName()); err == nil {
		if claims, ok := parseClaims(cookie.Value); ok {
			_ = s.store.Delete(r.Context(), claims.SessionID)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     config.GetSessionCookieName(),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   config.GetSessionCookieSecure(),
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(-1 * time.Hour),
		MaxAge:   -1,
	})
}

func parseClaims(tokenString string) (*SessionClaims, bool) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return config.GetJWTSecret(), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		log.Debug().Err(err).Msg("Rejected session token")
		return nil, false
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.ConversationID == "" {
		return nil, false
	}
	return claims, true
}
