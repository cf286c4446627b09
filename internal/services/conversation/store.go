package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mlqa/lingo/internal/infrastructure/redis"
	"github.com/rs/zerolog/log"
)

// Store persists conversations and holds the per-conversation in-flight
// guard. Get returns nil, nil for unknown ids.
type Store interface {
	Get(ctx context.Context, id string) (*Conversation, error)
	Save(ctx context.Context, c *Conversation) error
	Delete(ctx context.Context, id string) error

	// Acquire takes the in-flight guard and reports whether it was free.
	// Only the returned token releases it.
	Acquire(ctx context.Context, id string) (token string, ok bool, err error)
	Release(ctx context.Context, id, token string) error
	InFlight(ctx context.Context, id string) (bool, error)
}

type RedisStore struct {
	redisService *redis.Service
	ttl          time.Duration
	guardTTL     time.Duration
}

type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	inFlight      map[string]string // id -> holder token
	ttl           time.Duration
	now           func() time.Time
}

// NewRedisStore keeps conversations for ttl after their last update. The
// guard expires after guardTTL so a crashed request cannot wedge a
// conversation.
func NewRedisStore(redisService *redis.Service, ttl, guardTTL time.Duration) *RedisStore {
	return &RedisStore{
		redisService: redisService,
		ttl:          ttl,
		guardTTL:     guardTTL,
	}
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		inFlight:      make(map[string]string),
		ttl:           ttl,
		now:           time.Now,
	}
}

func conversationKey(id string) string {
	return "Conversation:" + id
}

func guardKey(id string) string {
	return "Conversation:" + id + ":inflight"
}

// Redis Store implementation
func (rs *RedisStore) Get(ctx context.Context, id string) (*Conversation, error) {
	data, err := rs.redisService.Get(ctx, conversationKey(id))
	if errors.Is(err, redis.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var c Conversation
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, err
	}

	return &c, nil
}

func (rs *RedisStore) Save(ctx context.Context, c *Conversation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	return rs.redisService.Set(ctx, conversationKey(c.ID), string(data), rs.ttl)
}

func (rs *RedisStore) Delete(ctx context.Context, id string) error {
	return rs.redisService.Delete(ctx, conversationKey(id))
}

func (rs *RedisStore) Acquire(ctx context.Context, id string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := rs.redisService.SetNX(ctx, guardKey(id), token, rs.guardTTL)
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// Release drops the guard only while token still owns it. A holder that
// outlived guardTTL leaves the next holder's guard alone.
func (rs *RedisStore) Release(ctx context.Context, id, token string) error {
	deleted, err := rs.redisService.DeleteIfEquals(ctx, guardKey(id), token)
	if err != nil {
		return err
	}
	if !deleted {
		log.Warn().Str("conversation_id", id).Msg("In-flight guard expired before release")
	}
	return nil
}

func (rs *RedisStore) InFlight(ctx context.Context, id string) (bool, error) {
	_, err := rs.redisService.Get(ctx, guardKey(id))
	if errors.Is(err, redis.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Memory Store implementation
func (ms *MemoryStore) Get(ctx context.Context, id string) (*Conversation, error) {
	ms.mu.RLock()
	c, exists := ms.conversations[id]
	ms.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	// Check expiration
	if ms.ttl > 0 && ms.now().After(c.UpdatedAt.Add(ms.ttl)) {
		if err := ms.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Str("conversation_id", id).Msg("Failed to delete expired conversation")
		}
		return nil, nil
	}

	return c.clone(), nil
}

func (ms *MemoryStore) Save(ctx context.Context, c *Conversation) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.conversations[c.ID] = c.clone()
	return nil
}

func (ms *MemoryStore) Delete(ctx context.Context, id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.conversations, id)
	return nil
}

func (ms *MemoryStore) Acquire(ctx context.Context, id string) (string, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, busy := ms.inFlight[id]; busy {
		return "", false, nil
	}
	token := uuid.NewString()
	ms.inFlight[id] = token
	return token, true, nil
}

func (ms *MemoryStore) Release(ctx context.Context, id, token string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.inFlight[id] == token {
		delete(ms.inFlight, id)
	}
	return nil
}

func (ms *MemoryStore) InFlight(ctx context.Context, id string) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	_, busy := ms.inFlight[id]
	return busy, nil
}

// Sweep drops conversations idle for longer than the TTL and returns how
// many were removed. Conversations with a request in flight are kept.
func (ms *MemoryStore) Sweep() int {
	if ms.ttl <= 0 {
		return 0
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	cutoff := ms.now().Add(-ms.ttl)
	removed := 0
	for id, c := range ms.conversations {
		if _, busy := ms.inFlight[id]; busy {
			continue
		}
		if c.UpdatedAt.Before(cutoff) {
			delete(ms.conversations, id)
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
					log.Debug().Int("removed", removed).Msg("Swept expired conversations")
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
