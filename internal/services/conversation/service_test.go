package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/mlqa/lingo/internal/infrastructure/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend records the inputs it receives and answers from a func
type fakeBackend struct {
	mu      sync.Mutex
	calls   []inference.Inputs
	respond func(in inference.Inputs) (*inference.Result, error)
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Query(ctx context.Context, in inference.Inputs) (*inference.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	f.mu.Unlock()
	return f.respond(in)
}

func (f *fakeBackend) Calls() []inference.Inputs {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]inference.Inputs, len(f.calls))
	copy(out, f.calls)
	return out
}

func answerWith(text string) func(inference.Inputs) (*inference.Result, error) {
	return func(inference.Inputs) (*inference.Result, error) {
		body, _ := json.Marshal(inference.Answer{Answer: text, Score: 0.9})
		return &inference.Result{StatusCode: http.StatusOK, Body: body}, nil
	}
}

func newTestService(backend inference.Backend) *Service {
	return NewServiceWithStore(NewMemoryStore(time.Hour), backend)
}

func TestSubmitFirstMessageSetsContext(t *testing.T) {
	backend := &fakeBackend{respond: answerWith("ignored")}
	svc := newTestService(backend)
	ctx := context.Background()

	reply, err := svc.Submit(ctx, "c1", "  Paris is the capital of France.  ")
	require.NoError(t, err)

	assert.Equal(t, RoleBot, reply.Role)
	assert.Equal(t, ContextSetReply, reply.Message)

	// The context is sent as both question and context
	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, inference.Inputs{Question: "Paris is the capital of France.", Context: "Paris is the capital of France."}, calls[0])

	c, err := svc.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c.Context)
	assert.Equal(t, "Paris is the capital of France.", *c.Context)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, Message{Role: RoleUser, Message: "Paris is the capital of France.", CreatedAt: c.Messages[0].CreatedAt}, c.Messages[0])
	assert.Equal(t, RoleBot, c.Messages[1].Role)
}

func TestSubmitContextWarmUpFailureIsIgnored(t *testing.T) {
	backend := &fakeBackend{respond: func(inference.Inputs) (*inference.Result, error) {
		return nil, errors.New("connection refused")
	}}
	svc := newTestService(backend)

	reply, err := svc.Submit(context.Background(), "c1", "Some context")
	require.NoError(t, err)
	assert.Equal(t, ContextSetReply, reply.Message)
}

func TestSubmitQuestionUsesStoredContext(t *testing.T) {
	backend := &fakeBackend{respond: answerWith("France")}
	svc := newTestService(backend)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "c1", "Paris is the capital of France.")
	require.NoError(t, err)

	reply, err := svc.Submit(ctx, "c1", "¿De qué país es capital París?")
	require.NoError(t, err)
	assert.Equal(t, "France", reply.Message)

	calls := backend.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, inference.Inputs{Question: "¿De qué país es capital París?", Context: "Paris is the capital of France."}, calls[1])

	c, err := svc.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, c.Messages, 4)
	assert.Equal(t, []Role{RoleUser, RoleBot, RoleUser, RoleBot}, []Role{c.Messages[0].Role, c.Messages[1].Role, c.Messages[2].Role, c.Messages[3].Role})
}

func TestSubmitEmptyAnswer(t *testing.T) {
	backend := &fakeBackend{respond: answerWith("  ")}
	svc := newTestService(backend)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "c1", "context")
	require.NoError(t, err)

	reply, err := svc.Submit(ctx, "c1", "question")
	require.NoError(t, err)
	assert.Equal(t, NoAnswerReply, reply.Message)
}

func TestSubmitUpstreamFailureKeepsUserMessage(t *testing.T) {
	backend := &fakeBackend{respond: answerWith("ok")}
	svc := newTestService(backend)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "c1", "context")
	require.NoError(t, err)

	backend.respond = func(inference.Inputs) (*inference.Result, error) {
		return &inference.Result{StatusCode: http.StatusServiceUnavailable, Body: json.RawMessage(`{"error":"Model is currently loading"}`)}, nil
	}

	_, err = svc.Submit(ctx, "c1", "question")
	assert.ErrorIs(t, err, ErrUpstreamFailed)
	var upstreamErr *inference.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusServiceUnavailable, upstreamErr.StatusCode)

	c, err := svc.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, c.Messages, 3)
	assert.Equal(t, RoleUser, c.Messages[2].Role)
	assert.Equal(t, "question", c.Messages[2].Message)

	// The guard was released, so the next submission goes through
	backend.respond = answerWith("fine")
	reply, err := svc.Submit(ctx, "c1", "again")
	require.NoError(t, err)
	assert.Equal(t, "fine", reply.Message)
}

func TestSubmitRejectsEmptyMessage(t *testing.T) {
	backend := &fakeBackend{respond: answerWith("x")}
	svc := newTestService(backend)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := svc.Submit(context.Background(), "c1", text)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	assert.Empty(t, backend.Calls())
}

func TestSubmitSingleRequestInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{respond: func(inference.Inputs) (*inference.Result, error) {
		close(entered)
		<-release
		return answerWith("done")(inference.Inputs{})
	}}
	svc := newTestService(backend)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Submit(ctx, "c1", "context")
		errCh <- err
	}()

	<-entered

	view, err := svc.View(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, view.InFlight)
	require.Len(t, view.Messages, 1, "user message is visible while the request is in flight")

	_, err = svc.Submit(ctx, "c1", "second")
	assert.ErrorIs(t, err, ErrRequestInFlight)
	assert.ErrorIs(t, svc.Reset(ctx, "c1"), ErrRequestInFlight)

	// Other conversations are not blocked
	_, err = svc.Submit(ctx, "c2", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	close(release)
	require.NoError(t, <-errCh)

	view, err = svc.View(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, view.InFlight)
	assert.Len(t, view.Messages, 2)
}

func TestViewAndReset(t *testing.T) {
	backend := &fakeBackend{respond: answerWith("x")}
	svc := newTestService(backend)
	ctx := context.Background()

	view, err := svc.View(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, Greeting, view.Greeting)
	assert.Equal(t, PlaceholderContext, view.Placeholder)
	assert.Nil(t, view.Context)
	assert.Empty(t, view.Messages)

	_, err = svc.Submit(ctx, "c1", "context")
	require.NoError(t, err)

	view, err = svc.View(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, view.Greeting)
	assert.Equal(t, PlaceholderQuestion, view.Placeholder)

	require.NoError(t, svc.Reset(ctx, "c1"))

	view, err = svc.View(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, view.Context)
	assert.Empty(t, view.Messages)

	// After a reset the next message is a context again
	reply, err := svc.Submit(ctx, "c1", "new context")
	require.NoError(t, err)
	assert.Equal(t, ContextSetReply, reply.Message)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("returns copies", func(t *testing.T) {
		store := NewMemoryStore(time.Hour)
		c := newConversation("c1", time.Now())
		c.append(RoleUser, "hello", time.Now())
		require.NoError(t, store.Save(ctx, c))

		loaded, err := store.Get(ctx, "c1")
		require.NoError(t, err)
		loaded.append(RoleBot, "mutated", time.Now())

		again, err := store.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Len(t, again.Messages, 1)
	})

	t.Run("expires idle conversations", func(t *testing.T) {
		store := NewMemoryStore(time.Minute)
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		store.now = func() time.Time { return now }

		require.NoError(t, store.Save(ctx, newConversation("c1", now)))

		now = now.Add(2 * time.Minute)
		loaded, err := store.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("guard is exclusive", func(t *testing.T) {
		store := NewMemoryStore(time.Hour)

		token, ok, err := store.Acquire(ctx, "c1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotEmpty(t, token)

		_, ok, err = store.Acquire(ctx, "c1")
		require.NoError(t, err)
		assert.False(t, ok)

		// A foreign token does not release the guard
		require.NoError(t, store.Release(ctx, "c1", "someone-else"))
		busy, err := store.InFlight(ctx, "c1")
		require.NoError(t, err)
		assert.True(t, busy)

		require.NoError(t, store.Release(ctx, "c1", token))
		_, ok, err = store.Acquire(ctx, "c1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("sweep drops idle conversations", func(t *testing.T) {
		store := NewMemoryStore(time.Minute)
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		store.now = func() time.Time { return now }

		require.NoError(t, store.Save(ctx, newConversation("idle", now)))
		require.NoError(t, store.Save(ctx, newConversation("busy", now)))
		_, ok, err := store.Acquire(ctx, "busy")
		require.NoError(t, err)
		require.True(t, ok)

		now = now.Add(2 * time.Minute)
		require.NoError(t, store.Save(ctx, newConversation("fresh", now)))

		assert.Equal(t, 1, store.Sweep())

		store.mu.RLock()
		defer store.mu.RUnlock()
		assert.NotContains(t, store.conversations, "idle")
		assert.Contains(t, store.conversations, "busy", "a conversation with a request in flight is kept")
		assert.Contains(t, store.conversations, "fresh")
	})

	t.Run("janitor sweeps in the background", func(t *testing.T) {
		store := NewMemoryStore(time.Minute)
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, store.Save(ctx, newConversation("abandoned", now)))
		store.now = func() time.Time { return now.Add(time.Hour) }

		stop := store.StartJanitor(5 * time.Millisecond)
		defer stop()

		assert.Eventually(t, func() bool {
			store.mu.RLock()
			defer store.mu.RUnlock()
			return len(store.conversations) == 0
		}, time.Second, 5*time.Millisecond)
	})
}

// flakyStore behaves like Redis under a cancelled context and can fail
// saves from a given attempt on
type flakyStore struct {
	*MemoryStore
	saves    int
	failFrom int
}

func (f *flakyStore) Save(ctx context.Context, c *Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.saves++
	if f.failFrom > 0 && f.saves >= f.failFrom {
		return errors.New("redis: connection pool timeout")
	}
	return f.MemoryStore.Save(ctx, c)
}

func TestSubmitContextSurvivesClientDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := &fakeBackend{respond: func(inference.Inputs) (*inference.Result, error) {
		// The browser goes away while the warm-up is running
		cancel()
		return nil, context.Canceled
	}}
	store := &flakyStore{MemoryStore: NewMemoryStore(time.Hour)}
	svc := NewServiceWithStore(store, backend)

	reply, err := svc.Submit(ctx, "c1", "Paris is the capital of France.")
	require.NoError(t, err)
	assert.Equal(t, ContextSetReply, reply.Message)

	c, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, c.Context)
	assert.Equal(t, "Paris is the capital of France.", *c.Context)
	assert.Len(t, c.Messages, 2)
}

func TestSubmitContextStoredWithFirstSave(t *testing.T) {
	backend := &fakeBackend{respond: answerWith("ignored")}
	store := &flakyStore{MemoryStore: NewMemoryStore(time.Hour), failFrom: 2}
	svc := NewServiceWithStore(store, backend)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "c1", "Paris is the capital of France.")
	require.Error(t, err)

	c, err := svc.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c.Context, "the paragraph must already be the context")
	assert.Equal(t, "Paris is the capital of France.", *c.Context)
	require.Len(t, c.Messages, 1)

	// The next message is a question, not a new context
	store.failFrom = 0
	backend.respond = answerWith("France")
	reply, err := svc.Submit(ctx, "c1", "Which country?")
	require.NoError(t, err)
	assert.Equal(t, "France", reply.Message)
}
