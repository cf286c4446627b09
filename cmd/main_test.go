package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mlqa/lingo/internal/connections"
	"github.com/mlqa/lingo/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newModelServer stands in for the hosted QA model
func newModelServer(t *testing.T) *httptest.Server {
	t.Helper()
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Authorization header is invalid"}`))
			return
		}

		var req struct {
			Inputs struct {
				Question string `json:"question"`
				Context  string `json:"context"`
			} `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"answer": "Paris",
			"score":  0.98,
			"start":  strings.Index(req.Inputs.Context, "Paris"),
			"end":    strings.Index(req.Inputs.Context, "Paris") + len("Paris"),
		})
	}))
	t.Cleanup(model.Close)
	return model
}

func TestMainServer(t *testing.T) {
	model := newModelServer(t)
	t.Setenv("MODEL_URL", model.URL)
	t.Setenv("ACCESS_KEY", "test-key")
	t.Setenv("REDIS_URL", "")
	t.Setenv("SESSION_COOKIE_SECURE", "false")

	svcs, err := services.InitializeServices()
	require.NoError(t, err)
	t.Cleanup(svcs.Close)

	// Start test server
	server := httptest.NewServer(setupRouter(svcs, connections.NewManager(connections.DefaultTimeouts)))
	defer server.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}

	t.Run("message passthrough", func(t *testing.T) {
		resp, err := client.Post(server.URL+"/api/message", "application/json",
			strings.NewReader(`{"question":"Where is the Louvre?","context":"The Louvre is in Paris."}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

		var answer struct {
			Answer string  `json:"answer"`
			Score  float64 `json:"score"`
			Start  int     `json:"start"`
			End    int     `json:"end"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&answer))
		assert.Equal(t, "Paris", answer.Answer)
		assert.Equal(t, 17, answer.Start)
		assert.Equal(t, 22, answer.End)
	})

	t.Run("conversation over http", func(t *testing.T) {
		for _, step := range []struct {
			message string
			reply   string
		}{
			{"The Louvre is in Paris.", "Context has been set successfully. Now you can ask questions."},
			{"Where is the Louvre?", "Paris"},
		} {
			resp, err := client.Post(server.URL+"/v1/conversation/messages", "application/json",
				strings.NewReader(`{"message":"`+step.message+`"}`))
			require.NoError(t, err)

			var reply struct {
				Role    string `json:"role"`
				Message string `json:"message"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
			resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "bot", reply.Role)
			assert.Equal(t, step.reply, reply.Message)
		}
	})

	t.Run("websocket shares the session conversation", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/conversation/ws"
		dialer := websocket.Dialer{Jar: jar, HandshakeTimeout: 5 * time.Second}

		ws, _, err := dialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer ws.Close()

		// Read the current view
		var view struct {
			Type         string `json:"type"`
			Conversation struct {
				Context  *string           `json:"context"`
				Messages []json.RawMessage `json:"messages"`
			} `json:"conversation"`
		}
		require.NoError(t, ws.ReadJSON(&view))
		assert.Equal(t, "view", view.Type)
		require.NotNil(t, view.Conversation.Context)
		assert.Equal(t, "The Louvre is in Paris.", *view.Conversation.Context)
		assert.Len(t, view.Conversation.Messages, 4)

		require.NoError(t, ws.WriteJSON(map[string]string{"message": "Which city?"}))

		var reply struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		require.NoError(t, ws.ReadJSON(&reply))
		assert.Equal(t, "message", reply.Type)
		assert.Equal(t, "Paris", reply.Message)
	})

	t.Run("unknown route", func(t *testing.T) {
		resp, err := client.Get(server.URL + "/nope")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.JSONEq(t, `{"error":"Not found"}`, string(body))
	})
}
