package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mlqa/lingo/internal/api/v1/middleware"
	"github.com/mlqa/lingo/internal/config"
	"github.com/mlqa/lingo/internal/connections"
	"github.com/mlqa/lingo/internal/services/conversation"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const maxFrameBytes = 64 << 10

const (
	FrameView    = "view"
	FrameMessage = "message"
	FrameError   = "error"
)

// ClientFrame is what browsers send
type ClientFrame struct {
	Message string `json:"message"`
}

// ServerFrame is what the server sends back
type ServerFrame struct {
	Type         string             `json:"type"`
	Role         conversation.Role  `json:"role,omitempty"`
	Message      string             `json:"message,omitempty"`
	Error        string             `json:"error,omitempty"`
	Conversation *conversation.View `json:"conversation,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

// checkOrigin accepts same-host requests and the configured CORS origins
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	allowed := config.GetCORSAllowedOrigins()
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == origin {
			return true
		}
	}
	return false
}

// conn serialises writes, the ping loop and replies share the socket
type conn struct {
	ws       *websocket.Conn
	mu       sync.Mutex
	timeouts connections.TimeoutConfig
}

func (c *conn) writeFrame(frame ServerFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.timeouts.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(frame)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.timeouts.WriteWait))
}

// HandleConversationWebSocket serves the chat over a WebSocket. Each client
// frame is submitted to the session's conversation and answered with a bot
// frame or an error frame.
func HandleConversationWebSocket(conversationService *conversation.Service, manager *connections.Manager, w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	claims := middleware.GetSession(r)
	if claims == nil {
		http.Error(w, "Missing session", http.StatusUnauthorized)
		return
	}
	conversationID := claims.ConversationID

	// A session created by the middleware must reach the browser with the upgrade
	responseHeader := http.Header{}
	if cookies := w.Header().Values("Set-Cookie"); len(cookies) > 0 {
		responseHeader["Set-Cookie"] = cookies
	}

	ws, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer ws.Close()

	manager.AddConnection(ws, conversationID)
	defer manager.RemoveConnection(ws)

	timeouts := manager.GetTimeouts()
	c := &conn{ws: ws, timeouts: timeouts}

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(timeouts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(timeouts.PongWait))
	})

	// Submissions finish before the socket is torn down
	var pending sync.WaitGroup
	defer pending.Wait()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go keepAlive(ctx, c, logger)

	logger.Info().
		Str("conversation_id", conversationID).
		Int("connections", manager.GetConnectionCount()).
		Int("conversation_connections", manager.ConversationConnectionCount(conversationID)).
		Msg("Chat WebSocket connected")

	view, err := conversationService.View(ctx, conversationID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load conversation")
		_ = c.writeFrame(ServerFrame{Type: FrameError, Error: "Internal server error"})
		return
	}
	if err := c.writeFrame(ServerFrame{Type: FrameView, Conversation: view}); err != nil {
		return
	}

	// The loop keeps reading while an answer is pending, so pongs still move
	// the deadline and a second frame gets the in-flight error
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("Unexpected WebSocket closure")
			} else {
				logger.Info().Str("conversation_id", conversationID).Msg("Chat WebSocket closed")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(timeouts.PongWait))

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if werr := c.writeFrame(ServerFrame{Type: FrameError, Error: "Invalid message format"}); werr != nil {
				return
			}
			continue
		}

		pending.Add(1)
		go func(text string) {
			defer pending.Done()
			submit(ctx, conversationService, manager, c, conversationID, text, logger)
		}(frame.Message)
	}
}

// submit answers one client frame and writes the reply or error frame
func submit(ctx context.Context, conversationService *conversation.Service, manager *connections.Manager, c *conn, conversationID, text string, logger *zerolog.Logger) {
	reply, err := conversationService.Submit(ctx, conversationID, text)

	// Closed on shutdown while the answer was pending
	if !manager.HasConnection(c.ws) {
		return
	}

	frame := ServerFrame{Type: FrameMessage}
	if err != nil {
		logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("Message submission failed")
		frame = ServerFrame{Type: FrameError, Error: frameError(err)}
	} else {
		frame.Role = reply.Role
		frame.Message = reply.Message
	}

	if err := c.writeFrame(frame); err != nil {
		logger.Warn().Err(err).Msg("Failed to write reply")
		// Unblocks the read loop
		_ = c.ws.Close()
	}
}

func keepAlive(ctx context.Context, c *conn, logger *zerolog.Logger) {
	ticker := time.NewTicker(c.timeouts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

func frameError(err error) string {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, conversation.ErrRequestInFlight),
		errors.Is(err, conversation.ErrUpstreamFailed):
		return err.Error()
	default:
		return "Internal server error"
	}
}
