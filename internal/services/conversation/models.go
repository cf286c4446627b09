package conversation

import (
	"time"
)

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

const (
	// Greeting is shown while a conversation has no messages
	Greeting = "Hello, I am a multilingual question answering chatbot. I understand more than 100 languages. " +
		"Before asking any questions you first have to provide me a context paragraph, from which I will find answers. " +
		"You can ask questions in any language, yet answers will be in the same language as the context."

	// ContextSetReply answers the first message of a conversation
	ContextSetReply = "Context has been set successfully. Now you can ask questions."

	// NoAnswerReply is used when the model returns an empty span
	NoAnswerReply = "I could not find an answer to that in the context."

	PlaceholderContext  = "Enter context"
	PlaceholderQuestion = "Ask a question"
)

// Message is one entry of the chat history
type Message struct {
	Role      Role      `json:"role"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is the context paragraph and the linear message history of
// one browser session. Context is nil until the first message sets it.
type Conversation struct {
	ID        string    `json:"id"`
	Context   *string   `json:"context"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// View is what clients render
type View struct {
	ID          string    `json:"id"`
	Context     *string   `json:"context"`
	Messages    []Message `json:"messages"`
	Greeting    string    `json:"greeting,omitempty"`
	Placeholder string    `json:"placeholder"`
	InFlight    bool      `json:"in_flight"`
}

func newConversation(id string, now time.Time) *Conversation {
	return &Conversation{
		ID:        id,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Conversation) append(role Role, text string, now time.Time) Message {
	msg := Message{Role: role, Message: text, CreatedAt: now}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = now
	return msg
}

// clone returns a copy that shares no mutable state with c
func (c *Conversation) clone() *Conversation {
	cp := *c
	if c.Context != nil {
		ctxCopy := *c.Context
		cp.Context = &ctxCopy
	}
	cp.Messages = make([]Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	return &cp
}
