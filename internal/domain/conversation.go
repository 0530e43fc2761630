package domain

import (
	"errors"
	"time"
	"unicode/utf8"
)

// ErrConversationNotFound reports a conversation that does not exist for the
// requesting owner.
var ErrConversationNotFound = errors.New("conversation not found")

// Sender identifies who authored a persisted message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

const (
	maxTitleRunes  = 30
	ellipsisMarker = "..."
)

// Message is a single persisted conversation turn. Messages are immutable once
// appended to a conversation.
type Message struct {
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is a titled, owned, append-only sequence of messages.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"-"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationSummary is the list view of a conversation.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationPreview is the recency view of a conversation used for the
// memory digest. Last is nil when the conversation has no messages; its
// content may be a truncated prefix of the stored message.
type ConversationPreview struct {
	ID        string
	Title     string
	UpdatedAt time.Time
	Last      *Message
}

// NewConversation starts an empty conversation titled from the first prompt.
func NewConversation(id, ownerID, firstPrompt string, now time.Time) Conversation {
	return Conversation{
		ID:        id,
		OwnerID:   ownerID,
		Title:     DeriveTitle(firstPrompt),
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DeriveTitle returns the first 30 characters of prompt, followed by an
// ellipsis marker when the prompt was longer.
func DeriveTitle(prompt string) string {
	if utf8.RuneCountInString(prompt) <= maxTitleRunes {
		return prompt
	}
	return string([]rune(prompt)[:maxTitleRunes]) + ellipsisMarker
}

// AppendExchange attaches a user prompt and its reply in order and bumps
// UpdatedAt. Both messages share the same timestamp.
func (c *Conversation) AppendExchange(prompt, reply string, at time.Time) Message {
	ai := Message{Sender: SenderAI, Content: reply, CreatedAt: at}
	c.Messages = append(c.Messages,
		Message{Sender: SenderUser, Content: prompt, CreatedAt: at},
		ai,
	)
	c.UpdatedAt = at
	return ai
}

// LastMessage returns the most recently appended message, if any.
func (c Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// Summary returns the list view of c.
func (c Conversation) Summary() ConversationSummary {
	return ConversationSummary{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt}
}
