package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"codemate-api/internal/domain"
	"codemate-api/internal/shortcut"
)

// ConversationStore is the owner-scoped persistence contract.
type ConversationStore interface {
	RecentConversationReader
	ListSummaries(ctx context.Context, ownerID string) ([]domain.ConversationSummary, error)
	GetByID(ctx context.Context, ownerID, conversationID string) (domain.Conversation, error)
	UpsertAppend(ctx context.Context, conv domain.Conversation, appended []domain.Message) error
	Delete(ctx context.Context, ownerID, conversationID string) error
}

// ModelGateway sends a transcript under a system instruction to the configured
// provider.
type ModelGateway interface {
	Complete(ctx context.Context, systemInstruction string, transcript []domain.Message) (string, error)
}

// ShortcutRouter answers a fixed set of prompts without calling the model.
type ShortcutRouter interface {
	Classify(prompt string) shortcut.Category
	Reply(c shortcut.Category) (string, bool)
}

type ChatService struct {
	store              ConversationStore
	gateway            ModelGateway
	shortcuts          ShortcutRouter
	memory             *MemorySynthesizer
	reasoning          bool
	maxContextMessages int
}

type Option func(*ChatService)

// WithReasoning asks the model to open every reply with a delimited thought
// section.
func WithReasoning(enabled bool) Option {
	return func(s *ChatService) {
		s.reasoning = enabled
	}
}

// WithMaxContextMessages bounds the transcript sent to the model to its most
// recent n messages. Zero sends the whole conversation.
func WithMaxContextMessages(n int) Option {
	return func(s *ChatService) {
		if n > 0 {
			s.maxContextMessages = n
		}
	}
}

type ChatInput struct {
	OwnerID        string
	Prompt         string
	ConversationID string
}

type ChatOutput struct {
	AIMessage      domain.Message
	ConversationID string
}

func NewChatService(store ConversationStore, gateway ModelGateway, shortcuts ShortcutRouter, opts ...Option) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if gateway == nil {
		return nil, errors.New("usecase: model gateway must not be nil")
	}
	if shortcuts == nil {
		return nil, errors.New("usecase: shortcut router must not be nil")
	}
	s := &ChatService{
		store:     store,
		gateway:   gateway,
		shortcuts: shortcuts,
		memory:    NewMemorySynthesizer(store),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Chat answers one prompt inside a new or resumed conversation and persists
// the user message together with the reply.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_prompt", nil)
	}

	conv, err := s.resolveConversation(ctx, in.OwnerID, strings.TrimSpace(in.ConversationID), prompt)
	if err != nil {
		return ChatOutput{}, err
	}

	var reply string
	category := s.shortcuts.Classify(prompt)
	if text, ok := s.shortcuts.Reply(category); ok {
		slog.InfoContext(ctx, "chat shortcut",
			"conversation_id", conv.ID,
			"category", string(category),
		)
		reply = text
	} else {
		reply, err = s.modelReply(ctx, conv, prompt)
		if err != nil {
			return ChatOutput{}, err
		}
	}

	aiMessage := conv.AppendExchange(prompt, reply, now())
	exchange := conv.Messages[len(conv.Messages)-2:]
	if err := s.store.UpsertAppend(ctx, conv, exchange); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "store_write_error", err)
	}

	return ChatOutput{
		AIMessage:      aiMessage,
		ConversationID: conv.ID,
	}, nil
}

func (s *ChatService) resolveConversation(ctx context.Context, ownerID, conversationID, prompt string) (domain.Conversation, error) {
	if conversationID != "" {
		conv, err := s.store.GetByID(ctx, ownerID, conversationID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, domain.ErrConversationNotFound) {
			return domain.Conversation{}, newError(ErrorInternal, "store_read_error", err)
		}
		slog.InfoContext(ctx, "conversation not found, starting a new one",
			"requested_conversation_id", conversationID,
		)
	}
	return domain.NewConversation(newUUID(), ownerID, prompt, now()), nil
}

func (s *ChatService) modelReply(ctx context.Context, conv domain.Conversation, prompt string) (string, error) {
	transcript := make([]domain.Message, 0, len(conv.Messages)+1)
	transcript = append(transcript, conv.Messages...)
	transcript = append(transcript, domain.Message{
		Sender:    domain.SenderUser,
		Content:   prompt,
		CreatedAt: now(),
	})
	transcript = contextWindow(transcript, s.maxContextMessages)

	digest := s.memory.Synthesize(ctx, conv.OwnerID, conv.ID)
	system := buildPersonaPrompt(digest, s.reasoning)

	reply, err := s.gateway.Complete(ctx, system, transcript)
	if err != nil {
		return "", newError(ErrorUpstream, "provider_error", err)
	}
	return reply, nil
}

// contextWindow keeps the last max messages of transcript. A window never
// opens with an ai message.
func contextWindow(transcript []domain.Message, max int) []domain.Message {
	if max <= 0 || len(transcript) <= max {
		return transcript
	}
	window := transcript[len(transcript)-max:]
	for len(window) > 1 && window[0].Sender != domain.SenderUser {
		window = window[1:]
	}
	return window
}

var newUUID = func() string {
	return uuid.NewString()
}

var now = func() time.Time {
	return time.Now().UTC()
}
