package usecase

import (
	"context"
	"errors"

	"codemate-api/internal/domain"
)

// ListConversations returns the owner's conversation summaries, newest first.
func (s *ChatService) ListConversations(ctx context.Context, ownerID string) ([]domain.ConversationSummary, error) {
	out, err := s.store.ListSummaries(ctx, ownerID)
	if err != nil {
		return nil, newError(ErrorInternal, "store_read_error", err)
	}
	if out == nil {
		out = []domain.ConversationSummary{}
	}
	return out, nil
}

func (s *ChatService) GetConversation(ctx context.Context, ownerID, conversationID string) (domain.Conversation, error) {
	if conversationID == "" {
		return domain.Conversation{}, newError(ErrorNotFound, "conversation_not_found", nil)
	}
	conv, err := s.store.GetByID(ctx, ownerID, conversationID)
	if err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			return domain.Conversation{}, newError(ErrorNotFound, "conversation_not_found", err)
		}
		return domain.Conversation{}, newError(ErrorInternal, "store_read_error", err)
	}
	return conv, nil
}

// DeleteConversation removes a conversation. Ids owned by someone else are
// reported as not found.
func (s *ChatService) DeleteConversation(ctx context.Context, ownerID, conversationID string) error {
	if conversationID == "" {
		return newError(ErrorNotFound, "conversation_not_found", nil)
	}
	if err := s.store.Delete(ctx, ownerID, conversationID); err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			return newError(ErrorNotFound, "conversation_not_found", err)
		}
		return newError(ErrorInternal, "store_write_error", err)
	}
	return nil
}
