package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"codemate-api/internal/domain"
)

const (
	memoryConversationLimit = 5
	memorySnippetRunes      = 150

	noHistoryDigest          = "No previous conversation history is available."
	historyUnavailableDigest = "Previous conversation history is currently unavailable."
	digestHeader             = "Summary of the user's recent conversations (most recent first):"
)

// RecentConversationReader is the store capability the memory digest needs.
type RecentConversationReader interface {
	RecentExcluding(ctx context.Context, ownerID, excludeID string, limit int) ([]domain.ConversationPreview, error)
}

// MemorySynthesizer summarizes a user's other recent conversations into a
// short digest for the persona instruction.
type MemorySynthesizer struct {
	store RecentConversationReader
	limit int
}

func NewMemorySynthesizer(store RecentConversationReader) *MemorySynthesizer {
	return &MemorySynthesizer{store: store, limit: memoryConversationLimit}
}

// Synthesize never fails: a store error yields the unavailable sentinel.
func (m *MemorySynthesizer) Synthesize(ctx context.Context, ownerID, activeConversationID string) string {
	previews, err := m.store.RecentExcluding(ctx, ownerID, activeConversationID, m.limit)
	if err != nil {
		slog.WarnContext(ctx, "memory digest unavailable",
			"owner_id", ownerID,
			"error", err,
		)
		return historyUnavailableDigest
	}

	lines := make([]string, 0, m.limit+1)
	lines = append(lines, digestHeader)
	for _, p := range previews {
		if p.ID == activeConversationID {
			continue
		}
		lines = append(lines, digestLine(p))
		if len(lines) > m.limit {
			break
		}
	}
	if len(lines) == 1 {
		return noHistoryDigest
	}
	return strings.Join(lines, "\n")
}

func digestLine(p domain.ConversationPreview) string {
	if p.Last == nil {
		return fmt.Sprintf(`Topic: "%s". Last Exchange: none.`, oneLine(p.Title))
	}
	snippet := oneLine(truncateRunes(p.Last.Content, memorySnippetRunes))
	return fmt.Sprintf(`Topic: "%s". Last Exchange: %s: "%s..."`, oneLine(p.Title), p.Last.Sender, snippet)
}

// oneLine keeps each digest entry on a single line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
