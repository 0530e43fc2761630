package usecase

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"codemate-api/internal/domain"
)

// memStore is an in-memory ConversationStore keyed by owner then id.
type memStore struct {
	convs     map[string]map[string]domain.Conversation
	getErr    error
	recentErr error
	listErr   error
	upsertErr error
	deleteErr error
	upserts   int
	appended  [][]domain.Message
}

func newMemStore() *memStore {
	return &memStore{convs: map[string]map[string]domain.Conversation{}}
}

func (m *memStore) put(conv domain.Conversation) {
	if m.convs[conv.OwnerID] == nil {
		m.convs[conv.OwnerID] = map[string]domain.Conversation{}
	}
	conv.Messages = append([]domain.Message(nil), conv.Messages...)
	m.convs[conv.OwnerID][conv.ID] = conv
}

func (m *memStore) ListSummaries(_ context.Context, ownerID string) ([]domain.ConversationSummary, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.ConversationSummary
	for _, c := range m.convs[ownerID] {
		out = append(out, c.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) GetByID(_ context.Context, ownerID, id string) (domain.Conversation, error) {
	if m.getErr != nil {
		return domain.Conversation{}, m.getErr
	}
	c, ok := m.convs[ownerID][id]
	if !ok {
		return domain.Conversation{}, fmt.Errorf("memstore: %w", domain.ErrConversationNotFound)
	}
	c.Messages = append([]domain.Message(nil), c.Messages...)
	return c, nil
}

func (m *memStore) RecentExcluding(_ context.Context, ownerID, excludeID string, limit int) ([]domain.ConversationPreview, error) {
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	var out []domain.ConversationPreview
	for _, c := range m.convs[ownerID] {
		if c.ID != excludeID {
			out = append(out, preview(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpsertAppend(_ context.Context, conv domain.Conversation, appended []domain.Message) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts++
	m.appended = append(m.appended, append([]domain.Message(nil), appended...))
	m.put(conv)
	return nil
}

func preview(c domain.Conversation) domain.ConversationPreview {
	p := domain.ConversationPreview{ID: c.ID, Title: c.Title, UpdatedAt: c.UpdatedAt}
	if last, ok := c.LastMessage(); ok {
		p.Last = &last
	}
	return p
}

func (m *memStore) Delete(_ context.Context, ownerID, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.convs[ownerID][id]; !ok {
		return fmt.Errorf("memstore: %w", domain.ErrConversationNotFound)
	}
	delete(m.convs[ownerID], id)
	return nil
}

type fakeGateway struct {
	reply      string
	err        error
	calls      int
	system     string
	transcript []domain.Message
}

func (g *fakeGateway) Complete(_ context.Context, system string, transcript []domain.Message) (string, error) {
	g.calls++
	g.system = system
	g.transcript = append([]domain.Message(nil), transcript...)
	return g.reply, g.err
}

var testBase = time.Date(2026, 5, 4, 18, 45, 0, 0, time.UTC)

// stubClock makes now and newUUID deterministic for the duration of a test.
func stubClock(t *testing.T) {
	t.Helper()
	origNow, origUUID := now, newUUID
	tick, seq := 0, 0
	now = func() time.Time {
		tick++
		return testBase.Add(time.Duration(tick) * time.Second)
	}
	newUUID = func() string {
		seq++
		return fmt.Sprintf("conv-%d", seq)
	}
	t.Cleanup(func() {
		now, newUUID = origNow, origUUID
	})
}

func storedConversation(owner, id, title string, updated time.Time, msgs ...domain.Message) domain.Conversation {
	return domain.Conversation{
		ID:        id,
		OwnerID:   owner,
		Title:     title,
		Messages:  msgs,
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated,
	}
}

func userMsg(content string) domain.Message {
	return domain.Message{Sender: domain.SenderUser, Content: content, CreatedAt: testBase}
}

func aiMsg(content string) domain.Message {
	return domain.Message{Sender: domain.SenderAI, Content: content, CreatedAt: testBase}
}
