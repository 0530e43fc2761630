package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codemate-api/internal/domain"
	"codemate-api/internal/shortcut"
)

func newTestService(t *testing.T, store *memStore, gw *fakeGateway, opts ...Option) *ChatService {
	t.Helper()
	router, err := shortcut.New(shortcut.WithClock(func() time.Time { return testBase }))
	require.NoError(t, err)
	svc, err := NewChatService(store, gw, router, opts...)
	require.NoError(t, err)
	return svc
}

func requireUsecaseError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var ucErr *Error
	require.True(t, errors.As(err, &ucErr), "expected *usecase.Error, got %T", err)
	require.Equal(t, code, ucErr.Code)
	require.Equal(t, reason, ucErr.Reason)
}

func TestNewChatService_Validates(t *testing.T) {
	router, err := shortcut.New()
	require.NoError(t, err)

	_, err = NewChatService(nil, &fakeGateway{}, router)
	require.ErrorContains(t, err, "store")
	_, err = NewChatService(newMemStore(), nil, router)
	require.ErrorContains(t, err, "gateway")
	_, err = NewChatService(newMemStore(), &fakeGateway{}, nil)
	require.ErrorContains(t, err, "shortcut")
}

func TestChat_EmptyPrompt(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{reply: "unused"}
	svc := newTestService(t, store, gw)

	for _, prompt := range []string{"", "   \n\t"} {
		_, err := svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: prompt})
		requireUsecaseError(t, err, ErrorInvalidInput, "empty_prompt")
	}
	require.Zero(t, gw.calls)
	require.Zero(t, store.upserts)
}

func TestChat_NewConversation(t *testing.T) {
	stubClock(t)
	store := newMemStore()
	gw := &fakeGateway{reply: "Use a slice and reverse it in place."}
	svc := newTestService(t, store, gw)

	prompt := "How do I reverse a slice in Go without allocating?"
	out, err := svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: prompt})
	require.NoError(t, err)
	require.Equal(t, "conv-1", out.ConversationID)
	require.Equal(t, domain.SenderAI, out.AIMessage.Sender)
	require.Equal(t, "Use a slice and reverse it in place.", out.AIMessage.Content)

	conv, err := svc.GetConversation(context.Background(), "u1", out.ConversationID)
	require.NoError(t, err)
	require.Equal(t, "How do I reverse a slice in Go...", conv.Title)
	require.Len(t, conv.Messages, 2)
	require.Equal(t, domain.SenderUser, conv.Messages[0].Sender)
	require.Equal(t, prompt, conv.Messages[0].Content)
	require.Equal(t, out.AIMessage, conv.Messages[1])
	require.Equal(t, 1, store.upserts)

	require.Equal(t, []domain.Message{{Sender: domain.SenderUser, Content: prompt, CreatedAt: gw.transcript[0].CreatedAt}}, gw.transcript)
	require.Contains(t, gw.system, noHistoryDigest)
}

func TestChat_ShortTitleHasNoEllipsis(t *testing.T) {
	stubClock(t)
	svc := newTestService(t, newMemStore(), &fakeGateway{reply: "ok"})

	out, err := svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: "Explain goroutines"})
	require.NoError(t, err)
	conv, err := svc.GetConversation(context.Background(), "u1", out.ConversationID)
	require.NoError(t, err)
	require.Equal(t, "Explain goroutines", conv.Title)
}

func TestChat_TitleAndStoredPromptAreTrimmed(t *testing.T) {
	stubClock(t)
	store := newMemStore()
	gw := &fakeGateway{reply: "ok"}
	svc := newTestService(t, store, gw)

	out, err := svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: "  \n Explain goroutines\t "})
	require.NoError(t, err)
	conv, err := svc.GetConversation(context.Background(), "u1", out.ConversationID)
	require.NoError(t, err)
	require.Equal(t, "Explain goroutines", conv.Title)
	require.Equal(t, "Explain goroutines", conv.Messages[0].Content)
	require.Equal(t, "Explain goroutines", gw.transcript[len(gw.transcript)-1].Content)
}

func TestChat_ResumeAppendsTwoMessagesPerCall(t *testing.T) {
	stubClock(t)
	store := newMemStore()
	gw := &fakeGateway{reply: "answer"}
	svc := newTestService(t, store, gw)

	out, err := svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: "first question"})
	require.NoError(t, err)
	id := out.ConversationID

	for i := 2; i <= 4; i++ {
		out, err = svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: "follow up", ConversationID: id})
		require.NoError(t, err)
		require.Equal(t, id, out.ConversationID)

		conv, err := svc.GetConversation(context.Background(), "u1", id)
		require.NoError(t, err)
		require.Len(t, conv.Messages, 2*i)
		require.Equal(t, domain.SenderUser, conv.Messages[2*i-2].Sender)
		require.Equal(t, domain.SenderAI, conv.Messages[2*i-1].Sender)
		require.Equal(t, "first question", conv.Title)
	}

	// Each call hands the store only the exchange it appended.
	require.Len(t, store.appended, 4)
	for _, exchange := range store.appended {
		require.Len(t, exchange, 2)
		require.Equal(t, domain.SenderUser, exchange[0].Sender)
		require.Equal(t, domain.SenderAI, exchange[1].Sender)
	}

	// The transcript carries the prior turns plus the new prompt.
	require.Len(t, gw.transcript, 7)
	require.Equal(t, "first question", gw.transcript[0].Content)
	require.Equal(t, domain.SenderUser, gw.transcript[6].Sender)
}

func TestChat_UnknownConversationStartsNewOne(t *testing.T) {
	stubClock(t)
	store := newMemStore()
	svc := newTestService(t, store, &fakeGateway{reply: "hello"})

	out, err := svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: "hi there", ConversationID: "does-not-exist"})
	require.NoError(t, err)
	require.NotEqual(t, "does-not-exist", out.ConversationID)

	conv, err := svc.GetConversation(context.Background(), "u1", out.ConversationID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
}

func TestChat_ForeignConversationStartsNewOne(t *testing.T) {
	stubClock(t)
	store := newMemStore()
	store.put(storedConversation("owner", "c-owned", "Private", testBase, userMsg("secret"), aiMsg("reply")))
	gw := &fakeGateway{reply: "hello"}
	svc := newTestService(t, store, gw)

	out, err := svc.Chat(context.Background(), ChatInput{OwnerID: "intruder", Prompt: "hi", ConversationID: "c-owned"})
	require.NoError(t, err)
	require.NotEqual(t, "c-owned", out.ConversationID)
	require.Len(t, gw.transcript, 1)

	original, err := svc.GetConversation(context.Background(), "owner", "c-owned")
	require.NoError(t, err)
	require.Len(t, original.Messages, 2)
}

func TestChat_StoreReadError(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("throttled")
	gw := &fakeGateway{reply: "unused"}
	svc := newTestService(t, store, gw)

	_, err := svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: "hi", ConversationID: "c1"})
	requireUsecaseError(t, err, ErrorInternal, "store_read_error")
	require.Zero(t, gw.calls)
}

func TestChat_IdentityShortcutSkipsModel(t *testing.T) {
	stubClock(t)
	store := newMemStore()
	store.recentErr = errors.New("must not be called")
	gw := &fakeGateway{reply: "unused"}
	svc := newTestService(t, store, gw)

	for _, prompt := range []string{"Who Are You?", "who are you", "Tell me about yourself!"} {
		out, err := svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: prompt})
		require.NoError(t, err)
		require.Equal(t, shortcut.IdentityReply, out.AIMessage.Content)
		require.Contains(t, out.AIMessage.Content, "Nexora Labs")
		for _, vendor := range []string{"OpenAI", "Google", "Gemini", "Anthropic", "Claude", "GPT"} {
			require.NotContains(t, out.AIMessage.Content, vendor)
		}

		conv, err := svc.GetConversation(context.Background(), "u1", out.ConversationID)
		require.NoError(t, err)
		require.Len(t, conv.Messages, 2)
	}
	require.Zero(t, gw.calls)
}

func TestChat_DateShortcutUsesIndiaCalendar(t *testing.T) {
	stubClock(t)
	gw := &fakeGateway{reply: "unused"}
	svc := newTestService(t, newMemStore(), gw)

	out, err := svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: "What is today's date?"})
	require.NoError(t, err)
	// 18:45 UTC on May 4 is already May 5 in Mumbai.
	require.Equal(t, "Today is Tuesday, May 5, 2026 (India/Mumbai time).", out.AIMessage.Content)
	require.Zero(t, gw.calls)
}

func TestChat_ProviderErrorPersistsNothing(t *testing.T) {
	stubClock(t)
	store := newMemStore()
	svc := newTestService(t, store, &fakeGateway{err: errors.New("503 from provider")})

	_, err := svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: "explain channels"})
	requireUsecaseError(t, err, ErrorUpstream, "provider_error")
	require.Zero(t, store.upserts)

	list, err := svc.ListConversations(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestChat_StoreWriteError(t *testing.T) {
	stubClock(t)
	store := newMemStore()
	store.upsertErr = errors.New("conditional write failed")
	svc := newTestService(t, store, &fakeGateway{reply: "ok"})

	_, err := svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: "explain channels"})
	requireUsecaseError(t, err, ErrorInternal, "store_write_error")
}

func TestChat_MemoryFailureIsSoft(t *testing.T) {
	stubClock(t)
	store := newMemStore()
	store.recentErr = errors.New("index unavailable")
	gw := &fakeGateway{reply: "still answered"}
	svc := newTestService(t, store, gw)

	out, err := svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: "explain defer"})
	require.NoError(t, err)
	require.Equal(t, "still answered", out.AIMessage.Content)
	require.Contains(t, gw.system, historyUnavailableDigest)
}

func TestChat_DigestListsNewerConversationFirst(t *testing.T) {
	stubClock(t)
	store := newMemStore()
	store.put(storedConversation("u1", "a", "Conversation A", testBase.Add(-2*time.Hour), userMsg("older question")))
	store.put(storedConversation("u1", "b", "Conversation B", testBase.Add(-time.Hour), userMsg("newer question")))
	gw := &fakeGateway{reply: "ok"}
	svc := newTestService(t, store, gw)

	_, err := svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: "something unrelated"})
	require.NoError(t, err)

	posB := strings.Index(gw.system, `Topic: "Conversation B"`)
	posA := strings.Index(gw.system, `Topic: "Conversation A"`)
	require.NotEqual(t, -1, posA)
	require.NotEqual(t, -1, posB)
	require.Less(t, posB, posA)
}

func TestChat_DigestExcludesActiveConversation(t *testing.T) {
	stubClock(t)
	store := newMemStore()
	store.put(storedConversation("u1", "active", "Active topic", testBase, userMsg("q"), aiMsg("a")))
	store.put(storedConversation("u1", "other", "Other topic", testBase.Add(-time.Hour), userMsg("q")))
	gw := &fakeGateway{reply: "ok"}
	svc := newTestService(t, store, gw)

	_, err := svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: "continue", ConversationID: "active"})
	require.NoError(t, err)
	require.NotContains(t, gw.system, "Active topic")
	require.Contains(t, gw.system, "Other topic")
}

func TestChat_ReasoningModeForwardsThoughtVerbatim(t *testing.T) {
	stubClock(t)
	reply := "<thought>The user wants a map example.</thought>\nHere is a map literal."
	gw := &fakeGateway{reply: reply}
	svc := newTestService(t, newMemStore(), gw, WithReasoning(true))

	out, err := svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: "show me a map"})
	require.NoError(t, err)
	require.Equal(t, reply, out.AIMessage.Content)
	require.Contains(t, gw.system, "<thought>")
}

func TestChat_ContextWindow(t *testing.T) {
	stubClock(t)
	store := newMemStore()
	store.put(storedConversation("u1", "c1", "Long", testBase,
		userMsg("q1"), aiMsg("a1"), userMsg("q2"), aiMsg("a2"), userMsg("q3"), aiMsg("a3"),
	))
	gw := &fakeGateway{reply: "ok"}
	svc := newTestService(t, store, gw, WithMaxContextMessages(4))

	_, err := svc.Chat(context.Background(), ChatInput{OwnerID: "u1", Prompt: "q4", ConversationID: "c1"})
	require.NoError(t, err)

	// The last four are a2, q3, a3, q4; the leading ai message is dropped.
	contents := make([]string, 0, len(gw.transcript))
	for _, m := range gw.transcript {
		contents = append(contents, m.Content)
	}
	require.Equal(t, []string{"q3", "a3", "q4"}, contents)

	conv, err := svc.GetConversation(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 8)
}

func TestContextWindow(t *testing.T) {
	msgs := []domain.Message{userMsg("q1"), aiMsg("a1"), userMsg("q2")}
	require.Equal(t, msgs, contextWindow(msgs, 0))
	require.Equal(t, msgs, contextWindow(msgs, 5))
	require.Equal(t, msgs[2:], contextWindow(msgs, 2))
	require.Equal(t, msgs[2:], contextWindow(msgs, 1))
}
