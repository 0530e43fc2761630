package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"codemate-api/internal/domain"
)

type fakeMessages struct {
	out  *anthropic.Message
	err  error
	last anthropic.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.last = body
	return f.out, f.err
}

func textMessage(texts ...string) *anthropic.Message {
	msg := &anthropic.Message{}
	for _, t := range texts {
		msg.Content = append(msg.Content, anthropic.ContentBlockUnion{Type: "text", Text: t})
	}
	return msg
}

func mustNew(t *testing.T, f *fakeMessages, opts ...Option) *Client {
	t.Helper()
	c, err := newWithMessages(f, "claude-sonnet-4-0", opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient_EmptyKey(t *testing.T) {
	_, err := NewClient("", "claude-sonnet-4-0")
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key")
}

func TestNewWithMessages_Validates(t *testing.T) {
	_, err := newWithMessages(nil, "claude-sonnet-4-0")
	require.Error(t, err)

	_, err = newWithMessages(&fakeMessages{}, "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

func TestComplete_BuildsParams(t *testing.T) {
	f := &fakeMessages{out: textMessage("Sure, ", "here it is.")}
	c := mustNew(t, f, WithGeneration(2048, 0.2))

	out, err := c.Complete(context.Background(), "persona", []domain.ChatMessage{
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"},
	})
	require.NoError(t, err)
	require.Equal(t, "Sure, here it is.", out)

	require.Equal(t, anthropic.Model("claude-sonnet-4-0"), f.last.Model)
	require.Equal(t, int64(2048), f.last.MaxTokens)
	require.InDelta(t, 0.2, f.last.Temperature.Value, 1e-9)
	require.Len(t, f.last.System, 1)
	require.Equal(t, "persona", f.last.System[0].Text)
	require.Len(t, f.last.Messages, 3)
	require.Equal(t, anthropic.MessageParamRoleUser, f.last.Messages[0].Role)
	require.Equal(t, anthropic.MessageParamRoleAssistant, f.last.Messages[1].Role)
	require.Equal(t, "a1", f.last.Messages[1].Content[0].OfText.Text)
}

func TestComplete_DefaultMaxTokens(t *testing.T) {
	f := &fakeMessages{out: textMessage("ok")}
	c := mustNew(t, f)
	_, err := c.Complete(context.Background(), "", []domain.ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	require.Equal(t, int64(defaultMaxTokens), f.last.MaxTokens)
	require.Empty(t, f.last.System)
}

func TestComplete_UnsupportedRole(t *testing.T) {
	c := mustNew(t, &fakeMessages{})
	_, err := c.Complete(context.Background(), "sys", []domain.ChatMessage{{Role: "system", Content: "x"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported role")
}

func TestComplete_APIStatusError(t *testing.T) {
	f := &fakeMessages{err: &anthropic.Error{StatusCode: 529}}
	c := mustNew(t, f)
	_, err := c.Complete(context.Background(), "sys", []domain.ChatMessage{{Role: "user", Content: "hi"}})
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 529, statusErr.HTTPStatusCode())
}

func TestComplete_TransportError(t *testing.T) {
	f := &fakeMessages{err: errors.New("dial tcp: timeout")}
	c := mustNew(t, f)
	_, err := c.Complete(context.Background(), "sys", []domain.ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "create message")
}

func TestComplete_NoText(t *testing.T) {
	f := &fakeMessages{out: &anthropic.Message{}}
	c := mustNew(t, f)
	_, err := c.Complete(context.Background(), "sys", []domain.ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no text")
}
