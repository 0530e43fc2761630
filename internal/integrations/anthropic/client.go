package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"codemate-api/internal/domain"
)

const defaultMaxTokens = 1024

// messagesAPI is the part of anthropic.MessageService used by Client.
type messagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// HTTPStatusError carries the status of a failed Messages API call.
type HTTPStatusError struct {
	StatusCode int
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("anthropic: unexpected status %d: %v", e.StatusCode, e.Err)
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the Anthropic Messages API directly through the vendor SDK.
type Client struct {
	messages    messagesAPI
	model       anthropic.Model
	maxTokens   int64
	temperature *float64
}

type Option func(*Client)

// WithGeneration fixes the output length and sampling temperature.
func WithGeneration(maxTokens int, temperature float64) Option {
	return func(c *Client) {
		if maxTokens > 0 {
			c.maxTokens = int64(maxTokens)
		}
		c.temperature = &temperature
	}
}

// NewClient creates a Messages API client authenticated with apiKey.
func NewClient(apiKey, model string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("anthropic: api key must not be empty")
	}
	ac := anthropic.NewClient(option.WithAPIKey(apiKey))
	return newWithMessages(&ac.Messages, model, opts...)
}

func newWithMessages(messages messagesAPI, model string, opts ...Option) (*Client, error) {
	if messages == nil {
		return nil, errors.New("anthropic: messages api must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("anthropic: model must not be empty")
	}
	c := &Client{messages: messages, model: anthropic.Model(model), maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Complete sends the system instruction as the system block and concatenates
// the text blocks of the reply.
func (c *Client) Complete(ctx context.Context, system string, messages []domain.ChatMessage) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
	}
	if strings.TrimSpace(system) != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if c.temperature != nil {
		params.Temperature = anthropic.Float(*c.temperature)
	}
	for i, m := range messages {
		switch m.Role {
		case domain.RoleUser:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case domain.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			return "", fmt.Errorf("anthropic: message %d has unsupported role %q", i, m.Role)
		}
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &HTTPStatusError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return "", fmt.Errorf("anthropic: create message: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("anthropic: no text in response")
	}
	return sb.String(), nil
}
