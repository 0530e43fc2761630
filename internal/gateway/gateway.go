// Package gateway sends a conversation transcript to the single configured
// language-model provider and returns its reply.
//
// Providers only ever see provider-agnostic domain.ChatMessage values with the
// roles "user" and "assistant"; any further vendor-specific translation happens
// inside the provider integration.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"codemate-api/internal/domain"
)

// Provider is implemented by each model backend.
type Provider interface {
	Complete(ctx context.Context, system string, messages []domain.ChatMessage) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ProviderError reports a failed or unusable provider call.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway: provider %s failed with status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway: provider %s failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the upstream status, or 0 when the call never got one.
func (e *ProviderError) HTTPStatusCode() int {
	return e.StatusCode
}

// Gateway is the uniform "send transcript, get reply" entry point.
type Gateway struct {
	name     string
	provider Provider
}

// New wraps provider under the given name, which is only used for errors and logs.
func New(name string, provider Provider) (*Gateway, error) {
	if provider == nil {
		return nil, errors.New("gateway: provider must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("gateway: provider name must not be empty")
	}
	return &Gateway{name: name, provider: provider}, nil
}

// Name reports the configured provider name.
func (g *Gateway) Name() string {
	return g.name
}

// Complete translates the transcript and calls the provider exactly once.
func (g *Gateway) Complete(ctx context.Context, systemInstruction string, transcript []domain.Message) (string, error) {
	messages, err := ToChatMessages(transcript)
	if err != nil {
		return "", err
	}

	start := time.Now()
	reply, err := g.provider.Complete(ctx, systemInstruction, messages)
	if err != nil {
		perr := &ProviderError{Provider: g.name, Err: err}
		var sc httpStatusCoder
		if errors.As(err, &sc) {
			perr.StatusCode = sc.HTTPStatusCode()
		}
		slog.ErrorContext(ctx, "model provider call failed",
			"provider", g.name,
			"status", perr.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"err", err,
		)
		return "", perr
	}
	if strings.TrimSpace(reply) == "" {
		return "", &ProviderError{Provider: g.name, Err: errors.New("empty reply")}
	}
	slog.DebugContext(ctx, "model provider call completed",
		"provider", g.name,
		"messages", len(messages),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reply, nil
}

// ToChatMessages maps stored senders onto provider roles: user stays user and
// ai becomes assistant.
func ToChatMessages(transcript []domain.Message) ([]domain.ChatMessage, error) {
	out := make([]domain.ChatMessage, 0, len(transcript))
	for i, m := range transcript {
		var role string
		switch m.Sender {
		case domain.SenderUser:
			role = domain.RoleUser
		case domain.SenderAI:
			role = domain.RoleAssistant
		default:
			return nil, fmt.Errorf("gateway: message %d has unknown sender %q", i, m.Sender)
		}
		out = append(out, domain.ChatMessage{Role: role, Content: m.Content})
	}
	return out, nil
}
