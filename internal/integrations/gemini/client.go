package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"codemate-api/internal/domain"
)

// Gemini names the assistant turn "model".
const (
	roleUser  = "user"
	roleModel = "model"
)

// HTTPStatusError carries the status of a failed generateContent call.
type HTTPStatusError struct {
	StatusCode int
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("gemini: unexpected status %d: %v", e.StatusCode, e.Err)
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// modelsAPI is the part of *genai.Models used by Client.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client calls the Gemini API directly through the vendor SDK.
type Client struct {
	models      modelsAPI
	model       string
	maxTokens   int32
	temperature *float32
}

type Option func(*Client)

// WithGeneration fixes the output length and sampling temperature.
func WithGeneration(maxTokens int, temperature float64) Option {
	return func(c *Client) {
		c.maxTokens = int32(maxTokens)
		c.temperature = genai.Ptr(float32(temperature))
	}
}

// NewClient creates a Gemini API client authenticated with apiKey.
func NewClient(ctx context.Context, apiKey, model string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini: api key must not be empty")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return newWithModels(gc.Models, model, opts...)
}

func newWithModels(models modelsAPI, model string, opts ...Option) (*Client, error) {
	if models == nil {
		return nil, errors.New("gemini: models api must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("gemini: model must not be empty")
	}
	c := &Client{models: models, model: model}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Complete passes the system instruction as SystemInstruction and the
// transcript as user/model contents.
func (c *Client) Complete(ctx context.Context, system string, messages []domain.ChatMessage) (string, error) {
	contents, err := toContents(messages)
	if err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: c.maxTokens,
		Temperature:     c.temperature,
	}
	if strings.TrimSpace(system) != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		if code, ok := apiErrorCode(err); ok {
			return "", &HTTPStatusError{StatusCode: code, Err: err}
		}
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	return replyText(resp)
}

// apiErrorCode reports the HTTP status of a genai.APIError anywhere in the
// chain. The SDK returns it by value, but pointers are accepted too.
func apiErrorCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code > 0 {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && apiErrPtr.Code > 0 {
		return apiErrPtr.Code, true
	}
	return 0, false
}

func toContents(messages []domain.ChatMessage) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(messages))
	for i, m := range messages {
		var role string
		switch m.Role {
		case domain.RoleUser:
			role = roleUser
		case domain.RoleAssistant:
			role = roleModel
		default:
			return nil, fmt.Errorf("gemini: message %d has unsupported role %q", i, m.Role)
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return out, nil
}

func replyText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("gemini: no candidates in response")
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return "", errors.New("gemini: candidate has no content")
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}
