package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"codemate-api/internal/auth"
	"codemate-api/internal/domain"
	"codemate-api/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerAuthorization = "Authorization"

	errorForbidden = "FORBIDDEN"
)

// ChatUseCase is the application surface exposed over HTTP.
type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	ListConversations(ctx context.Context, ownerID string) ([]domain.ConversationSummary, error)
	GetConversation(ctx context.Context, ownerID, conversationID string) (domain.Conversation, error)
	DeleteConversation(ctx context.Context, ownerID, conversationID string) error
}

// TokenVerifier turns a bearer token into a caller identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

type Handler struct {
	uc       ChatUseCase
	verifier TokenVerifier
}

type chatRequest struct {
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversationId,omitempty"`
}

type aiMessage struct {
	Sender  domain.Sender `json:"sender"`
	Content string        `json:"content"`
}

type chatResponse struct {
	AIMessage         aiMessage `json:"aiMessage"`
	NewConversationID string    `json:"newConversationId"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewHandler(uc ChatUseCase, verifier TokenVerifier) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if verifier == nil {
		return nil, errors.New("handler: token verifier must not be nil")
	}
	return &Handler{uc: uc, verifier: verifier}, nil
}

// Handle routes an API Gateway proxy request. Every response carries the
// request's correlation id.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := headerValue(req, headerCorrelationID)
	if correlationID == "" {
		correlationID = newUUID()
	}
	method := strings.ToUpper(req.HTTPMethod)
	path := normalizePath(req.Path)

	resp := h.route(ctx, method, path, req)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[headerCorrelationID] = correlationID

	slog.InfoContext(ctx, "request handled",
		"correlation_id", correlationID,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (h *Handler) route(ctx context.Context, method, path string, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	if method == http.MethodOptions {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
	}
	if method == http.MethodGet && path == "/" {
		return jsonResponse(http.StatusOK, messageResponse{Message: "CodeMate API is running"})
	}
	if method == http.MethodGet && path == "/health" {
		return jsonResponse(http.StatusOK, map[string]string{"status": "ok"})
	}

	known := path == "/chat" || path == "/conversations" ||
		path == "/auth/resend-verification" || conversationID(path) != ""
	if !known {
		return errorJSON(http.StatusNotFound, string(usecase.ErrorNotFound), "Route not found")
	}

	identity, resp, ok := h.authenticate(ctx, req)
	if !ok {
		return resp
	}

	switch {
	case path == "/chat" && method == http.MethodPost:
		return h.chat(ctx, identity, req.Body)
	case path == "/conversations" && method == http.MethodGet:
		return h.listConversations(ctx, identity)
	case path == "/auth/resend-verification" && method == http.MethodPost:
		return h.resendVerification(ctx, identity)
	case conversationID(path) != "" && method == http.MethodGet:
		return h.getConversation(ctx, identity, conversationID(path))
	case conversationID(path) != "" && method == http.MethodDelete:
		return h.deleteConversation(ctx, identity, conversationID(path))
	default:
		return errorJSON(http.StatusMethodNotAllowed, string(usecase.ErrorInvalidInput), "Method not allowed")
	}
}

func (h *Handler) authenticate(ctx context.Context, req events.APIGatewayProxyRequest) (auth.Identity, events.APIGatewayProxyResponse, bool) {
	token, err := auth.BearerToken(headerValue(req, headerAuthorization))
	if err != nil {
		return auth.Identity{}, errorJSON(http.StatusForbidden, errorForbidden, "Unauthorized: No token provided"), false
	}
	identity, err := h.verifier.Verify(token)
	if err != nil {
		slog.WarnContext(ctx, "bearer token rejected", "error", err)
		if errors.Is(err, auth.ErrMissingToken) {
			return auth.Identity{}, errorJSON(http.StatusForbidden, errorForbidden, "Unauthorized: No token provided"), false
		}
		return auth.Identity{}, errorJSON(http.StatusForbidden, errorForbidden, "Unauthorized: Invalid token"), false
	}
	return identity, events.APIGatewayProxyResponse{}, true
}

func (h *Handler) chat(ctx context.Context, identity auth.Identity, body string) events.APIGatewayProxyResponse {
	var req chatRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "Invalid request body")
	}
	out, err := h.uc.Chat(ctx, usecase.ChatInput{
		OwnerID:        identity.UserID,
		Prompt:         req.Prompt,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		return useCaseErrorResponse(ctx, err)
	}
	return jsonResponse(http.StatusOK, chatResponse{
		AIMessage: aiMessage{
			Sender:  out.AIMessage.Sender,
			Content: out.AIMessage.Content,
		},
		NewConversationID: out.ConversationID,
	})
}

func (h *Handler) listConversations(ctx context.Context, identity auth.Identity) events.APIGatewayProxyResponse {
	out, err := h.uc.ListConversations(ctx, identity.UserID)
	if err != nil {
		return useCaseErrorResponse(ctx, err)
	}
	return jsonResponse(http.StatusOK, out)
}

func (h *Handler) getConversation(ctx context.Context, identity auth.Identity, id string) events.APIGatewayProxyResponse {
	conv, err := h.uc.GetConversation(ctx, identity.UserID, id)
	if err != nil {
		return useCaseErrorResponse(ctx, err)
	}
	return jsonResponse(http.StatusOK, conv)
}

func (h *Handler) deleteConversation(ctx context.Context, identity auth.Identity, id string) events.APIGatewayProxyResponse {
	if err := h.uc.DeleteConversation(ctx, identity.UserID, id); err != nil {
		return useCaseErrorResponse(ctx, err)
	}
	return jsonResponse(http.StatusOK, messageResponse{Message: "Conversation deleted successfully"})
}

func (h *Handler) resendVerification(ctx context.Context, identity auth.Identity) events.APIGatewayProxyResponse {
	if identity.EmailVerified {
		return jsonResponse(http.StatusOK, messageResponse{Message: "Your email address is already verified."})
	}
	slog.InfoContext(ctx, "verification email requested", "user_id", identity.UserID)
	return jsonResponse(http.StatusOK, messageResponse{Message: "A new verification email has been requested. Please check your inbox."})
}

func useCaseErrorResponse(ctx context.Context, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		slog.ErrorContext(ctx, "unexpected error", "error", err)
		return errorJSON(http.StatusInternalServerError, string(usecase.ErrorInternal), "Internal server error")
	}

	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		msg := "Invalid request"
		if ucErr.Reason == "empty_prompt" {
			msg = "Prompt is required"
		}
		return errorJSON(http.StatusBadRequest, string(ucErr.Code), msg)
	case usecase.ErrorNotFound:
		return errorJSON(http.StatusNotFound, string(ucErr.Code), "Conversation not found")
	case usecase.ErrorUpstream:
		slog.ErrorContext(ctx, "model provider failed", "reason", ucErr.Reason, "error", ucErr.Err)
		return errorJSON(http.StatusInternalServerError, string(ucErr.Code), "Failed to get a response from the AI")
	default:
		slog.ErrorContext(ctx, "request failed", "code", ucErr.Code, "reason", ucErr.Reason, "error", ucErr.Err)
		return errorJSON(http.StatusInternalServerError, string(usecase.ErrorInternal), "Internal server error")
	}
}

func jsonResponse(status int, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR","message":"Internal server error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(raw),
	}
}

func errorJSON(status int, code, message string) events.APIGatewayProxyResponse {
	return jsonResponse(status, errorResponse{Error: code, Message: message})
}

// headerValue looks a header up case-insensitively.
func headerValue(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	for k, vs := range req.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return strings.TrimSpace(vs[0])
		}
	}
	return ""
}

func normalizePath(p string) string {
	return "/" + strings.Trim(strings.TrimSpace(p), "/")
}

// conversationID returns the id segment of /conversations/{id}, or "".
func conversationID(path string) string {
	id, ok := strings.CutPrefix(path, "/conversations/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

var newUUID = func() string {
	return uuid.NewString()
}
