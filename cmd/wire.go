package main

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"codemate-api/handler"
	"codemate-api/internal/auth"
	"codemate-api/internal/config"
	"codemate-api/internal/gateway"
	"codemate-api/internal/integrations/anthropic"
	"codemate-api/internal/integrations/gemini"
	"codemate-api/internal/integrations/openai"
	"codemate-api/internal/integrations/paramstore"
	"codemate-api/internal/repository"
	"codemate-api/internal/shortcut"
	"codemate-api/internal/usecase"
)

// buildHandler creates every process-wide client once and injects them.
func buildHandler(ctx context.Context, cfg *config.Config) (*handler.Handler, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, wrap("load AWS config", err)
	}

	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, wrap("create SSM client", err)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		return nil, wrap("create conversation store", err)
	}

	secrets, err := params.GetParameters(ctx, cfg.ProviderTokenParam(), cfg.SigningKeyParam())
	if err != nil {
		return nil, wrap("load secrets", err)
	}
	token, err := paramstore.ParseToken(secrets[cfg.ProviderTokenParam()])
	if err != nil {
		return nil, wrap("load provider token", err)
	}
	provider, err := newProvider(ctx, cfg, token)
	if err != nil {
		return nil, wrap("create provider", err)
	}
	gw, err := gateway.New(cfg.Provider, provider)
	if err != nil {
		return nil, wrap("create model gateway", err)
	}

	router, err := shortcut.New()
	if err != nil {
		return nil, wrap("create shortcut router", err)
	}

	svc, err := usecase.NewChatService(store, gw, router,
		usecase.WithReasoning(cfg.ReasoningMode),
		usecase.WithMaxContextMessages(cfg.MaxContextMessages),
	)
	if err != nil {
		return nil, wrap("create chat service", err)
	}

	verifier, err := auth.NewVerifier(secrets[cfg.SigningKeyParam()],
		auth.WithIssuer(cfg.AuthIssuer),
		auth.WithAudience(cfg.AuthAudience),
	)
	if err != nil {
		return nil, wrap("create token verifier", err)
	}

	slog.Info("codemate-api configured",
		"provider", cfg.Provider,
		"model", cfg.Model,
		"reasoning_mode", cfg.ReasoningMode,
		"max_context_messages", cfg.MaxContextMessages,
	)
	return handler.NewHandler(svc, verifier)
}

// newProvider selects the single backend named by configuration.
func newProvider(ctx context.Context, cfg *config.Config, token string) (gateway.Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.NewClient(token, cfg.Model,
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithGeneration(cfg.MaxOutputTokens, cfg.Temperature),
		)
	case config.ProviderAnthropic:
		return anthropic.NewClient(token, cfg.Model,
			anthropic.WithGeneration(cfg.MaxOutputTokens, cfg.Temperature),
		)
	default:
		return gemini.NewClient(ctx, token, cfg.Model,
			gemini.WithGeneration(cfg.MaxOutputTokens, cfg.Temperature),
		)
	}
}

func wrap(step string, err error) error {
	return fmt.Errorf("%s: %w", step, err)
}
