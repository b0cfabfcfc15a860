package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agent-web/agent-web-server/internal/config"
	"github.com/agent-web/agent-web-server/internal/store"
)

// Message is one role-tagged entry of a completion request.
type Message struct {
	Role    store.Role
	Content string
}

type CompletionRequest struct {
	System    string
	Messages  []Message
	MaxTokens int
}

type Candidate struct {
	Content      string
	FinishReason string
}

type CompletionResponse struct {
	Candidates  []Candidate
	TotalTokens int
}

// CompletionProvider is the outbound contract to a language model service.
// Implementations must be safe for concurrent use.
type CompletionProvider interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Close() error
}

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (CompletionProvider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg.APIBase, cfg.APIKey, cfg.Model, nil), nil
	case "gemini":
		return NewGeminiProvider(ctx, cfg.APIKey, cfg.Model, logger)
	case "ark":
		return NewArkProvider(ctx, cfg.APIBase, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
}
