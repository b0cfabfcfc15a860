package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/agent-web/agent-web-server/internal/store"
)

type GeminiProvider struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

func NewGeminiProvider(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GeminiProvider, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiProvider{client: client, model: model, logger: logger}, nil
}

func (p *GeminiProvider) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close GenAI client: %w", err)
	}
	p.logger.Info("GenAI client closed")
	return nil
}

// Complete replays all but the last message as chat history and sends the
// last one, which must come from the user.
func (p *GeminiProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	history, last, err := toGeminiContents(req.Messages)
	if err != nil {
		return nil, err
	}

	model := p.client.GenerativeModel(p.model)
	model.SystemInstruction = systemInstruction(req.System)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	session := model.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	return fromGeminiResponse(resp), nil
}

// systemInstruction carries no role, the way the API expects it.
func systemInstruction(system string) *genai.Content {
	if system == "" {
		return nil
	}
	return &genai.Content{
		Parts: []genai.Part{genai.Text(system)},
	}
}

func geminiRole(role store.Role) string {
	if role == store.RoleAssistant {
		return "model"
	}
	return "user"
}

func toGeminiContents(messages []Message) ([]*genai.Content, *genai.Content, error) {
	if len(messages) == 0 {
		return nil, nil, fmt.Errorf("gemini: prompt history is empty")
	}
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		contents = append(contents, &genai.Content{
			Role:  geminiRole(m.Role),
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	last := contents[len(contents)-1]
	if last.Role != "user" {
		return nil, nil, fmt.Errorf("gemini: last message is not from the user")
	}
	return contents[:len(contents)-1], last, nil
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) *CompletionResponse {
	out := &CompletionResponse{}
	if resp == nil {
		return out
	}
	for _, c := range resp.Candidates {
		var text strings.Builder
		if c.Content != nil {
			for _, part := range c.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
		out.Candidates = append(out.Candidates, Candidate{
			Content:      text.String(),
			FinishReason: c.FinishReason.String(),
		})
	}
	if resp.UsageMetadata != nil {
		out.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out
}
