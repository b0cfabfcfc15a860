package core

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/agent-web/agent-web-server/internal/store"
)

// ArkProvider drives a Volcengine Ark model through eino.
type ArkProvider struct {
	chatModel model.BaseChatModel
}

func NewArkProvider(ctx context.Context, baseURL, apiKey, modelName string) (*ArkProvider, error) {
	cfg := &ark.ChatModelConfig{
		APIKey: apiKey,
		Model:  modelName,
	}
	// The openai default base does not apply to Ark.
	if baseURL != "" && baseURL != "https://api.openai.com/v1" {
		cfg.BaseURL = baseURL
	}
	chatModel, err := ark.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return newArkProvider(chatModel), nil
}

func newArkProvider(chatModel model.BaseChatModel) *ArkProvider {
	return &ArkProvider{chatModel: chatModel}
}

func (p *ArkProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	input := make([]*schema.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		input = append(input, schema.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Role == store.RoleAssistant {
			input = append(input, schema.AssistantMessage(m.Content, nil))
		} else {
			input = append(input, schema.UserMessage(m.Content))
		}
	}

	var opts []model.Option
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	msg, err := p.chatModel.Generate(ctx, input, opts...)
	if err != nil {
		return nil, fmt.Errorf("ark generate failed: %w", err)
	}

	out := &CompletionResponse{}
	if msg == nil {
		return out, nil
	}
	candidate := Candidate{Content: msg.Content}
	if msg.ResponseMeta != nil {
		candidate.FinishReason = msg.ResponseMeta.FinishReason
		if msg.ResponseMeta.Usage != nil {
			out.TotalTokens = msg.ResponseMeta.Usage.TotalTokens
		}
	}
	out.Candidates = append(out.Candidates, candidate)
	return out, nil
}

func (p *ArkProvider) Close() error {
	return nil
}
