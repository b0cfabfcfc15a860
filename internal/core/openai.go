package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIProvider talks to any service implementing the OpenAI chat
// completions wire format.
type OpenAIProvider struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model     string          `json:"model"`
	Messages  []openaiMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIProvider creates a provider posting to {apiBase}/chat/completions.
// A nil httpClient selects a client without timeout; provider latency is
// bounded only by the upstream.
func NewOpenAIProvider(apiBase, apiKey, model string, httpClient *http.Client) *OpenAIProvider {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OpenAIProvider{
		httpClient: httpClient,
		endpoint:   strings.TrimRight(apiBase, "/") + "/chat/completions",
		apiKey:     apiKey,
		model:      model,
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	wireRequest := openaiRequest{
		Model:     p.model,
		MaxTokens: req.MaxTokens,
	}
	if req.System != "" {
		wireRequest.Messages = append(wireRequest.Messages, openaiMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		wireRequest.Messages = append(wireRequest.Messages, openaiMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(wireRequest)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var wireResponse openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResponse); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}

	out := &CompletionResponse{Candidates: make([]Candidate, 0, len(wireResponse.Choices))}
	for _, choice := range wireResponse.Choices {
		out.Candidates = append(out.Candidates, Candidate{
			Content:      choice.Message.Content,
			FinishReason: choice.FinishReason,
		})
	}
	if wireResponse.Usage != nil {
		out.TotalTokens = wireResponse.Usage.TotalTokens
	}
	return out, nil
}

func (p *OpenAIProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
