package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agent-web/agent-web-server/internal/store"
)

var (
	// ErrProvider wraps any failure reported by the completion provider.
	ErrProvider = errors.New("completion provider failed")
	// ErrNoUsableReply means the provider answered without any content.
	ErrNoUsableReply = errors.New("provider returned no usable reply")
)

const defaultMaxTokens = 512

type ChatOptions struct {
	SystemPrompt string
	MaxTokens    int
	// HistoryLimit caps the number of transcript turns sent to the
	// provider. Zero sends the whole transcript.
	HistoryLimit int
}

// ChatService runs one exchange per ask: persist the user turn, complete
// against the provider, persist the reply.
type ChatService struct {
	transcript *store.Transcript
	provider   CompletionProvider
	opts       ChatOptions
	logger     *slog.Logger
}

func NewChatService(transcript *store.Transcript, provider CompletionProvider, opts ChatOptions, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	return &ChatService{
		transcript: transcript,
		provider:   provider,
		opts:       opts,
		logger:     logger,
	}
}

func (s *ChatService) History(ctx context.Context, subject string) []store.Turn {
	return s.transcript.Load(ctx, subject)
}

func (s *ChatService) ClearHistory(ctx context.Context, subject string) {
	s.transcript.Clear(ctx, subject)
}

// Ask runs the exchange detached from ctx cancellation: once started it
// completes even if the client goes away.
func (s *ChatService) Ask(ctx context.Context, subject, message string) error {
	ctx = context.WithoutCancel(ctx)

	userTurn := store.NewUserTurn(subject, message)
	stored := s.transcript.Append(ctx, userTurn)

	turns := s.transcript.Load(ctx, subject)
	if !endsWith(turns, userTurn) {
		// The append or the load was dropped; send the message anyway
		// without persisting it twice.
		s.logger.Debug("user turn missing from loaded transcript", "subject", subject, "stored", stored)
		turns = append(turns, userTurn)
	}

	req := s.buildRequest(turns)
	resp, err := s.provider.Complete(ctx, req)
	if err != nil {
		s.logger.Warn("completion request failed", "subject", subject, "error", err)
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}

	if len(resp.Candidates) == 0 {
		s.logger.Warn("provider returned no candidates", "subject", subject)
		return ErrNoUsableReply
	}
	reply := resp.Candidates[0]
	if reply.Content == "" {
		s.logger.Warn("provider returned an empty reply",
			"subject", subject,
			"finish_reason", reply.FinishReason,
		)
		return ErrNoUsableReply
	}

	s.transcript.Append(ctx, store.NewAssistantTurn(subject, reply.Content))
	s.logger.Info("completion finished", "subject", subject, "tokens", resp.TotalTokens)
	return nil
}

func endsWith(turns []store.Turn, turn store.Turn) bool {
	if len(turns) == 0 {
		return false
	}
	last := turns[len(turns)-1]
	return last.Role == turn.Role && last.Content == turn.Content
}

func (s *ChatService) buildRequest(turns []store.Turn) *CompletionRequest {
	if limit := s.opts.HistoryLimit; limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
		// Keep the window starting on a user turn.
		for len(turns) > 1 && turns[0].Role != store.RoleUser {
			turns = turns[1:]
		}
	}

	messages := make([]Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, Message{Role: t.Role, Content: t.Content})
	}
	return &CompletionRequest{
		System:    s.opts.SystemPrompt,
		Messages:  messages,
		MaxTokens: s.opts.MaxTokens,
	}
}
