package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-web/agent-web-server/internal/auth"
	"github.com/agent-web/agent-web-server/internal/core"
	"github.com/agent-web/agent-web-server/internal/store"
)

type stubProvider struct {
	mu    sync.Mutex
	calls int
	fn    func(req *core.CompletionRequest) (*core.CompletionResponse, error)
}

func (p *stubProvider) Complete(_ context.Context, req *core.CompletionRequest) (*core.CompletionResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.fn(req)
}

func (p *stubProvider) Close() error { return nil }

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	handler  http.Handler
	provider *stubProvider
	clock    *testClock
	chat     *core.ChatService
}

func newTestServer(t *testing.T, fn func(req *core.CompletionRequest) (*core.CompletionResponse, error)) *testServer {
	t.Helper()
	driver, err := store.Open(context.Background(), store.Options{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "store.db"),
		PoolSize: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { driver.Close() })

	clock := &testClock{now: time.Now()}
	codec := auth.NewCodecWithClock([]byte("0123456789abcdef0123456789abcdef"), time.Hour, clock.Now)
	provider := &stubProvider{fn: fn}
	chat := core.NewChatService(store.NewTranscript(driver, nil), provider, core.ChatOptions{SystemPrompt: "Be kind."}, nil)

	return &testServer{
		handler:  NewRouter(NewAPIHandler(codec, chat, nil), []string{"*"}),
		provider: provider,
		clock:    clock,
		chat:     chat,
	}
}

func echoReply(prefix string) func(req *core.CompletionRequest) (*core.CompletionResponse, error) {
	return func(req *core.CompletionRequest) (*core.CompletionResponse, error) {
		last := req.Messages[len(req.Messages)-1]
		return &core.CompletionResponse{
			Candidates:  []core.Candidate{{Content: prefix + last.Content, FinishReason: "stop"}},
			TotalTokens: 7,
		}, nil
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Err     *string         `json:"err"`
}

func (s *testServer) do(t *testing.T, path, token, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec.Code, env
}

func (s *testServer) initSession(t *testing.T) string {
	t.Helper()
	code, env := s.do(t, "/init-session", "", "null")
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)
	var token string
	require.NoError(t, json.Unmarshal(env.Data, &token))
	require.NotEmpty(t, token)
	return token
}

type historyEntry struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

func (s *testServer) history(t *testing.T, token string) []historyEntry {
	t.Helper()
	code, env := s.do(t, "/fetch-history", token, "null")
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)
	var entries []historyEntry
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	return entries
}

func TestAskAgentHelloScenario(t *testing.T) {
	srv := newTestServer(t, func(*core.CompletionRequest) (*core.CompletionResponse, error) {
		return &core.CompletionResponse{Candidates: []core.Candidate{{Content: "Hi there"}}}, nil
	})
	token := srv.initSession(t)

	assert.Empty(t, srv.history(t, token))

	code, env := srv.do(t, "/ask-agent", token, `{"message":"Hello"}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Equal(t, "null", string(env.Data))
	assert.Nil(t, env.Err)

	entries := srv.history(t, token)
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "Hello", entries[0].Content)
	assert.Equal(t, "assistant", entries[1].Role)
	assert.Equal(t, "Hi there", entries[1].Content)
	assert.False(t, entries[1].Time.Before(entries[0].Time))
}

func TestAskAgentExpiredToken(t *testing.T) {
	srv := newTestServer(t, echoReply("re: "))
	token := srv.initSession(t)

	srv.clock.Advance(time.Hour)

	code, env := srv.do(t, "/ask-agent", token, `{"message":"Hello"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Err)
	assert.Zero(t, srv.provider.callCount())

	// Nothing was persisted for the subject behind the expired token.
	srv.clock.Advance(-time.Hour)
	assert.Empty(t, srv.history(t, token))
}

func TestAskAgentProviderFailure(t *testing.T) {
	srv := newTestServer(t, func(*core.CompletionRequest) (*core.CompletionResponse, error) {
		return nil, errors.New("HTTP 500: upstream down")
	})
	token := srv.initSession(t)

	code, env := srv.do(t, "/ask-agent", token, `{"message":"Hello"}`)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Err)
	assert.NotContains(t, *env.Err, "upstream down")

	entries := srv.history(t, token)
	require.Len(t, entries, 1)
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "Hello", entries[0].Content)
}

func TestAskAgentEmptyReply(t *testing.T) {
	srv := newTestServer(t, func(*core.CompletionRequest) (*core.CompletionResponse, error) {
		return &core.CompletionResponse{}, nil
	})
	token := srv.initSession(t)

	code, _ := srv.do(t, "/ask-agent", token, `{"message":"Hello"}`)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Len(t, srv.history(t, token), 1)
}

func TestAskAgentBadBody(t *testing.T) {
	srv := newTestServer(t, echoReply("re: "))
	token := srv.initSession(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `Hello`},
		{"wrong type", `{"message": 42}`},
		{"empty message", `{"message": ""}`},
		{"blank message", `{"message": "   "}`},
		{"missing message", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := srv.do(t, "/ask-agent", token, tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.False(t, env.Success)
		})
	}
	assert.Zero(t, srv.provider.callCount())
	assert.Empty(t, srv.history(t, token))
}

func TestClearHistory(t *testing.T) {
	srv := newTestServer(t, echoReply("re: "))
	token := srv.initSession(t)

	code, _ := srv.do(t, "/ask-agent", token, `{"message":"Hello"}`)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, srv.history(t, token), 2)

	code, env := srv.do(t, "/clear-history", token, "null")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Empty(t, srv.history(t, token))
}

func TestConcurrentAsksForTwoSubjects(t *testing.T) {
	srv := newTestServer(t, echoReply("re: "))
	tokens := []string{srv.initSession(t), srv.initSession(t)}

	var wg sync.WaitGroup
	codes := make([]int, len(tokens))
	for i, token := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/ask-agent",
				strings.NewReader(fmt.Sprintf(`{"message":"from %d"}`, i)))
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			srv.handler.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}()
	}
	wg.Wait()

	for i, token := range tokens {
		assert.Equal(t, http.StatusOK, codes[i])
		entries := srv.history(t, token)
		require.Len(t, entries, 2)
		msg := fmt.Sprintf("from %d", i)
		assert.Equal(t, msg, entries[0].Content)
		assert.Equal(t, "re: "+msg, entries[1].Content)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	srv := newTestServer(t, echoReply("re: "))
	first := srv.initSession(t)
	second := srv.initSession(t)
	assert.NotEqual(t, first, second)

	code, _ := srv.do(t, "/ask-agent", first, `{"message":"mine"}`)
	require.Equal(t, http.StatusOK, code)

	assert.Len(t, srv.history(t, first), 2)
	assert.Empty(t, srv.history(t, second))
}

func TestTestAuthEchoesBody(t *testing.T) {
	srv := newTestServer(t, echoReply("re: "))
	token := srv.initSession(t)

	code, env := srv.do(t, "/test-auth", token, `{"ping":"pong","n":1}`)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"ping":"pong","n":1}`, string(env.Data))

	code, env = srv.do(t, "/test-auth", token, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "null", string(env.Data))

	code, _ = srv.do(t, "/test-auth", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, echoReply(""))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":"ok"}`, rec.Body.String())
}
