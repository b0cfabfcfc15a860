package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/agent-web/agent-web-server/internal/auth"
	"github.com/agent-web/agent-web-server/internal/core"
)

const maxBodyBytes = 1 << 20

type APIHandler struct {
	codec       *auth.Codec
	chatService *core.ChatService
	logger      *slog.Logger
}

func NewAPIHandler(codec *auth.Codec, cs *core.ChatService, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &APIHandler{codec: codec, chatService: cs, logger: logger}
}

// InitSessionHandler mints a credential for a fresh random subject.
func (h *APIHandler) InitSessionHandler(w http.ResponseWriter, r *http.Request) {
	subject := uuid.NewString()
	token, err := h.codec.Issue(subject)
	if err != nil {
		h.logger.Error("failed to issue credential", "error", err)
		respondError(w, http.StatusInternalServerError, "server exception")
		return
	}
	h.logger.Debug("session initialized", "subject", subject, "remote_addr", r.RemoteAddr)
	respondOK(w, token)
}

func (h *APIHandler) FetchHistoryHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondOK(w, h.chatService.History(r.Context(), session.Subject))
}

func (h *APIHandler) ClearHistoryHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.chatService.ClearHistory(r.Context(), session.Subject)
	respondOK(w, nil)
}

type AskRequest struct {
	Message string `json:"message"`
}

func (h *APIHandler) AskAgentHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req AskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message cannot be empty")
		return
	}

	h.logger.Debug("ask agent",
		"remote_addr", session.RemoteAddr,
		"subject", session.Subject,
		"message", req.Message,
	)

	if err := h.chatService.Ask(r.Context(), session.Subject, req.Message); err != nil {
		switch {
		case errors.Is(err, core.ErrProvider), errors.Is(err, core.ErrNoUsableReply):
			respondError(w, http.StatusBadGateway, "agent failed to respond")
		default:
			h.logger.Error("ask agent failed", "subject", session.Subject, "error", err)
			respondError(w, http.StatusInternalServerError, "server exception")
		}
		return
	}
	respondOK(w, nil)
}

// TestAuthHandler echoes the JSON body back to an authorized caller.
func (h *APIHandler) TestAuthHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := sessionFrom(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "bad request body: "+err.Error())
		return
	}
	respondOK(w, body)
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondOK(w, "ok")
}
