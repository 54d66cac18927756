package api

import (
	"net/http"

	"github.com/ibimina/kbengine/internal/agent"
	"github.com/ibimina/kbengine/internal/log"
)

// MaxChatMessages bounds conversation length per request.
const MaxChatMessages = 200

// ChatHandler handles the conversational retrieval endpoint.
type ChatHandler struct {
	facade *agent.Facade
	logger log.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(facade *agent.Facade, logger log.Logger) *ChatHandler {
	return &ChatHandler{facade: facade, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.chat)
}

// chat grounds the latest user message against the knowledge base and
// returns the formatted summary alongside the raw matches.
func (h *ChatHandler) chat(w http.ResponseWriter, r *http.Request) {
	var req agent.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if len(req.Messages) > MaxChatMessages {
		writeError(w, http.StatusBadRequest, "invalid_request", "too many messages")
		return
	}

	resp, err := h.facade.Chat(r.Context(), req)
	if err != nil {
		h.logger.Error("chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "chat_failed", "failed to answer")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
