package chat

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	chatservice "github.com/ac-platform/chat-relay/internal/service/chat"
	"github.com/ac-platform/chat-relay/pkg/utils"
)

// Handler exposes the operator-facing control surface: toggling the
// manager-required flag and inspecting a conversation's cached history.
type Handler struct {
	gate    chatservice.EscalationGate
	history chatservice.HistoryCache
}

// New creates the chat control handler.
func New(gate chatservice.EscalationGate, history chatservice.HistoryCache) *Handler {
	return &Handler{gate: gate, history: history}
}

// RegisterRoutes registers the chat control routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Put("/chats/{chatID}/escalation", h.handleSetEscalation)
	r.Get("/chats/{chatID}/escalation", h.handleGetEscalation)
	r.Get("/chats/{chatID}/history", h.handleGetHistory)
}

func (h *Handler) handleSetEscalation(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if chatID == "" {
		utils.RespondError(w, http.StatusBadRequest, "chatID is required")
		return
	}

	var payload struct {
		Required bool `json:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.gate.SetRequired(r.Context(), chatID, payload.Required)

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"chatId":   chatID,
		"required": payload.Required,
	})
}

func (h *Handler) handleGetEscalation(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if chatID == "" {
		utils.RespondError(w, http.StatusBadRequest, "chatID is required")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"chatId":   chatID,
		"required": h.gate.IsRequired(r.Context(), chatID),
	})
}

func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if chatID == "" {
		utils.RespondError(w, http.StatusBadRequest, "chatID is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	messages := h.history.Recent(r.Context(), chatID, limit)

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"chatId":   chatID,
		"count":    len(messages),
		"messages": messages,
	})
}
