package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	chatHandler "github.com/ac-platform/chat-relay/internal/handler/chat"
	"github.com/ac-platform/chat-relay/internal/handler/ws"
	middlewarePkg "github.com/ac-platform/chat-relay/internal/middleware"
	chatservice "github.com/ac-platform/chat-relay/internal/service/chat"
	"github.com/ac-platform/chat-relay/pkg/utils"
)

// NewRouter wires HTTP routes to the relay core and its stores.
func NewRouter(relay ws.RelayService, gate chatservice.EscalationGate, history chatservice.HistoryCache) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	wsHandler := ws.New(relay)
	controlHandler := chatHandler.New(gate, history)

	// The socket endpoint sits outside /api; the gateway proxies it directly.
	wsHandler.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		controlHandler.RegisterRoutes(api)
	})

	return r
}
