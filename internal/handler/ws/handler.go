package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ac-platform/chat-relay/internal/model/chat"
	chatservice "github.com/ac-platform/chat-relay/internal/service/chat"
)

// Trust signals set by the upstream gateway after it validates the bearer
// token. Connections without a positive auth status are rejected at
// handshake time, before the upgrade.
const (
	authStatusHeader   = "X-Auth-Status"
	authUsernameHeader = "X-Auth-Username"
	authStatusOK       = "ok"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// RelayService is the slice of the relay core the transport needs.
type RelayService interface {
	Connect(sender chatservice.Sender) string
	Join(ctx context.Context, connID, chatID, username string) (chat.JoinInfo, []chat.Message, error)
	UserMessage(ctx context.Context, connID, body, aiID string) error
	Disconnect(connID string)
}

// Handler upgrades client connections and speaks the join/message protocol.
type Handler struct {
	relay    RelayService
	upgrader websocket.Upgrader
}

// New creates the WebSocket handler.
func New(relay RelayService) *Handler {
	return &Handler{
		relay: relay,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outboundEvent struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// JoinPayload is the inbound join event body.
type JoinPayload struct {
	ChatID   string `json:"chatId"`
	Username string `json:"username"`
}

// MessagePayload is the inbound message event body.
type MessagePayload struct {
	Message string `json:"message"`
	AIID    string `json:"aiId"`
}

// client wraps a connection with a write lock: the read loop, relay
// broadcasts and the ping loop all write concurrently.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(event outboundEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(event)
}

// SendMessage implements chatservice.Sender for relay broadcasts.
func (c *client) SendMessage(msg chat.Message) error {
	return c.send(outboundEvent{Type: "message", Data: msg, Timestamp: time.Now().Unix()})
}

func (c *client) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(authStatusHeader) != authStatusOK {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	gatewayUsername := r.Header.Get(authUsernameHeader)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	cl := &client{conn: conn}
	connID := h.relay.Connect(cl)
	defer h.relay.Disconnect(connID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, cl)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var event inboundEvent
			if err := conn.ReadJSON(&event); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[websocket] read error on %s: %v", connID, err)
				}
				return
			}

			conn.SetReadDeadline(time.Now().Add(readTimeout))
			h.handleEvent(ctx, cl, connID, gatewayUsername, &event)
		}
	}
}

func (h *Handler) handleEvent(ctx context.Context, cl *client, connID, gatewayUsername string, event *inboundEvent) {
	switch event.Type {
	case "join":
		h.handleJoin(ctx, cl, connID, gatewayUsername, event.Data)
	case "message":
		h.handleMessage(ctx, cl, connID, event.Data)
	default:
		h.sendError(cl, "unsupported event type: "+event.Type)
	}
}

func (h *Handler) handleJoin(ctx context.Context, cl *client, connID, gatewayUsername string, raw json.RawMessage) {
	var payload JoinPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			h.sendError(cl, "invalid join payload")
			return
		}
	}

	// The gateway-resolved identity wins over whatever the client claims.
	username := payload.Username
	if gatewayUsername != "" {
		username = gatewayUsername
	}

	info, history, err := h.relay.Join(ctx, connID, payload.ChatID, username)
	if err != nil {
		h.sendError(cl, err.Error())
		return
	}

	if len(history) > 0 {
		if err := cl.send(outboundEvent{Type: "history", Data: history, Timestamp: time.Now().Unix()}); err != nil {
			log.Printf("[websocket] history push to %s failed: %v", connID, err)
		}
	}

	h.sendAck(cl, map[string]any{
		"status":       "ok",
		"chatId":       info.ChatID,
		"username":     info.Username,
		"historyCount": info.HistoryCount,
	})
}

func (h *Handler) handleMessage(ctx context.Context, cl *client, connID string, raw json.RawMessage) {
	var payload MessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendError(cl, "invalid message payload")
		return
	}
	if payload.Message == "" {
		h.sendError(cl, "message body is required")
		return
	}

	if err := h.relay.UserMessage(ctx, connID, payload.Message, payload.AIID); err != nil {
		if errors.Is(err, chatservice.ErrNotJoined) {
			h.sendError(cl, "join a chat before sending messages")
			return
		}
		h.sendError(cl, err.Error())
		return
	}

	h.sendAck(cl, map[string]any{"status": "ok"})
}

func (h *Handler) sendAck(cl *client, data map[string]any) {
	if err := cl.send(outboundEvent{Type: "ack", Data: data, Timestamp: time.Now().Unix()}); err != nil {
		log.Printf("[websocket] write ack failed: %v", err)
	}
}

func (h *Handler) sendError(cl *client, message string) {
	event := outboundEvent{
		Type:      "error",
		Data:      map[string]string{"status": "error", "message": message},
		Timestamp: time.Now().Unix(),
	}
	if err := cl.send(event); err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

func (h *Handler) pingLoop(ctx context.Context, cl *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cl.ping(); err != nil {
				return
			}
		}
	}
}
