package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ac-platform/chat-relay/internal/handler/ws"
	"github.com/ac-platform/chat-relay/internal/model/chat"
	chatservice "github.com/ac-platform/chat-relay/internal/service/chat"
)

type fakeRelay struct {
	mu           sync.Mutex
	sender       chatservice.Sender
	joinedChat   string
	joinedUser   string
	bodies       []string
	aiIDs        []string
	history      []chat.Message
	messageErr   error
	disconnected bool
}

func (f *fakeRelay) Connect(sender chatservice.Sender) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sender = sender
	return "conn-test"
}

func (f *fakeRelay) Join(_ context.Context, _, chatID, username string) (chat.JoinInfo, []chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if chatID == "" {
		chatID = "default"
	}
	f.joinedChat = chatID
	f.joinedUser = username
	return chat.JoinInfo{ChatID: chatID, Username: username, HistoryCount: len(f.history)}, f.history, nil
}

func (f *fakeRelay) UserMessage(_ context.Context, _, body, aiID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messageErr != nil {
		return f.messageErr
	}
	f.bodies = append(f.bodies, body)
	f.aiIDs = append(f.aiIDs, aiID)
	return nil
}

func (f *fakeRelay) Disconnect(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

type event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func newTestServer(t *testing.T, relay *fakeRelay) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	ws.New(relay).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func authHeader(username string) http.Header {
	header := http.Header{}
	header.Set("X-Auth-Status", "ok")
	if username != "" {
		header.Set("X-Auth-Username", username)
	}
	return header
}

func readEvent(t *testing.T, conn *websocket.Conn) event {
	t.Helper()
	var ev event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event err: %v", err)
	}
	return ev
}

func TestHandshakeRejectedWithoutAuthSignal(t *testing.T) {
	srv := newTestServer(t, &fakeRelay{})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("handshake succeeded without auth signal")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 rejection, got %+v", resp)
	}
}

func TestJoinDeliversHistoryThenAck(t *testing.T) {
	relay := &fakeRelay{history: []chat.Message{
		{Sequence: 1, Username: "A", Body: "hello", ChatID: "c1"},
		{Sequence: 2, Username: "Bot", Body: "hi", ChatID: "c1"},
	}}
	srv := newTestServer(t, relay)
	conn := dial(t, srv, authHeader("Alice"))

	join := map[string]any{"type": "join", "data": map[string]string{"chatId": "c1", "username": "Spoof"}}
	if err := conn.WriteJSON(join); err != nil {
		t.Fatalf("write join err: %v", err)
	}

	first := readEvent(t, conn)
	if first.Type != "history" {
		t.Fatalf("first event type = %q, want history", first.Type)
	}
	var history []chat.Message
	if err := json.Unmarshal(first.Data, &history); err != nil {
		t.Fatalf("decode history err: %v", err)
	}
	if len(history) != 2 || history[0].Sequence != 1 || history[1].Sequence != 2 {
		t.Fatalf("unexpected history: %+v", history)
	}

	ack := readEvent(t, conn)
	if ack.Type != "ack" {
		t.Fatalf("second event type = %q, want ack", ack.Type)
	}
	var ackData struct {
		Status       string `json:"status"`
		ChatID       string `json:"chatId"`
		Username     string `json:"username"`
		HistoryCount int    `json:"historyCount"`
	}
	if err := json.Unmarshal(ack.Data, &ackData); err != nil {
		t.Fatalf("decode ack err: %v", err)
	}
	if ackData.Status != "ok" || ackData.ChatID != "c1" || ackData.HistoryCount != 2 {
		t.Fatalf("unexpected ack: %+v", ackData)
	}

	// The gateway-resolved identity wins over the client-supplied name.
	relay.mu.Lock()
	joinedUser := relay.joinedUser
	relay.mu.Unlock()
	if joinedUser != "Alice" {
		t.Fatalf("joined username = %q, want gateway-resolved Alice", joinedUser)
	}
}

func TestJoinWithEmptyHistorySkipsHistoryEvent(t *testing.T) {
	srv := newTestServer(t, &fakeRelay{})
	conn := dial(t, srv, authHeader(""))

	if err := conn.WriteJSON(map[string]any{"type": "join"}); err != nil {
		t.Fatalf("write join err: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Type != "ack" {
		t.Fatalf("expected immediate ack when history is empty, got %q", ev.Type)
	}
}

func TestMessageAcknowledged(t *testing.T) {
	relay := &fakeRelay{}
	srv := newTestServer(t, relay)
	conn := dial(t, srv, authHeader("Alice"))

	if err := conn.WriteJSON(map[string]any{"type": "join", "data": map[string]string{"chatId": "c1"}}); err != nil {
		t.Fatalf("write join err: %v", err)
	}
	readEvent(t, conn) // join ack

	msg := map[string]any{"type": "message", "data": map[string]string{"message": "hello", "aiId": "gpt-mini"}}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write message err: %v", err)
	}

	ack := readEvent(t, conn)
	if ack.Type != "ack" {
		t.Fatalf("event type = %q, want ack", ack.Type)
	}

	relay.mu.Lock()
	defer relay.mu.Unlock()
	if len(relay.bodies) != 1 || relay.bodies[0] != "hello" || relay.aiIDs[0] != "gpt-mini" {
		t.Fatalf("relay saw bodies=%v aiIDs=%v", relay.bodies, relay.aiIDs)
	}
}

func TestMessageBeforeJoinReturnsError(t *testing.T) {
	relay := &fakeRelay{messageErr: chatservice.ErrNotJoined}
	srv := newTestServer(t, relay)
	conn := dial(t, srv, authHeader(""))

	msg := map[string]any{"type": "message", "data": map[string]string{"message": "hello"}}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write message err: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Type != "error" {
		t.Fatalf("event type = %q, want error", ev.Type)
	}
}

func TestBroadcastPushedToClient(t *testing.T) {
	relay := &fakeRelay{}
	srv := newTestServer(t, relay)
	conn := dial(t, srv, authHeader(""))

	if err := conn.WriteJSON(map[string]any{"type": "join"}); err != nil {
		t.Fatalf("write join err: %v", err)
	}
	readEvent(t, conn) // join ack

	relay.mu.Lock()
	sender := relay.sender
	relay.mu.Unlock()
	if sender == nil {
		t.Fatal("relay never received a sender")
	}

	pushed := chat.Message{MessageID: "m1", Sequence: 7, Username: "Bot", Body: "hi", ChatID: "default"}
	if err := sender.SendMessage(pushed); err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Type != "message" {
		t.Fatalf("event type = %q, want message", ev.Type)
	}
	var got chat.Message
	if err := json.Unmarshal(ev.Data, &got); err != nil {
		t.Fatalf("decode message err: %v", err)
	}
	if got.Sequence != 7 || got.Username != "Bot" || got.Body != "hi" {
		t.Fatalf("unexpected pushed message: %+v", got)
	}
}

func TestUnsupportedEventType(t *testing.T) {
	srv := newTestServer(t, &fakeRelay{})
	conn := dial(t, srv, authHeader(""))

	if err := conn.WriteJSON(map[string]any{"type": "subscribe"}); err != nil {
		t.Fatalf("write err: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Type != "error" {
		t.Fatalf("event type = %q, want error", ev.Type)
	}
}
