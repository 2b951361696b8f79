package chat

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ac-platform/chat-relay/internal/model/chat"
)

var (
	// ErrUnknownConnection is returned for operations on a connection id that
	// was never registered (or already disconnected).
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrNotJoined is returned when a message arrives from a connection that
	// has not joined a conversation.
	ErrNotJoined = errors.New("connection has not joined a chat")
)

const (
	defaultChatID        = "default"
	defaultUsername      = "Guest"
	defaultResponderName = "AI Assistant"
)

// Sender pushes a message to one live connection. Implementations must be
// safe for concurrent use; a failed send affects only that connection.
type Sender interface {
	SendMessage(msg chat.Message) error
}

// Sequencer issues strictly increasing integers per conversation. On store
// failure it returns a coarse monotonic surrogate rather than an error.
type Sequencer interface {
	Next(ctx context.Context, chatID string) int64
}

// HistoryCache is the bounded recent-message log per conversation. Both
// operations are best-effort: Append degrades silently and Recent returns an
// empty slice on store failure.
type HistoryCache interface {
	Append(ctx context.Context, chatID string, msg chat.Message)
	Recent(ctx context.Context, chatID string, limit int) []chat.Message
}

// EscalationGate is the per-conversation "manager required" flag. IsRequired
// is false on absence and on store failure (fail-open toward auto-response).
type EscalationGate interface {
	SetRequired(ctx context.Context, chatID string, required bool)
	IsRequired(ctx context.Context, chatID string) bool
}

// Bridge dispatches messages to the persistence queue and requests to the
// responder queue. Failures are reported but never roll back relay progress.
type Bridge interface {
	PublishMessage(ctx context.Context, msg chat.Message) error
	RequestReply(ctx context.Context, req chat.AIRequest) error
}

// Service is the relay core: it owns session and room state and serializes
// message processing per conversation so a live user connection and an async
// responder reply can never interleave within one chat.
type Service struct {
	sessions *SessionRegistry
	rooms    *RoomIndex

	seq     Sequencer
	history HistoryCache
	gate    EscalationGate
	bridge  Bridge

	chatLocks sync.Map // chatID -> *sync.Mutex
}

// NewService wires the relay core to its stores and queue bridge.
func NewService(seq Sequencer, history HistoryCache, gate EscalationGate, bridge Bridge) *Service {
	return &Service{
		sessions: NewSessionRegistry(),
		rooms:    NewRoomIndex(),
		seq:      seq,
		history:  history,
		gate:     gate,
		bridge:   bridge,
	}
}

// Connect registers a live transport connection and returns its id.
func (s *Service) Connect(sender Sender) string {
	connID := uuid.NewString()
	s.sessions.Add(connID, sender)
	log.Printf("[relay] connection established: %s", connID)
	return connID
}

// Join subscribes a connection to a conversation and returns the one-time
// history snapshot for that connection only. An empty chat id falls back to
// the shared default room; an empty username becomes an anonymous guest.
func (s *Service) Join(ctx context.Context, connID, chatID, username string) (chat.JoinInfo, []chat.Message, error) {
	if chatID == "" {
		chatID = defaultChatID
	}
	if username == "" {
		username = defaultUsername
	}

	prev, ok := s.sessions.Lookup(connID)
	if !ok {
		return chat.JoinInfo{}, nil, ErrUnknownConnection
	}
	if prev.ChatID != "" && prev.ChatID != chatID {
		s.rooms.Remove(prev.ChatID, connID)
	}

	if _, ok := s.sessions.Bind(connID, chatID, username); !ok {
		return chat.JoinInfo{}, nil, ErrUnknownConnection
	}
	s.rooms.Add(chatID, connID)

	history := s.history.Recent(ctx, chatID, 0)
	log.Printf("[relay] %s joined chat %s (%s), history=%d", username, chatID, connID, len(history))

	return chat.JoinInfo{ChatID: chatID, Username: username, HistoryCount: len(history)}, history, nil
}

// Disconnect drops a connection from both indices. An in-flight pipeline run
// for its conversation is unaffected; other members still need its effects.
func (s *Service) Disconnect(connID string) {
	info, ok := s.sessions.Remove(connID)
	if !ok {
		return
	}
	if info.ChatID != "" {
		s.rooms.Remove(info.ChatID, connID)
	}
	log.Printf("[relay] connection closed: %s (%s)", connID, info.Username)
}

// UserMessage runs the relay pipeline for an inbound user message and, when
// the conversation is not escalated, dispatches a responder request carrying
// a fresh history snapshot.
func (s *Service) UserMessage(ctx context.Context, connID, body, aiID string) error {
	info, ok := s.sessions.Lookup(connID)
	if !ok || info.ChatID == "" {
		return ErrNotJoined
	}
	chatID := info.ChatID

	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	msg := s.relay(ctx, chatID, info.Username, body, false)

	if s.gate.IsRequired(ctx, chatID) {
		log.Printf("[relay] chat %s escalated to a manager, responder dispatch suppressed", chatID)
		return nil
	}

	snapshot := s.history.Recent(ctx, chatID, 0)
	req := chat.AIRequest{ChatID: chatID, Body: msg.Body, History: snapshot, AIID: aiID}
	if err := s.bridge.RequestReply(ctx, req); err != nil {
		log.Printf("[relay] responder dispatch failed for chat %s: %v", chatID, err)
	}
	return nil
}

// HandleResponderReply runs the relay pipeline for an asynchronous responder
// reply. It is registered as the reply-queue handler; returning nil lets the
// bridge acknowledge the queue message.
func (s *Service) HandleResponderReply(ctx context.Context, reply chat.AIResponse) error {
	if reply.ChatID == "" {
		log.Printf("[relay] dropping responder reply without chat id")
		return nil
	}

	username := reply.Username
	if username == "" {
		username = defaultResponderName
	}

	lock := s.chatLock(reply.ChatID)
	lock.Lock()
	defer lock.Unlock()

	s.relay(ctx, reply.ChatID, username, reply.Body, true)

	if reply.EscalationRequested {
		s.gate.SetRequired(ctx, reply.ChatID, true)
		log.Printf("[relay] responder requested escalation for chat %s", reply.ChatID)
	}
	return nil
}

// relay executes steps 2-6 of the per-conversation pipeline: sequence, build,
// broadcast, cache, persist. The caller holds the conversation lock.
func (s *Service) relay(ctx context.Context, chatID, username, body string, fromResponder bool) chat.Message {
	msg := chat.Message{
		MessageID:     uuid.NewString(),
		Sequence:      s.seq.Next(ctx, chatID),
		Username:      username,
		Body:          body,
		Timestamp:     time.Now().UTC(),
		ChatID:        chatID,
		FromResponder: fromResponder,
	}

	log.Printf("[relay] #%d %s in chat %s: %q", msg.Sequence, username, chatID, body)

	s.broadcast(chatID, msg)
	s.history.Append(ctx, chatID, msg)

	if err := s.bridge.PublishMessage(ctx, msg); err != nil {
		log.Printf("[relay] persistence dispatch failed for chat %s seq %d: %v", chatID, msg.Sequence, err)
	}

	return msg
}

// broadcast emits a message to every connection in the room. A failed emit to
// one socket never blocks delivery to the others.
func (s *Service) broadcast(chatID string, msg chat.Message) {
	for _, connID := range s.rooms.Members(chatID) {
		info, ok := s.sessions.Lookup(connID)
		if !ok || info.sender == nil {
			continue
		}
		if err := info.sender.SendMessage(msg); err != nil {
			log.Printf("[relay] emit to %s failed: %v", connID, err)
		}
	}
}

func (s *Service) chatLock(chatID string) *sync.Mutex {
	lock, _ := s.chatLocks.LoadOrStore(chatID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
