package chat

import "time"

// Message is a single relayed chat message. Once built it is never mutated;
// the same value is broadcast, cached and dispatched for persistence.
type Message struct {
	MessageID     string    `json:"messageId"`
	Sequence      int64     `json:"sequence"`
	Username      string    `json:"username"`
	Body          string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
	ChatID        string    `json:"chatId"`
	FromResponder bool      `json:"fromResponder,omitempty"`
}

// AIRequest is enqueued for the external responder. The history snapshot makes
// the responder stateless across calls.
type AIRequest struct {
	ChatID  string    `json:"chatId"`
	Body    string    `json:"message"`
	History []Message `json:"messageHistory"`
	AIID    string    `json:"aiId,omitempty"`
}

// AIResponse arrives on the responder-reply queue.
type AIResponse struct {
	ChatID              string `json:"chatId"`
	Body                string `json:"response"`
	Username            string `json:"username,omitempty"`
	EscalationRequested bool   `json:"escalationRequested,omitempty"`
}

// JoinInfo acknowledges a successful room join.
type JoinInfo struct {
	ChatID       string `json:"chatId"`
	Username     string `json:"username"`
	HistoryCount int    `json:"historyCount"`
}
