package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ac-platform/chat-relay/internal/config"
	"github.com/ac-platform/chat-relay/internal/model/chat"
)

const (
	historyTTL    = 24 * time.Hour
	escalationTTL = 24 * time.Hour
	// A conversation's counter must survive idle periods; it is renewed on
	// every increment so it only expires once the chat has gone quiet.
	sequenceTTL = 7 * 24 * time.Hour
)

// Store implements the per-conversation sequencer, bounded history cache and
// escalation gate on top of Redis. Runtime store failures degrade the single
// conversation's guarantees instead of failing the caller.
type Store struct {
	client      *redis.Client
	maxMessages int
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithClient(client, cfg.MaxMessages), nil
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(client *redis.Client, maxMessages int) *Store {
	if maxMessages <= 0 {
		maxMessages = 50
	}
	return &Store{client: client, maxMessages: maxMessages}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func sequenceKey(chatID string) string {
	return fmt.Sprintf("chat:%s:sequence", chatID)
}

func messagesKey(chatID string) string {
	return fmt.Sprintf("chat:%s:messages", chatID)
}

func escalationKey(chatID string) string {
	return fmt.Sprintf("chat:%s:manager_required", chatID)
}

// Next atomically increments the conversation's counter, renewing its TTL.
// Degraded-ordering mode: if Redis is unreachable the caller still gets a
// usable number — a millisecond clock reading that sorts after live counter
// values in the common case but carries no strict-ordering guarantee.
func (s *Store) Next(ctx context.Context, chatID string) int64 {
	key := sequenceKey(chatID)

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, sequenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[store] sequence increment failed for chat %s, falling back to clock: %v", chatID, err)
		return time.Now().UnixMilli()
	}

	return incr.Val()
}

// Append caches a message at the tail of the conversation's bounded list,
// trimming to the configured maximum and renewing the list's TTL. History is
// best-effort, not the durability path, so failures are logged and swallowed.
func (s *Store) Append(ctx context.Context, chatID string, msg chat.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[store] marshal message for chat %s failed: %v", chatID, err)
		return
	}

	key := messagesKey(chatID)

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.maxMessages), -1)
	pipe.Expire(ctx, key, historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[store] cache append failed for chat %s: %v", chatID, err)
	}
}

// Recent returns up to limit cached messages, oldest first. A non-positive or
// oversized limit means the configured maximum. On store failure it returns
// an empty slice rather than failing the caller.
func (s *Store) Recent(ctx context.Context, chatID string, limit int) []chat.Message {
	if limit <= 0 || limit > s.maxMessages {
		limit = s.maxMessages
	}

	entries, err := s.client.LRange(ctx, messagesKey(chatID), int64(-limit), -1).Result()
	if err != nil {
		log.Printf("[store] history read failed for chat %s: %v", chatID, err)
		return nil
	}

	messages := make([]chat.Message, 0, len(entries))
	for _, entry := range entries {
		var msg chat.Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			log.Printf("[store] skipping unreadable cache entry for chat %s: %v", chatID, err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

// SetRequired stores the manager-required flag with a bounded lifetime, or
// deletes it immediately when cleared.
func (s *Store) SetRequired(ctx context.Context, chatID string, required bool) {
	key := escalationKey(chatID)

	if required {
		if err := s.client.Set(ctx, key, "1", escalationTTL).Err(); err != nil {
			log.Printf("[store] set manager_required failed for chat %s: %v", chatID, err)
		}
		return
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		log.Printf("[store] clear manager_required failed for chat %s: %v", chatID, err)
	}
}

// IsRequired reports the manager-required flag, defaulting to false on
// absence or store failure. Fail-open keeps AI auto-response available.
func (s *Store) IsRequired(ctx context.Context, chatID string) bool {
	val, err := s.client.Get(ctx, escalationKey(chatID)).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		log.Printf("[store] manager_required read failed for chat %s: %v", chatID, err)
		return false
	}
	return val == "1"
}
