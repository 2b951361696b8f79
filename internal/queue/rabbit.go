package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ac-platform/chat-relay/internal/config"
	"github.com/ac-platform/chat-relay/internal/model/chat"
)

// Bridge connects the relay to the persistence queue and the responder
// request/reply queues. Publishing and consuming run on separate channels.
type Bridge struct {
	conn  *amqp.Connection
	pubCh *amqp.Channel
	subCh *amqp.Channel
	cfg   config.QueueConfig
}

// Dial connects to the broker and declares the three durable queues.
func Dial(cfg config.QueueConfig) (*Bridge, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}

	subCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open consume channel: %w", err)
	}

	for _, queue := range []string{cfg.PersistQueue, cfg.RequestQueue, cfg.ResponseQueue} {
		if _, err := pubCh.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", queue, err)
		}
	}

	log.Printf("[queue] connected to rabbitmq, queues ready: %s, %s, %s",
		cfg.PersistQueue, cfg.RequestQueue, cfg.ResponseQueue)

	return &Bridge{conn: conn, pubCh: pubCh, subCh: subCh, cfg: cfg}, nil
}

// Close shuts down channels and the connection.
func (b *Bridge) Close() error {
	if b.pubCh != nil {
		b.pubCh.Close()
	}
	if b.subCh != nil {
		b.subCh.Close()
	}
	return b.conn.Close()
}

// PublishMessage dispatches one relayed message to the persistence queue.
// Delivery is durable and at-least-once intended; the caller does not block
// conversation progress on the result beyond logging it.
func (b *Bridge) PublishMessage(ctx context.Context, msg chat.Message) error {
	return b.publish(ctx, b.cfg.PersistQueue, msg)
}

// RequestReply enqueues a responder request carrying the full recent-history
// snapshot so the responder stays stateless across calls.
func (b *Bridge) RequestReply(ctx context.Context, req chat.AIRequest) error {
	return b.publish(ctx, b.cfg.RequestQueue, req)
}

// PublishReply enqueues a responder reply; used by the responder worker.
func (b *Bridge) PublishReply(ctx context.Context, reply chat.AIResponse) error {
	return b.publish(ctx, b.cfg.ResponseQueue, reply)
}

func (b *Bridge) publish(ctx context.Context, queue string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", queue, err)
	}

	err = b.pubCh.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// ConsumeReplies runs the responder-reply consumption loop until the context
// is cancelled or the channel closes. A delivery is acknowledged only after
// the handler has fully processed it (at-least-once, not exactly-once);
// handler errors nack with requeue.
func (b *Bridge) ConsumeReplies(ctx context.Context, handler func(ctx context.Context, reply chat.AIResponse) error) error {
	return consume(ctx, b.subCh, b.cfg.ResponseQueue, handler)
}

// ConsumeRequests runs the responder-request consumption loop; used by the
// responder worker, with the same acknowledgement semantics as replies.
func (b *Bridge) ConsumeRequests(ctx context.Context, handler func(ctx context.Context, req chat.AIRequest) error) error {
	return consume(ctx, b.subCh, b.cfg.RequestQueue, handler)
}

func consume[T any](ctx context.Context, ch *amqp.Channel, queue string, handler func(ctx context.Context, payload T) error) error {
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	log.Printf("[queue] waiting for messages on %s", queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("consume channel for %s closed", queue)
			}

			var payload T
			if err := json.Unmarshal(delivery.Body, &payload); err != nil {
				log.Printf("[queue] dropping unreadable message on %s: %v", queue, err)
				delivery.Nack(false, false)
				continue
			}

			if err := handler(ctx, payload); err != nil {
				log.Printf("[queue] handler failed on %s, requeueing: %v", queue, err)
				delivery.Nack(false, true)
				continue
			}
			delivery.Ack(false)
		}
	}
}
