package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/joho/godotenv"

	"github.com/ac-platform/chat-relay/internal/config"
	"github.com/ac-platform/chat-relay/internal/model/chat"
	"github.com/ac-platform/chat-relay/internal/queue"
)

// The responder worker drains the request queue and produces replies on the
// reply queue. It keeps the relay loop testable end to end without the full
// production AI service: with Ark credentials configured it answers through
// the model, otherwise it echoes a canned acknowledgement.

const systemPrompt = "You are a support assistant answering customer questions in a chat. " +
	"Reply briefly and politely in the customer's language. If you cannot help, " +
	"say that a human operator will take over."

const historyLimit = 10

var escalationKeywords = []string{"operator", "manager", "human"}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	bridge, err := queue.Dial(cfg.Queue)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer bridge.Close()

	responder, err := newResponder(ctx, cfg.AI, bridge)
	if err != nil {
		log.Fatalf("failed to initialize responder: %v", err)
	}

	log.Printf("responder %q ready", cfg.AI.ResponderName)
	if err := bridge.ConsumeRequests(ctx, responder.Handle); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("request consumer stopped: %v", err)
	}
}

type responder struct {
	name   string
	chain  compose.Runnable[map[string]any, *schema.Message]
	bridge *queue.Bridge
}

func newResponder(ctx context.Context, cfg config.AIConfig, bridge *queue.Bridge) (*responder, error) {
	r := &responder{name: cfg.ResponderName, bridge: bridge}

	if !cfg.Enabled() {
		log.Println("ark credentials not configured, answering with canned replies")
		return r, nil
	}

	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	r.chain = runnable
	log.Printf("ark model %q initialized", cfg.Model)
	return r, nil
}

// Handle answers one request. Returning an error requeues the request, so it
// only fails when the reply cannot be published.
func (r *responder) Handle(ctx context.Context, req chat.AIRequest) error {
	if req.ChatID == "" {
		log.Println("[responder] dropping request without chat id")
		return nil
	}

	reply := chat.AIResponse{ChatID: req.ChatID, Username: r.name}

	switch {
	case wantsOperator(req.Body):
		reply.Body = "I am connecting you with a human operator, one moment please."
		reply.EscalationRequested = true
	case r.chain == nil:
		reply.Body = fmt.Sprintf("Thanks for your message! An assistant will reply to %q shortly.", req.Body)
	default:
		answer, err := r.chain.Invoke(ctx, map[string]any{
			"system":  systemPrompt,
			"history": historyMessages(req.History),
			"query":   req.Body,
		})
		if err != nil {
			log.Printf("[responder] model call failed for chat %s: %v", req.ChatID, err)
			reply.Body = "I could not process that, a human operator will take over."
			reply.EscalationRequested = true
		} else {
			reply.Body = answer.Content
		}
	}

	if err := r.bridge.PublishReply(ctx, reply); err != nil {
		return fmt.Errorf("publish reply for chat %s: %w", req.ChatID, err)
	}

	log.Printf("[responder] replied to chat %s (escalation=%v)", req.ChatID, reply.EscalationRequested)
	return nil
}

func wantsOperator(body string) bool {
	lowered := strings.ToLower(body)
	for _, keyword := range escalationKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

func historyMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		if msg.FromResponder {
			history = append(history, schema.AssistantMessage(msg.Body, nil))
		} else {
			history = append(history, schema.UserMessage(msg.Body))
		}
	}
	return history
}
