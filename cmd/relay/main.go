package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ac-platform/chat-relay/internal/config"
	"github.com/ac-platform/chat-relay/internal/handler"
	"github.com/ac-platform/chat-relay/internal/queue"
	chatservice "github.com/ac-platform/chat-relay/internal/service/chat"
	"github.com/ac-platform/chat-relay/internal/store"
)

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

	redisStore, err := store.New(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisStore.Close()
	log.Println("connected to redis")

	bridge, err := queue.Dial(cfg.Queue)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer bridge.Close()

	relay := chatservice.NewService(redisStore, redisStore, redisStore, bridge)

	// Responder replies flow through the same per-conversation pipeline as
	// live user messages.
	go func() {
		if err := bridge.ConsumeReplies(ctx, relay.HandleResponderReply); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[queue] reply consumer stopped: %v", err)
			stop()
		}
	}()

	router := handler.NewRouter(relay, redisStore, redisStore)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("chat relay listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
