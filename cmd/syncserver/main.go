package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisDriver "github.com/redis/go-redis/v9"

	"orator-go/internal/config"
	"orator-go/internal/docstore"
	"orator-go/internal/events"
	"orator-go/internal/handlers/syncserver"
	appKafka "orator-go/internal/kafka"
	kafkaHandlers "orator-go/internal/kafka/handlers"
	appRedis "orator-go/internal/redis"
	"orator-go/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	log.Println("Sync server configuration loaded.")

	// 2. Redis client: tokens presented on connect are checked against the
	// same blacklist the API server writes.
	redisClient := redisDriver.NewClient(&redisDriver.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	log.Println("Connected to Redis.")
	tokenBlacklist := appRedis.NewRedisTokenBlacklist(redisClient)

	// 3. WebSocket hub
	hub := websocket.NewHub()
	go hub.Run()
	log.Println("WebSocket hub started.")

	// 4. The notifier bridges the replicated change stream to the hub: the
	// Kafka handler dispatches into it, the collection subscriptions below
	// feed the hub's fan-out.
	notifier := docstore.NewNotifier()
	for _, collection := range []string{events.CollectionUserProfiles, events.CollectionBattles} {
		notifier.SubscribeCollection(collection, hub.DeliverChange, func(err error) {
			log.Printf("change stream subscription error: %v", err)
		})
	}

	// 5. Kafka consumer for the document change stream
	changeConsumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka)
	if err != nil {
		log.Fatalf("failed to create Kafka consumer: %v", err)
	}
	defer changeConsumer.Close()

	consumerCtx, cancelConsumers := context.WithCancel(context.Background())
	defer cancelConsumers()

	go func() {
		topics := []string{cfg.Kafka.DocumentChangesTopic}
		log.Printf("Kafka change stream consumer starting, topic: %s, group: %s",
			cfg.Kafka.DocumentChangesTopic, cfg.Kafka.ConsumerGroup)
		err := changeConsumer.Consume(consumerCtx, topics, cfg.Kafka.ConsumerGroup,
			kafkaHandlers.NewDocumentChangeHandler(notifier))
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Kafka change stream consumer error: %v", err)
		}
		log.Println("Kafka change stream consumer stopped.")
	}()

	// 6. HTTP server exposing the WebSocket endpoint
	wsHandler := syncserver.NewWebSocketHandler(hub, tokenBlacklist, cfg)

	serveMux := http.NewServeMux()
	serveMux.HandleFunc(cfg.Server.WebSocketPath, wsHandler.ServeWS)

	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: serverAddr, Handler: serveMux}

	go func() {
		log.Printf("Sync server listening on %s, WebSocket path: %s", serverAddr, cfg.Server.WebSocketPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Sync server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutdown signal received, stopping sync server...")

	cancelConsumers()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("Sync server forced to shut down: %v", err)
	}
	log.Println("Sync server stopped.")
}
