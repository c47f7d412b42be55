package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	redisDriver "github.com/redis/go-redis/v9"

	"orator-go/internal/battle"
	"orator-go/internal/config"
	"orator-go/internal/docstore"
	"orator-go/internal/graph"
	"orator-go/internal/handlers/apiserver"
	appKafka "orator-go/internal/kafka"
	"orator-go/internal/middleware"
	appRedis "orator-go/internal/redis"
	"orator-go/internal/services"
	"orator-go/internal/storage"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	log.Println("API server configuration loaded.")

	// 2. Database connection and document table migration
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	log.Println("API server database connection established.")

	if err := storage.AutoMigrateTables(db); err != nil {
		log.Fatalf("failed to migrate database tables: %v", err)
	}

	// 3. Redis client for the token blacklist
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

	// 4. Kafka producer: committed document changes are replicated to the
	// sync servers through the change stream topic.
	kfkProducer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka)
	if err != nil {
		log.Fatalf("failed to create Kafka producer: %v", err)
	}
	defer kfkProducer.Close()
	changePublisher := appKafka.NewChangeStreamPublisher(kfkProducer, cfg.Kafka)
	log.Println("Kafka producer initialized (API server).")

	// 5. Document store
	notifier := docstore.NewNotifier()
	store := docstore.NewGormStore(db, notifier, changePublisher, cfg.Docstore.MaxTxAttempts)

	// 6. File storage for profile pictures
	var fileStorage storage.FileStorage
	storageBaseURL := "/uploads"
	switch cfg.Storage.Type {
	case "local":
		fileStorage, err = storage.NewLocalFileStorage(cfg.Storage, storageBaseURL)
		if err != nil {
			log.Fatalf("failed to initialize local file storage: %v", err)
		}
		log.Println("Local file storage initialized.")
	default:
		log.Fatalf("unsupported storage type: %s", cfg.Storage.Type)
	}

	// 7. Services
	authService := services.NewAuthService(store, tokenBlacklist, cfg)
	profileService := services.NewProfileService(store, fileStorage)
	graphService := graph.NewService(store)
	evaluationTrigger := battle.NewOpenAITrigger(cfg.Evaluation)
	battleCoordinator := battle.NewCoordinator(store, evaluationTrigger)

	// 8. Handlers
	authHandler := apiserver.NewAuthHandler(authService)
	profileHandler := apiserver.NewProfileHandler(profileService, cfg.Storage)
	relationshipHandler := apiserver.NewRelationshipHandler(graphService)
	battleHandler := apiserver.NewBattleHandler(battleCoordinator)

	// 9. Routing
	r := mux.NewRouter()

	authRouter := r.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/register", authHandler.Register).Methods(http.MethodPost)
	authRouter.HandleFunc("/login", authHandler.Login).Methods(http.MethodPost)

	authMW := middleware.AuthMiddleware(cfg.Auth, tokenBlacklist)

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(authMW)

	apiRouter.HandleFunc("/auth/logout", authHandler.Logout).Methods(http.MethodPost)

	// Profile routes
	apiRouter.HandleFunc("/users", profileHandler.ListProfilesHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/users/me", profileHandler.GetMyProfileHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/users/me", profileHandler.UpdateMyProfileHandler).Methods(http.MethodPut)
	apiRouter.HandleFunc("/users/me", profileHandler.DeleteMyProfileHandler).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/users/me/picture", profileHandler.UploadProfilePictureHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/users/me/streak", profileHandler.UpdateLoginStreakHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/users/me/sessions", profileHandler.AddSpeechSampleHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/users/{uid}", profileHandler.GetProfileHandler).Methods(http.MethodGet)

	// Friend graph routes
	apiRouter.HandleFunc("/friends", relationshipHandler.FriendsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/friends/{uid}", relationshipHandler.RemoveFriendHandler).Methods(http.MethodDelete)
	friendRequestRouter := apiRouter.PathPrefix("/friends/requests").Subrouter()
	friendRequestRouter.HandleFunc("", relationshipHandler.SendRequestHandler).Methods(http.MethodPost)
	friendRequestRouter.HandleFunc("/sent", relationshipHandler.SentRequestsHandler).Methods(http.MethodGet)
	friendRequestRouter.HandleFunc("/received", relationshipHandler.ReceivedRequestsHandler).Methods(http.MethodGet)
	friendRequestRouter.HandleFunc("/{uid}/accept", relationshipHandler.AcceptRequestHandler).Methods(http.MethodPost)
	friendRequestRouter.HandleFunc("/{uid}/decline", relationshipHandler.DeclineRequestHandler).Methods(http.MethodPost)
	friendRequestRouter.HandleFunc("/{uid}", relationshipHandler.CancelRequestHandler).Methods(http.MethodDelete)

	// Battle routes
	apiRouter.HandleFunc("/battles", battleHandler.CreateBattleHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/battles/pending", battleHandler.PendingBattlesHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/battles/{battleId}", battleHandler.GetBattleHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/battles/{battleId}/respond", battleHandler.RespondBattleHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/battles/{battleId}/cancel", battleHandler.CancelBattleHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/battles/{battleId}/transcript", battleHandler.SubmitTranscriptHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/battles/{battleId}/evaluate", battleHandler.RetryEvaluationHandler).Methods(http.MethodPost)

	// Static serving of uploaded profile pictures
	if cfg.Storage.Type == "local" {
		staticPath := strings.TrimSuffix(storageBaseURL, "/") + "/"
		localDir := http.Dir(cfg.Storage.LocalPath)
		r.PathPrefix(staticPath).Handler(http.StripPrefix(staticPath, http.FileServer(localDir)))
		log.Printf("Serving static files at %s -> %s", staticPath, cfg.Storage.LocalPath)
	}

	// 10. HTTP server with CORS and graceful shutdown
	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)

	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	corsHandler := handlers.CORS(corsOptions...)(r)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      corsHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Second * 60,
	}

	go func() {
		log.Printf("API server listening on %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutdown signal received, stopping API server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("API server forced to shut down: %v", err)
	}
	log.Println("API server stopped.")
}
