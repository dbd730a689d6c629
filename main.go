package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"cinema-chat/internal/auth"
	"cinema-chat/internal/config"
	"cinema-chat/internal/db"
	"cinema-chat/internal/fanout"
	grpcserver "cinema-chat/internal/grpc"
	"cinema-chat/internal/handlers"
	"cinema-chat/internal/middleware"
	"cinema-chat/internal/models"
	"cinema-chat/internal/observability"
	"cinema-chat/internal/presence"
	"cinema-chat/internal/rabbitmq"
	"cinema-chat/internal/repositories"
	"cinema-chat/internal/services"
	"cinema-chat/internal/telemetry"
	"cinema-chat/internal/worker"
	"cinema-chat/internal/ws"
)

type stores struct {
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
	users    repositories.UserRepository
	db       pinger
	close    func() error
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracer, err := observability.InitTracer(ctx, cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	st, err := openStores(cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	observability.SetPublisher(publisher)
	log.Printf("event publisher mode=%s reason=%s", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))

	var mirror presence.Mirror
	var closeRedis func() error
	if cfg.RedisAddr != "" {
		client, err := presence.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Printf("presence mirror disabled: %v", err)
		} else {
			redisMirror := presence.NewRedisMirror(client, cfg.LastSeenTTL)
			if err := redisMirror.Reset(ctx); err != nil {
				log.Printf("presence mirror reset failed: %v", err)
			}
			mirror = redisMirror
			closeRedis = client.Close
		}
	}

	executor := worker.NewExecutor()
	registry := presence.NewRegistry(st.users, executor, mirror)
	dispatcher := fanout.NewDispatcher(st.chats, registry, executor)
	auditor := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment)
	chatService := services.NewChatService(st.chats, st.messages, st.users, dispatcher, auditor, services.Options{
		EditWindow: cfg.EditWindow,
		Exec:       executor,
	})
	validator := auth.NewJWTValidator(cfg.SecretKey, cfg.JWTAlgorithm, st.users)

	if cfg.Store == "memory" {
		seedDevUsers(st.users, validator, cfg.DevUsers)
	}

	router := newRouter(cfg, st, validator, registry, chatService)
	httpServer := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id", "X-Device-Id"},
			AllowCredentials: true,
		}).Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv := grpcserver.NewServer(st.db)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatalf("failed to listen grpc: %v", err)
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			log.Printf("grpc server stopped: %v", err)
		}
	}()
	go grpcSrv.WatchDatabase(ctx, 15*time.Second)

	go func() {
		log.Printf("http listening addr=%s store=%s", httpServer.Addr, cfg.Store)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	grpcSrv.GracefulStop()
	if err := executor.Shutdown(shutdownCtx); err != nil {
		log.Printf("executor shutdown: %v", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Printf("tracer shutdown: %v", err)
	}
	if err := publisher.Close(); err != nil {
		log.Printf("publisher close: %v", err)
	}
	if closeRedis != nil {
		if err := closeRedis(); err != nil {
			log.Printf("redis close: %v", err)
		}
	}
	if st.close != nil {
		if err := st.close(); err != nil {
			log.Printf("db close: %v", err)
		}
	}
}

func openStores(cfg config.Config) (stores, error) {
	switch cfg.Store {
	case "memory":
		mem := repositories.NewMemoryStore()
		return stores{chats: mem, messages: mem, users: mem}, nil
	case "postgres":
		database, err := db.Connect(cfg.DBDSN)
		if err != nil {
			return stores{}, err
		}
		return stores{
			chats:    repositories.NewChatRepo(database),
			messages: repositories.NewMessageRepo(database),
			users:    repositories.NewUserRepo(database),
			db:       database,
			close:    database.Close,
		}, nil
	default:
		return stores{}, fmt.Errorf("unknown CHAT_STORE %q", cfg.Store)
	}
}

// seedDevUsers adds the configured usernames as mutual friends and logs a token for each.
func seedDevUsers(users repositories.UserRepository, validator *auth.JWTValidator, usernames []string) {
	mem, ok := users.(*repositories.MemoryStore)
	if !ok || len(usernames) == 0 {
		return
	}
	for i, username := range usernames {
		mem.AddUser(models.User{ID: i + 1, Username: username, Name: username, IsActive: true})
		for j := range usernames {
			if j != i {
				mem.SetFriendship(i+1, j+1, "accepted")
			}
		}
		token, err := validator.IssueToken(username, 24*time.Hour)
		if err != nil {
			log.Printf("dev token for %s: %v", username, err)
			continue
		}
		log.Printf("dev user id=%d username=%s token=%s", i+1, username, token)
	}
}

func newRouter(cfg config.Config, st stores, validator *auth.JWTValidator, registry *presence.Registry, chatService *services.ChatService) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.RequestIDMiddleware())
	router.Use(observability.HTTPMetricsMiddleware())
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/api/health", handlers.Health(st.db))
	handlers.RegisterDebugRoutes(router, st.users, cfg.Debug)

	authMiddleware := middleware.AuthMiddleware(validator)
	presenceHandler := handlers.NewPresenceHandler(registry, st.users)

	api := router.Group("/api/v1", authMiddleware)
	handlers.NewChatHandler(chatService).RegisterRoutes(api)
	presenceHandler.RegisterRoutes(api)

	router.GET("/api/websocket/stats", authMiddleware, presenceHandler.Stats)
	router.GET("/ws", ws.NewHandler(validator, registry, chatService).Handle)

	internal := router.Group("/internal", middleware.AdminKeyMiddleware(cfg.AdminKey))
	internal.GET("/audit/messages/:message_id", handlers.NewAuditHandler(chatService).MessageAudit)

	return router
}
