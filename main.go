package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"messaging-core/internal/config"
	"messaging-core/internal/db"
	"messaging-core/internal/handlers"
	"messaging-core/internal/messaging"
	"messaging-core/internal/middleware"
	"messaging-core/internal/observability"
	"messaging-core/internal/presence"
	"messaging-core/internal/rabbitmq"
	"messaging-core/internal/repositories"
	"messaging-core/internal/telemetry"
	"messaging-core/internal/ws"
)

const serviceName = "messaging-core"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	if cfg.Environment != "dev" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		logrus.Fatalf("failed to connect to db: %v", err)
	}

	if cfg.OTLPEndpoint != "" {
		shutdown, err := initTracing(cfg.OTLPEndpoint)
		if err != nil {
			logrus.WithError(err).Warn("tracing disabled")
		} else {
			defer shutdown()
		}
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer auditPublisher.Close()
	logrus.WithField("mode", rabbitmq.PublisherMode(auditPublisher)).Info("audit publisher ready")
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit.messaging", serviceName, cfg.Environment)

	if cfg.AMQPURL != "" {
		eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logrus.WithError(err).Warn("event publisher disabled")
		} else {
			observability.SetPublisher(eventPublisher)
			defer eventPublisher.Close()
		}
	}

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	markerRepo := repositories.NewReadMarkerRepo(database)

	hub := ws.NewHub()
	typing := presence.NewBroadcaster(hub, cfg.TypingTTL)
	typing.Start()
	defer typing.Stop()

	service := messaging.NewService(conversationRepo, messageRepo, markerRepo, hub, cfg.LockTimeout, cfg.HistoryPageLimit)

	verifier := middleware.NewTokenVerifier(cfg.JWTSecret)
	conversationHandler := handlers.NewConversationHandler(service, conversationRepo, typing, audit)
	messageHandler := handlers.NewMessageHandler(service, audit)
	subscribeHandler := ws.NewSubscribeHandler(hub, conversationRepo, service, typing, verifier)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.POST("/conversations/direct", authMiddleware, conversationHandler.StartDirect)
	router.POST("/conversations/group", authMiddleware, conversationHandler.CreateGroup)
	router.GET("/conversations", authMiddleware, conversationHandler.List)
	router.POST("/conversations/:conversation_id/participants", authMiddleware, conversationHandler.AddParticipant)
	router.POST("/conversations/:conversation_id/read", authMiddleware, conversationHandler.MarkRead)
	router.GET("/conversations/:conversation_id/unread", authMiddleware, conversationHandler.Unread)
	router.POST("/conversations/:conversation_id/typing", authMiddleware, conversationHandler.SetTyping)
	router.GET("/unread", authMiddleware, conversationHandler.UnreadAll)

	router.POST("/conversations/:conversation_id/messages", authMiddleware, messageHandler.Post)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, messageHandler.History)
	router.PATCH("/conversations/:conversation_id/messages/:message_id", authMiddleware, messageHandler.Edit)
	router.DELETE("/conversations/:conversation_id/messages/:message_id", authMiddleware, messageHandler.Delete)
	router.GET("/conversations/:conversation_id/messages/:message_id/receipts", authMiddleware, messageHandler.Receipts)
	router.POST("/conversations/:conversation_id/messages/:message_id/delivered", authMiddleware, messageHandler.ReportDelivered)
	router.POST("/conversations/:conversation_id/messages/:message_id/failed", authMiddleware, messageHandler.ReportFailed)

	router.GET("/ws/conversations/:conversation_id", subscribeHandler.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	logrus.WithField("port", cfg.Port).Info("messaging core listening")
	if err := router.Run(":" + cfg.Port); err != nil {
		logrus.Fatalf("server error: %v", err)
	}
}

func initTracing(endpoint string) (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("tracer shutdown failed")
		}
	}, nil
}
