package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"linkchat/internal/auth"
	"linkchat/internal/backend"
	"linkchat/internal/chat"
	"linkchat/internal/config"
	"linkchat/internal/db"
	grpcclient "linkchat/internal/grpc"
	"linkchat/internal/handlers"
	"linkchat/internal/logger"
	"linkchat/internal/middleware"
	"linkchat/internal/observability"
	"linkchat/internal/rabbitmq"
	"linkchat/internal/realtime"
	"linkchat/internal/telemetry"
	"linkchat/internal/ws"
)

const serviceName = "linkchat"

func main() {
	configPath := flag.String("config", os.Getenv("LINKCHAT_CONFIG"), "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.New(logger.Config{Development: cfg.Log.Development, Level: cfg.Log.Level})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.OTLPInsecure,
		Service:     serviceName,
		Environment: cfg.Telemetry.Environment,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		zlog.Fatal("failed to set up tracing", zap.Error(err))
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, zlog)
	defer publisher.Close()
	zlog.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("reason", rabbitmq.PublisherNoopReason(publisher)),
	)
	notifier := telemetry.NewNotificationEmitter(publisher, cfg.AMQP.RoutingKey, serviceName, cfg.Telemetry.Environment, zlog)

	api, closeBackend, err := openBackend(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to open backend", zap.Error(err))
	}
	defer closeBackend()

	provider, closeAuth, err := openAuth(cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to set up auth", zap.Error(err))
	}
	defer closeAuth()

	dialer := realtime.NewDialer(realtime.Config{
		URL:           cfg.Realtime.URL,
		MaxAttempts:   cfg.Realtime.MaxAttempts,
		RetryInterval: cfg.Realtime.RetryInterval,
		PingInterval:  cfg.Realtime.PingInterval,
	}, zlog)

	manager := chat.NewManager(api, dialer, notifier, chat.Config{
		FetchTimeout:   cfg.Chat.FetchTimeout,
		PersistTimeout: cfg.Chat.PersistTimeout,
	}, zlog)
	defer manager.EndSession()

	sendLimiter := middleware.NewClientRateLimiter(ctx, cfg.RateLimit.SendsPerMinute, cfg.RateLimit.Burst, zlog)

	sessionHandler := handlers.NewSessionHandler(manager, provider, zlog, api, dialer)
	chatHandler := handlers.NewChatHandler(manager, api, zlog)
	updatesWS := ws.NewUpdatesHandler(manager, provider, zlog)

	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	guard := middleware.SessionGuard(provider, manager, zlog)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "state": manager.State()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/session", sessionHandler.StartSession)
	router.DELETE("/session", guard, sessionHandler.EndSession)

	router.GET("/chats", guard, chatHandler.ListChats)
	router.POST("/chats", guard, chatHandler.OpenChat)
	router.DELETE("/chats/:user_id", guard, chatHandler.CloseChat)
	router.POST("/chats/:user_id/minimize", guard, chatHandler.MinimizeChat)
	router.POST("/chats/:user_id/maximize", guard, chatHandler.MaximizeChat)
	router.POST("/chats/:user_id/messages", guard, sendLimiter.Handler(), chatHandler.PostMessage)
	router.PUT("/chats/:user_id/friendship", guard, chatHandler.UpdateFriendship)

	router.GET("/ws/updates", updatesWS.Handle)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zlog.Info("chat daemon listening", zap.String("addr", srv.Addr), zap.String("backend", cfg.Backend.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("http shutdown", zap.Error(err))
	}
	manager.EndSession()
	if err := shutdownTracing(shutdownCtx); err != nil {
		zlog.Warn("tracing shutdown", zap.Error(err))
	}
}

func openBackend(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (backend.API, func(), error) {
	if cfg.Backend.Driver == config.BackendPostgres {
		database, err := db.Connect(ctx, cfg.Backend.DSN, zlog)
		if err != nil {
			return nil, nil, err
		}
		return backend.NewStore(database), func() { _ = database.Close() }, nil
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL:         cfg.Backend.URL,
		Timeout:         cfg.Backend.Timeout,
		RetryMaxElapsed: cfg.Backend.RetryMaxElapsed,
		BreakerFailures: cfg.Backend.BreakerFailures,
		BreakerTimeout:  cfg.Backend.BreakerTimeout,
	}, zlog)
	if err != nil {
		return nil, nil, err
	}
	return client, func() {}, nil
}

func openAuth(cfg *config.Config, zlog *zap.Logger) (auth.Provider, func(), error) {
	if cfg.Auth.Mode == config.AuthGRPC {
		conn, err := grpcclient.Dial(cfg.Auth.GRPCAddr)
		if err != nil {
			return nil, nil, err
		}
		zlog.Info("validating tokens with the auth service", zap.String("addr", cfg.Auth.GRPCAddr))
		return grpcclient.NewAuthClient(conn, cfg.Auth.Timeout), func() { _ = conn.Close() }, nil
	}

	provider, err := auth.NewJWTProvider(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		return nil, nil, err
	}
	return provider, func() {}, nil
}
