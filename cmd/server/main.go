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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/config"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/database"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/handlers"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/middleware"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/pubsub"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/realtime"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/routes"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/services"
	"github.com/BisonCoders/BisonCodersWeb-sub000/pkg/logger"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	if cfg.JWTSecret == "" {
		zlog.Warn("JWT_SECRET not set; only opaque Redis sessions will authenticate")
	}

	// Connect to PostgreSQL (user directory)
	pg, err := database.ConnectPostgres(cfg.PostgresURI, zlog)
	if err != nil {
		return err
	}
	defer pg.Close()

	// Connect to Redis
	rdb, err := database.ConnectRedis(cfg.RedisURI, zlog)
	if err != nil {
		return err
	}
	defer rdb.Close()

	// Connect to MongoDB
	mongoClient, db, err := database.ConnectMongo(cfg.MongoURI, config.DatabaseName(cfg.MongoURI), zlog)
	if err != nil {
		return err
	}
	defer func() { _ = database.DisconnectMongo(mongoClient) }()

	store := services.NewMongoChatStore(db)
	indexCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.EnsureIndexes(indexCtx); err != nil {
		zlog.Warn("failed to ensure MongoDB chat indexes", zap.Error(err))
	}
	cancel()

	broker, err := newBroker(cfg, rdb, zlog)
	if err != nil {
		return err
	}
	defer broker.Close()

	var sink services.EventSink
	if brokers := cfg.Kafka(); len(brokers) > 0 {
		kafkaSink := services.NewKafkaSink(brokers, cfg.KafkaTopic)
		defer kafkaSink.Close()
		sink = kafkaSink
		zlog.Info("kafka event stream enabled", zap.Strings("brokers", brokers), zap.String("topic", cfg.KafkaTopic))
	}

	users := services.NewCachedUserDirectory(services.NewPostgresUserDirectory(pg), rdb, zlog)
	chats := services.NewChatService(services.ChatServiceConfig{
		Store:    store,
		Users:    users,
		Cache:    services.NewRedisMessageCache(rdb, zlog),
		Delivery: services.NewDeliveryGateway(broker, sink, zlog),
		Logger:   zlog,
		PageSize: cfg.HistoryPageSize,
	})

	bootCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if general, err := chats.EnsureGeneral(bootCtx); err != nil {
		zlog.Warn("failed to ensure general chat", zap.Error(err))
	} else {
		zlog.Info("general chat ready", zap.String("chat_id", general.ID))
	}
	cancel()

	gateway := realtime.NewGateway(broker, chats, realtime.NewHub(), zlog)

	sendLimit := middleware.NewKeyedLimiter(cfg.SendRatePerSecond, cfg.SendRateBurst)
	defer sendLimit.Stop()
	readLimit := middleware.NewKeyedLimiter(cfg.HistoryRatePerSecond, cfg.HistoryRateBurst)
	defer readLimit.Stop()

	// Setup router
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RequestLogger(zlog))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.Origins()))
	if cfg.IsProduction() {
		r.Use(middleware.SecurityHeaders)
	}

	routes.SetupRoutes(r, routes.Deps{
		Chats:      handlers.NewChatHandler(chats, zlog),
		WebSocket:  handlers.NewChatWebSocket(gateway, cfg.Origins(), zlog),
		Auth:       services.NewAuthenticator(cfg.JWTSecret, rdb),
		SendLimit:  sendLimit,
		ReadLimit:  readLimit,
		TrustProxy: cfg.TrustProxy,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("chat backend running",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Environment),
			zap.String("pubsub", cfg.PubSubDriver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		zlog.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	gateway.Hub().CloseAll()
	return srv.Shutdown(shutdownCtx)
}

func newBroker(cfg *config.Config, rdb *redis.Client, zlog *zap.Logger) (pubsub.Broker, error) {
	switch cfg.PubSubDriver {
	case "nats":
		return pubsub.ConnectNATS(cfg.NATSURL, zlog)
	case "memory":
		zlog.Warn("in-memory pub/sub: realtime events stay on this instance")
		return pubsub.NewMemoryBroker(), nil
	default:
		return pubsub.NewRedisBroker(rdb, zlog), nil
	}
}
