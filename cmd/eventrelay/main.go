package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/config"
	"github.com/davicafu/eventrelay/internal/eventbus"
	"github.com/davicafu/eventrelay/internal/infra/cache"
	"github.com/davicafu/eventrelay/internal/infra/db"
	"github.com/davicafu/eventrelay/internal/infra/db/mongodb"
	eventlogPostgres "github.com/davicafu/eventrelay/internal/infra/db/postgres"
	eventlogSQLite "github.com/davicafu/eventrelay/internal/infra/db/sqlite"
	infraEvents "github.com/davicafu/eventrelay/internal/infra/events"
	"github.com/davicafu/eventrelay/internal/ordering/application"
	orderDomain "github.com/davicafu/eventrelay/internal/ordering/domain"
	orderEvents "github.com/davicafu/eventrelay/internal/ordering/infra/inbound/events"
	orderHttp "github.com/davicafu/eventrelay/internal/ordering/infra/inbound/http"
	"github.com/davicafu/eventrelay/internal/ordering/infra/outbound/analytics/clickhouse"
	orderPostgres "github.com/davicafu/eventrelay/internal/ordering/infra/outbound/db/postgre"
	orderSQLite "github.com/davicafu/eventrelay/internal/ordering/infra/outbound/db/sqlite"
	"github.com/davicafu/eventrelay/internal/relayer"
	"github.com/davicafu/eventrelay/pkg/logger"
	sharedDomain "github.com/davicafu/eventrelay/shared/domain"
	sharedBus "github.com/davicafu/eventrelay/shared/platform/bus"
	"github.com/davicafu/eventrelay/shared/utils"
)

const shutdownTimeout = 15 * time.Second

// lifecycle es la parte de arranque/parada que comparten los consumidores.
type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ---------------- Main ----------------
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ invalid configuration: %v", err)
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		log.Fatalf("❌ logger: %v", err)
	}
	zlog := logger.Logger()
	defer zlog.Sync() // flush buffers al salir

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zlog); err != nil {
		zlog.Fatal("❌ eventrelay stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// ---------------- Métricas ----------------
	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := relayer.NewMetrics(metricsRegistry)

	// ---------------- Registro de eventos ----------------
	var serializerOpts []eventbus.SerializerOption
	if cfg.StrictDecoding {
		serializerOpts = append(serializerOpts, eventbus.WithStrictDecoding())
	}
	registry := eventbus.NewSubscriptionRegistry(eventbus.NewSerializer(serializerOpts...))
	if err := orderEvents.RegisterEventTypes(registry); err != nil {
		return err
	}
	eventLog := db.NewEventLog(registry, log,
		db.WithNamespace(cfg.EventNamespace),
		db.WithUnresolvedReporter(metrics.ReportUnresolved),
	)

	// ---------------- DB ----------------
	conn, store, orders, err := openStorage(ctx, cfg, eventLog)
	if err != nil {
		return err
	}
	defer conn.Close()
	var txOpts []db.ResilientTxOption
	if opts := cfg.TxOptions(); opts != nil {
		txOpts = append(txOpts, db.WithTxOptions(opts))
	}
	txExecutor := db.NewResilientTransaction(conn, log, txOpts...)

	// ---------------- Cache ----------------
	var cacheInstance cache.Cache
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, cache en memoria", zap.Error(err))
		memCache := cache.NewInMemoryCache(cfg.CacheTTL, 3*cfg.CacheTTL)
		defer memCache.Stop()
		cacheInstance = memCache
	} else {
		cacheInstance = cache.NewRedisCache(rdb, cfg.CacheTTL, cache.WithKeyPrefix(cfg.CachePrefix))
		log.Info("✅ Redis conectado, cache habilitado")
	}

	// ---------------- Inbox / Analytics ----------------
	inbox, closeInbox, err := openInbox(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeInbox()

	var analytics orderDomain.OrderAnalyticsRepository
	if cfg.ClickHouseAddr != "" {
		repo, err := clickhouse.NewOrderAnalyticsRepo(ctx, cfg.ClickHouseAddr, cfg.ClickHouseDatabase)
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.InitSchema(ctx); err != nil {
			return fmt.Errorf("init clickhouse schema: %w", err)
		}
		analytics = repo
	}

	subs := orderEvents.Subscriptions{
		Cache:     cacheInstance,
		CacheTTL:  cfg.CacheTTLSeconds(),
		Inbox:     inbox,
		Analytics: analytics,
		Log:       log,
	}
	if err := subs.Register(registry); err != nil {
		return err
	}
	processor := eventbus.NewProcessor(registry, log)

	// ---------------- Events ---------------
	bus, consumer, closeBus := buildBus(cfg, processor, log)
	defer closeBus()
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	// ------------ Outbox ------------
	dispatcher := relayer.NewDispatcher(store, bus, metrics, log)
	worker := relayer.NewOutboxWorker(store, dispatcher, cfg.SweepInterval, cfg.SweepGrace, cfg.SweepLimit, log)
	worker.Start(ctx)

	// ---------------- HTTP ----------------
	service := application.NewOrderService(orders, store, txExecutor, dispatcher, cacheInstance, log)
	router := gin.Default()
	orderHttp.RegisterOrderRoutes(router, orderHttp.NewOrderHandler(service))
	orderHttp.RegisterOpsRoutes(router, metricsRegistry)

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	serverErr := make(chan error, 1)
	go func() {
		log.Info("🚀 Server running", zap.String("url", "http://localhost:"+cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("🛑 Señal recibida, apagando...")
	case runErr = <-serverErr:
	}

	// ---------------- Shutdown ----------------
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown", zap.Error(err))
	}
	worker.Stop()
	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Warn("Consumer shutdown", zap.Error(err))
	}
	return runErr
}

func openStorage(ctx context.Context, cfg *config.Config, eventLog *db.EventLog) (*sql.DB, sharedDomain.EventLogStore, orderDomain.OrderRepository, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		conn, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open Postgres: %w", err)
		}
		// reintenta mientras Postgres termina de arrancar
		err = utils.Retry(ctx, cfg.ConnectAttempts, cfg.ConnectDelay, func() error {
			return conn.PingContext(ctx)
		})
		if err != nil {
			conn.Close()
			return nil, nil, nil, fmt.Errorf("failed to ping Postgres: %w", err)
		}
		if err := eventlogPostgres.InitSchema(ctx, conn); err != nil {
			conn.Close()
			return nil, nil, nil, err
		}
		if err := orderPostgres.InitPostgres(ctx, conn); err != nil {
			conn.Close()
			return nil, nil, nil, err
		}
		return conn, eventlogPostgres.NewEventLogStorePostgres(conn, eventLog), orderPostgres.NewOrderRepoPostgres(conn), nil

	default:
		dsn := "file:" + cfg.SQLitePath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open SQLite: %w", err)
		}
		// SQLite admite un único escritor
		conn.SetMaxOpenConns(1)
		if err := eventlogSQLite.InitSchema(ctx, conn); err != nil {
			conn.Close()
			return nil, nil, nil, err
		}
		if err := orderSQLite.InitSQLite(ctx, conn); err != nil {
			conn.Close()
			return nil, nil, nil, err
		}
		return conn, eventlogSQLite.NewEventLogStoreSQLite(conn, eventLog), orderSQLite.NewOrderRepoSQLite(conn), nil
	}
}

func openInbox(ctx context.Context, cfg *config.Config, log *zap.Logger) (eventbus.Inbox, func(), error) {
	if cfg.MongoURI == "" {
		log.Info("Inbox en memoria (EVENTRELAY_MONGO_URI vacío)")
		return eventbus.NewInMemoryInbox(), func() {}, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	closeFn := func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(dctx)
	}

	inbox := mongodb.NewInboxStoreMongoDB(client, cfg.MongoDatabase)
	if err := inbox.EnsureIndexes(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	log.Info("✅ Inbox en MongoDB", zap.String("database", cfg.MongoDatabase))
	return inbox, closeFn, nil
}

func buildBus(cfg *config.Config, processor *eventbus.Processor, log *zap.Logger) (sharedBus.EventBus, lifecycle, func()) {
	switch cfg.BusTransport {
	case config.TransportKafka:
		log.Info("🚀 Usando Kafka como bus de eventos", zap.Strings("brokers", cfg.KafkaBrokers))
		writer := &kafka.Writer{
			Addr:         kafka.TCP(cfg.KafkaBrokers...),
			Topic:        cfg.KafkaTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.KafkaTopic,
			GroupID:  cfg.SubscriptionClientName,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
		})
		bus := infraEvents.NewKafkaEventBus(writer, processor.Registry().Serializer(), cfg.RetryCount, log)
		consumer := infraEvents.NewKafkaConsumer(reader, processor, log)
		return bus, consumer, func() { _ = bus.Close() }

	case config.TransportMemory:
		log.Info("⚡️Usando bus de eventos en memoria (canales de Go)")
		bus := infraEvents.NewInMemoryEventBus(processor, 256, log)
		return bus, bus, func() {}

	default:
		log.Info("🐇 Usando RabbitMQ como bus de eventos", zap.String("exchange", cfg.ExchangeName))
		bus := infraEvents.NewRabbitMQEventBus(infraEvents.RabbitMQOptions{
			URL:                    cfg.RabbitMQURL,
			ExchangeName:           cfg.ExchangeName,
			SubscriptionClientName: cfg.SubscriptionClientName,
			RetryCount:             infraEvents.Retries(cfg.RetryCount),
		}, processor, log)
		return bus, bus, func() {}
	}
}
