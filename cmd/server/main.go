package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	_ "modernc.org/sqlite"

	"github.com/RicardoFernandes2004/LumePatch/internal/adapter/handler"
	"github.com/RicardoFernandes2004/LumePatch/internal/adapter/messaging"
	"github.com/RicardoFernandes2004/LumePatch/internal/adapter/storage"
	"github.com/RicardoFernandes2004/LumePatch/internal/config"
	"github.com/RicardoFernandes2004/LumePatch/internal/core/domain"
	"github.com/RicardoFernandes2004/LumePatch/internal/core/service"
	"github.com/RicardoFernandes2004/LumePatch/internal/metrics"
	"github.com/RicardoFernandes2004/LumePatch/internal/port"
)

const shutdownTimeout = 5 * time.Second

type backend struct {
	blobs   port.BlobStore
	idem    port.IdempotencyStore
	lock    port.WriterLock
	closers []func() error
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info().
		Str("store", cfg.Store).
		Bool("shared", cfg.SharedStore).
		Str("http", cfg.HTTPAddr).
		Str("grpc", cfg.GRPCAddr).
		Msg("starting ledger")

	be, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}

	// Initialize service
	ledgerMetrics := metrics.New()
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = service.DefaultCatalog
	}
	ledger := service.NewLedgerService(
		storage.NewLedgerRepository(be.blobs),
		be.lock,
		service.LedgerConfig{
			Catalog:           catalog,
			SeedQuantity:      cfg.SeedQuantity,
			LowStockThreshold: cfg.LowStockThreshold,
			SharedStore:       cfg.SharedStore,
			EventQueueSize:    cfg.EventQueueSize,
		},
		log.Logger,
		service.WithIdempotency(be.idem),
		service.WithMetrics(ledgerMetrics),
	)
	if err := ledger.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load ledger")
	}

	intake := service.NewIntakeService(ledger, service.IntakeConfig{
		Threshold: cfg.DetectionThreshold,
		Ignored:   cfg.DetectionIgnore,
	}, log.Logger)

	// Start event workers
	var publisher port.EventPublisher = messaging.NewLogPublisher(log.Logger)
	if len(cfg.KafkaBrokers) > 0 {
		publisher = messaging.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing events to kafka")
	}

	var wg sync.WaitGroup
	if queue := ledger.GetEventQueue(); queue != nil {
		for i := 0; i < cfg.EventWorkers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				workerLoop(id, queue, publisher, ledgerMetrics)
			}(i)
		}
		log.Info().Int("workers", cfg.EventWorkers).Msg("started event workers")
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterLedgerServer(grpcServer, handler.NewGRPCHandler(ledger, intake, log.Logger))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen")
	}

	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC server error")
		}
	}()

	// Initialize HTTP server
	router := mux.NewRouter()
	router.Use(handler.Instrument(ledgerMetrics))
	router.Handle("/metrics", ledgerMetrics.Handler()).Methods(http.MethodGet)
	handler.NewHTTPHandler(ledger, intake, log.Logger).RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Warn().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Info().Msg("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info().Msg("gRPC server stopped")

	// Close event queue and wait for workers
	ledger.Close()
	wg.Wait()
	if err := publisher.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close publisher")
	}
	log.Info().Msg("workers stopped")

	for _, closeFn := range be.closers {
		closeFn()
	}
	log.Info().Msg("connections closed")
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	be := &backend{lock: storage.NewLocalLock()}

	var rdb *redis.Client
	if cfg.Store == config.StoreRedis || cfg.SharedStore {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		be.closers = append(be.closers, rdb.Close)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

		redisStore := storage.NewRedisStore(rdb, storage.DefaultRedisPrefix)
		be.idem = redisStore
		if cfg.Store == config.StoreRedis {
			be.blobs = redisStore
		}
		if cfg.SharedStore {
			be.lock = storage.NewRedisLock(rdb, storage.DefaultLockKey, cfg.LockTTL)
		}
	}

	switch cfg.Store {
	case config.StoreMySQL:
		db, err := openSQL(ctx, "mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		be.closers = append(be.closers, db.Close)
		log.Info().Msg("connected to mysql")

		if be.blobs, err = newSQLStore(ctx, db, storage.DialectMySQL); err != nil {
			return nil, err
		}
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		db, err := openSQL(ctx, "sqlite", cfg.SQLitePath+"?_pragma=busy_timeout=5000&_pragma=journal_mode=WAL")
		if err != nil {
			return nil, err
		}
		be.closers = append(be.closers, db.Close)
		log.Info().Str("path", cfg.SQLitePath).Msg("opened sqlite")

		if be.blobs, err = newSQLStore(ctx, db, storage.DialectSQLite); err != nil {
			return nil, err
		}
	case config.StoreMemory:
		mem := storage.NewMemoryStore()
		be.blobs = mem
		if be.idem == nil {
			be.idem = mem
		}
	}

	if be.idem == nil {
		be.idem = storage.NewMemoryStore()
	}
	return be, nil
}

func openSQL(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect storage.Dialect) (*storage.SQLStore, error) {
	store, err := storage.NewSQLStore(db, dialect)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func workerLoop(id int, queue <-chan domain.LedgerEvent, publisher port.EventPublisher, m *metrics.LedgerMetrics) {
	for event := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

		if err := publisher.Publish(ctx, event); err != nil {
			m.RecordEventPublished(string(event.Type), false)
			log.Error().Err(err).Int("worker", id).Str("event_id", event.ID).Str("event_type", string(event.Type)).Msg("failed to publish event")
		} else {
			m.RecordEventPublished(string(event.Type), true)
			log.Debug().Int("worker", id).Str("event_id", event.ID).Msg("published event")
		}

		cancel()
	}
}
