package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"example.com/scheduling/internal/api"
	"example.com/scheduling/internal/auth"
	"example.com/scheduling/internal/config"
	"example.com/scheduling/internal/domain"
	"example.com/scheduling/internal/lock"
	"example.com/scheduling/internal/logger"
	"example.com/scheduling/internal/outbox"
	"example.com/scheduling/internal/persistence/memory"
	"example.com/scheduling/internal/persistence/postgres"
	"example.com/scheduling/internal/persistence/sqlite"
	httptransport "example.com/scheduling/internal/transport/http"
)

// backend bundles the selected store adapters with their background work.
type backend struct {
	events  domain.EventStore
	streaks domain.StreakStore
	history domain.HistoryStore
	pool    *pgxpool.Pool
	close   func()
}

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", "driver", cfg.StoreDriver, "error", err)
	}
	defer store.close()

	locker, closeLocker, err := openLocker(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
	}
	defer closeLocker()

	engine := domain.NewEngine(store.events, store.streaks, store.history, locker,
		domain.WithLogger(log.With("component", "engine")),
		domain.WithDefaultWeeklyGoal(cfg.DefaultWeeklyGoal),
	)

	handler := api.NewHandler(engine, cfg.StreakWindowDays, log.With("component", "api"))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	apiCfg := httptransport.DefaultServerConfig(cfg.HTTPAddress)
	server := httptransport.NewServer(apiCfg, authMiddleware.Wrap(requestLogger(log, cors(mux))))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httptransport.Serve(gctx, server, apiCfg.ShutdownTimeout, log)
	})

	if store.pool != nil {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, outbox.WithProducerLogger(log.With("component", "kafka")))
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher := outbox.NewDispatcher(store.pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
			outbox.WithDispatcherLogger(log.With("component", "outbox")))
		g.Go(func() error {
			dispatcher.Start(gctx)
			return nil
		})
	}

	log.Info("scheduling-service started", "address", cfg.HTTPAddress, "store", cfg.StoreDriver, "distributed_lock", cfg.RedisAddr != "")
	if err := g.Wait(); err != nil {
		log.Error("scheduling-service stopped with error", "error", err)
		return
	}
	log.Info("scheduling-service stopped")
}

func openBackend(ctx context.Context, cfg config.Config, log *logger.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		repo := postgres.NewRepository(pool)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := repo.Ping(pingCtx); err != nil {
			pool.Close()
			return nil, err
		}
		return &backend{events: repo.Events(), streaks: repo.Streaks(), history: repo.History(), pool: pool, close: pool.Close}, nil
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				log.Warn("sqlite close", "error", err)
			}
		}
		return &backend{events: db.Events(), streaks: db.Streaks(), history: db.History(), close: closeDB}, nil
	case config.DriverMemory:
		store := memory.NewStore()
		return &backend{events: store.Events(), streaks: store.Streaks(), history: store.History(), close: func() {}}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// openLocker picks the Redis lock when REDIS_ADDR is set so several API
// replicas serialise on the same keys; otherwise an in-process mutex.
func openLocker(ctx context.Context, cfg config.Config, log *logger.Logger) (domain.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewKeyedMutex(), func() {}, nil
	}
	rdb, err := lock.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	locker := lock.NewRedisLocker(rdb, lock.WithTTL(cfg.LockTTL), lock.WithLogger(log.With("component", "lock")))
	return locker, func() { _ = rdb.Close() }, nil
}

// cors allows the local web client during development.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "http://localhost:5173")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func requestLogger(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
