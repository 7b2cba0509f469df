package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/parimutuel/internal/account"
	"github.com/atmx/parimutuel/internal/api"
	"github.com/atmx/parimutuel/internal/config"
	"github.com/atmx/parimutuel/internal/lock"
	"github.com/atmx/parimutuel/internal/market"
	"github.com/atmx/parimutuel/internal/metrics"
	"github.com/atmx/parimutuel/internal/query"
	"github.com/atmx/parimutuel/internal/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var (
		st      store.Store
		rdb     *redis.Client
		cleanup []func()
	)
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("redis connection failed", "err", err)
			os.Exit(1)
		}
	}

	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}

	case config.BackendRedis:
		st = store.NewRedisStore(rdb, "")
		slog.Info("using Redis ledger")

	case config.BackendFile:
		fs, err := store.NewFileStore(cfg.LedgerFile)
		if err != nil {
			slog.Error("ledger file unusable", "path", cfg.LedgerFile, "err", err)
			os.Exit(1)
		}
		st = fs
		slog.Info("using file ledger", "path", fs.Path())

	default:
		slog.Warn("no ledger backend configured, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Entity locks ---
	var locker lock.Locker
	if rdb != nil {
		// Locks are not extended while held: LOCK_TTL must outlast the
		// slowest resolution.
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockRetries, cfg.LockTimeout/time.Duration(cfg.LockRetries+1))
		slog.Info("using Redis entity locks", "retries", cfg.LockRetries, "ttl", cfg.LockTTL)
	} else {
		locker = lock.NewMemoryLocker(cfg.LockTimeout)
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	// --- Services ---
	records := store.NewRecords(st)
	accounts := account.NewManager(records, locker, cfg.Grant)
	engine, err := market.NewEngine(records, accounts, locker, cfg.Seed, wsHub)
	if err != nil {
		slog.Error("engine setup failed", "err", err)
		os.Exit(1)
	}
	handler := api.NewHandler(accounts, engine, query.NewService(records))

	if cfg.SeedDefaultMarket {
		if m, err := engine.EnsureDefaultMarket(ctx); err != nil {
			slog.Warn("default market not created", "err", err)
		} else if m != nil {
			slog.Info("default market created", "market", m.ID)
		}
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"parimutuel","backend":%q}`, cfg.LedgerBackend)
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for bet and resolution events.
		r.Get("/ws", wsHub.HandleWS)
		handler.Register(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("parimutuel listening", "port", cfg.Port, "backend", cfg.LedgerBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down parimutuel...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("parimutuel stopped")
}
