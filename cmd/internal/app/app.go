// Package app wires the Tuma realtime server runtime: config, logging,
// persistence backends, the realtime core, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tuma/cmd/internal/auth"
	"tuma/cmd/internal/notify"
	"tuma/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Closer is a small app-level lifecycle abstraction for backends that need a
// graceful close.
type Closer interface {
	Close(ctx context.Context) error
}

// App owns the server runtime: HTTP wiring plus the realtime core and its
// backends.
type App struct {
	cfg Config
	log Logger

	resources Closer

	dbPool    *pgxpool.Pool
	dbEnabled bool
	rdb       *redis.Client

	core       *realtime.Core
	gw         *realtime.Gateway
	dispatcher notify.Dispatcher
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("TUMA_JWT_SECRET: %w", err)
	}

	ctx := context.Background()

	store, dbPool, dbEnabled, err := newStateStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	backend, rdb, err := newPresenceBackend(ctx, cfg, log)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	dispatcher, dispatcherClose, err := newDispatcher(cfg, log)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}

	core := realtime.NewCore(log, store, backend)
	gw := realtime.NewGateway(log, core, verifier)

	return &App{
		cfg:       cfg,
		log:       log,
		resources: resourceSet{pool: dbPool, rdb: rdb, closeDispatch: dispatcherClose},

		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		rdb:       rdb,

		core:       core,
		gw:         gw,
		dispatcher: dispatcher,
	}, nil
}

// Core exposes the realtime core for event producers embedded in the same
// process.
func (a *App) Core() *realtime.Core { return a.core }

// Dispatcher exposes the out-of-band notification dispatcher.
func (a *App) Dispatcher() notify.Dispatcher { return a.dispatcher }

// Run starts the HTTP server and blocks until context cancellation or a fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.rdb, a.gw)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled, "redis_enabled", a.rdb != nil)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cerr := a.resources.Close(closeCtx); cerr != nil {
		a.log.Error("resources.close.fail", "err", cerr)
	}

	if err != nil {
		a.log.Error("server.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStateStore decides between the Postgres channel-of-record and the
// in-memory dev store.
func newStateStore(ctx context.Context, cfg Config, log Logger) (realtime.StateStore, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return realtime.NewMemoryStateStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	store, err := realtime.NewPostgresStateStore(pool, realtime.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return store, pool, true, nil
}

// newPresenceBackend decides between Redis-backed presence and the in-memory
// dev backend.
func newPresenceBackend(ctx context.Context, cfg Config, log Logger) (realtime.PresenceBackend, *redis.Client, error) {
	if cfg.RedisAddr == "" {
		log.Info("redis.disabled.inmemory_presence")
		return realtime.NewMemoryPresenceBackend(), nil, nil
	}

	rdb, err := NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	backend, err := realtime.NewRedisPresenceBackend(rdb)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}

	log.Info("redis.enabled.presence", "addr", cfg.RedisAddr)
	return backend, rdb, nil
}

// newDispatcher decides between broker-backed dispatch and the in-process
// worker pool.
func newDispatcher(cfg Config, log Logger) (notify.Dispatcher, func() error, error) {
	if cfg.AMQPURL == "" {
		log.Info("amqp.disabled.worker_dispatch")
		d := notify.NewWorkerDispatcher(log, devSender(log),
			notify.WithStatusFunc(func(taskID, status string) {
				log.Info("notify.status", "task_id", taskID, "status", status)
			}),
		)
		return d, func() error { d.Close(); return nil }, nil
	}

	d, err := notify.NewQueueDispatcher(log, cfg.AMQPURL, notify.WithQueueName(cfg.NotifyQueue))
	if err != nil {
		return nil, nil, err
	}

	log.Info("amqp.enabled.queue_dispatch", "queue", cfg.NotifyQueue)
	return d, d.Close, nil
}

// devSender logs the task instead of sending. Real channel senders live in the
// queue consumer.
func devSender(log Logger) notify.Sender {
	return notify.SenderFunc(func(_ context.Context, task notify.Task) error {
		log.Info("notify.dev.send", "task_id", task.ID, "kind", task.Kind, "user_id", task.UserID)
		return nil
	})
}

type resourceSet struct {
	pool          *pgxpool.Pool
	rdb           *redis.Client
	closeDispatch func() error
}

func (s resourceSet) Close(_ context.Context) error {
	var firstErr error
	if s.closeDispatch != nil {
		if err := s.closeDispatch(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return firstErr
}
