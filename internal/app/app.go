package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/collabboard/collabboard-server/internal/auth"
	"github.com/collabboard/collabboard-server/internal/bus"
	"github.com/collabboard/collabboard-server/internal/config"
	"github.com/collabboard/collabboard-server/internal/core"
	"github.com/collabboard/collabboard-server/internal/service/boards"
	"github.com/collabboard/collabboard-server/internal/store/postgres"
	"github.com/collabboard/collabboard-server/internal/store/sqlite"
	"github.com/collabboard/collabboard-server/internal/store/sqlstore"
	"github.com/collabboard/collabboard-server/internal/taskqueue"
	transporthttp "github.com/collabboard/collabboard-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	queue           *taskqueue.Queue
	store           *sqlstore.Store
	redis           *redis.Client
	subscriber      *bus.Subscriber
	log             *zerolog.Logger
}

// OpenStore connects to the configured database and applies the schema.
func OpenStore(ctx context.Context, cfg *config.Config) (*sqlstore.Store, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DatabaseURL)
	case config.DriverSQLite, "":
		return sqlite.New(cfg.DatabasePath)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.DatabaseDriver).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.TokenTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	// Tasks get a context of their own so shutdown can drain them.
	queue := taskqueue.New(context.Background(), cfg.PersistWorkers, cfg.PersistQueueSize, logger)
	hub := core.NewHub(st, core.Config{
		PersistDebounce:  cfg.PersistDebounce,
		ActivityDebounce: cfg.ActivityDebounce,
		StorageTimeout:   cfg.StorageTimeout,
		Queue:            queue,
	}, logger)

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		queue:           queue,
		store:           st,
		log:             logger,
	}

	var publisher bus.Publisher = bus.NewLocal(hub)
	if cfg.RedisURL != "" {
		client, err := bus.Connect(ctx, cfg.RedisURL)
		if err != nil {
			queue.Close()
			_ = st.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		a.redis = client
		redisBus := bus.NewRedis(client, cfg.RedisChannel, hub)
		a.subscriber = bus.NewSubscriber(client, cfg.RedisChannel, redisBus.Origin(), hub, logger)
		publisher = redisBus
		logger.Info().Str("channel", cfg.RedisChannel).Msg("redis notification bus enabled")
	}

	boardService := boards.New(st, publisher, logger)
	a.server = transporthttp.NewServer(hub, authService, st, boardService, cfg, logger)
	a.server.Addr = cfg.Addr

	return a, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// error. The hub outlives the HTTP server so pending writes are flushed.
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	var workers conc.WaitGroup
	workers.Go(func() { a.hub.Run(hubCtx) })
	if a.subscriber != nil {
		workers.Go(func() {
			if err := a.subscriber.Run(hubCtx, nil); err != nil {
				a.log.Error().Err(err).Msg("notification subscriber stopped")
			}
		})
	}

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	var runErr error
	select {
	case runErr = <-serverErr:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			runErr = err
		} else {
			runErr = <-serverErr
		}
	}

	stopHub()
	workers.Wait()
	a.cleanup()
	return runErr
}

// cleanup drains the persistence queue, then closes connections.
func (a *App) cleanup() {
	a.queue.Close()
	a.log.Info().Msg("persistence queue drained")

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
