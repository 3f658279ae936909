package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirinyoku/seatlock/internal/config"
	"github.com/kirinyoku/seatlock/internal/postgres"
	"github.com/kirinyoku/seatlock/internal/realtime"
	"github.com/kirinyoku/seatlock/internal/redis"
	postgresrepo "github.com/kirinyoku/seatlock/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/seatlock/internal/repository/redis"
	"github.com/kirinyoku/seatlock/internal/service"
	"github.com/kirinyoku/seatlock/internal/service/lock"
	"github.com/kirinyoku/seatlock/internal/service/sweeper"
	httpgin "github.com/kirinyoku/seatlock/internal/transport/http/gin"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	services   *service.Services
	feed       *redisrepo.LockFeed
	hub        *realtime.Broadcaster
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redis.New(context.Background(), redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	feed := redisrepo.NewLockFeed(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "ip", 30, time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	// Initialize services
	services := service.NewServices(store.Locks(), store.Sales(), cache, feed, logger, service.Config{
		Lock: lock.Config{
			MinTTL:     cfg.Lock.MinTTL,
			MaxTTL:     cfg.Lock.MaxTTL,
			DefaultTTL: cfg.Lock.DefaultTTL,
			StatusTTL:  cfg.Lock.StatusTTL,
		},
		Sweeper: sweeper.Config{Interval: cfg.Sweeper.Interval},
	})

	// Local fan-out hub bridged from the redis change feed
	hub := realtime.NewBroadcaster()

	// Initialize Gin router
	router := httpgin.NewRouter(services, idempotencyStore, limiter, hub, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		services: services,
		feed:     feed,
		hub:      hub,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Bridge the cross-process change feed into the local hub
	g.Go(func() error {
		if err := realtime.Bridge(gCtx, a.feed, a.hub); err != nil && err != context.Canceled {
			return fmt.Errorf("feed bridge stopped: %w", err)
		}
		return nil
	})

	// Background reclamation of expired locks
	g.Go(func() error {
		if err := a.services.Sweeper.Run(gCtx); err != nil && err != context.Canceled {
			return fmt.Errorf("sweeper stopped: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
