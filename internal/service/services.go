package service

import (
	"log/slog"

	"github.com/kirinyoku/seatlock/internal/repository"
	redisrepo "github.com/kirinyoku/seatlock/internal/repository/redis"
	"github.com/kirinyoku/seatlock/internal/service/lock"
	"github.com/kirinyoku/seatlock/internal/service/sale"
	"github.com/kirinyoku/seatlock/internal/service/sweeper"
)

type Services struct {
	Lock    *lock.Service
	Sale    *sale.Service
	Sweeper *sweeper.Sweeper
}

type Config struct {
	Lock    lock.Config
	Sweeper sweeper.Config
}

func NewServices(
	locks repository.LockStore,
	sales repository.SaleStore,
	cache *redisrepo.Cache,
	feed *redisrepo.LockFeed,
	logger *slog.Logger,
	cfg Config,
) *Services {
	// A nil *Cache must stay a nil interface downstream, otherwise the
	// cache-disabled path is never taken.
	var statusCache lock.StatusCache
	if cache != nil {
		statusCache = cache
	}

	var lockFeed lock.Feed
	if feed != nil {
		lockFeed = feed
	}

	return &Services{
		Lock:    lock.New(locks, statusCache, lockFeed, cfg.Lock),
		Sale:    sale.New(sales, statusCache, lockFeed),
		Sweeper: sweeper.New(locks, logger, cfg.Sweeper),
	}
}
