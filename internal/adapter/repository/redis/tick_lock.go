package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	rsredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/simaogato/wealthflow-automation/internal/logging"
)

const tickLockKey = "wealthflow:automation:tick"

// TickLock lets one scheduler instance run a tick at a time
type TickLock struct {
	redsync *redsync.Redsync
	expiry  time.Duration
	logger  *zap.Logger
}

// NewTickLock creates a tick lock. expiry should exceed the longest tick.
func NewTickLock(client goredis.UniversalClient, expiry time.Duration, logger *zap.Logger) *TickLock {
	return &TickLock{
		redsync: redsync.New(rsredis.NewPool(client)),
		expiry:  expiry,
		logger:  logging.OrNop(logger).Named("tick_lock"),
	}
}

// TryLock makes a single attempt at the lock
func (l *TickLock) TryLock(ctx context.Context) (func(), bool, error) {
	mutex := l.redsync.NewMutex(
		tickLockKey,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if errors.Is(err, redsync.ErrFailed) || strings.Contains(err.Error(), "lock already taken") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to attempt tick lock: %w", err)
	}

	release := func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			l.logger.Warn("failed to release tick lock", zap.Bool("ok", ok), zap.Error(err))
		}
	}

	return release, true, nil
}
