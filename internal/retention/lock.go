package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SweepLock elects a single sweep runner across instances. Acquire returns
// ok=false when another instance holds the lock; release is safe to call
// even after the lease lapsed.
type SweepLock interface {
	Acquire(ctx context.Context) (release func(context.Context), ok bool, err error)
}

const sweepLockKey = "custos:retention:sweep-lock"

// releaseScript deletes the lock only when this holder still owns it, so a
// slow sweep that outlived its lease cannot release a successor's lock.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// RedisSweepLock is the production lock for multi-instance deployments.
type RedisSweepLock struct {
	client *redis.Client
	lease  time.Duration
}

func NewRedisSweepLock(client *redis.Client, lease time.Duration) *RedisSweepLock {
	return &RedisSweepLock{client: client, lease: lease}
}

func (l *RedisSweepLock) Acquire(ctx context.Context) (func(context.Context), bool, error) {
	holder := uuid.NewString()
	ok, err := l.client.SetNX(ctx, sweepLockKey, holder, l.lease).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) {
		releaseScript.Run(ctx, l.client, []string{sweepLockKey}, holder)
	}
	return release, true, nil
}

// LocalSweepLock always grants the lock. Used by single-instance and test
// setups without Redis.
type LocalSweepLock struct{}

func (LocalSweepLock) Acquire(context.Context) (func(context.Context), bool, error) {
	return func(context.Context) {}, true, nil
}
