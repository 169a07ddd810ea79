package lease

import (
	"context"
	"errors"
	"time"

	"sealreg/internal/domain"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sealreg:lease:"

// Redis hands out short best-effort leases. A lease that cannot be obtained
// reports domain.ErrLeaseHeld; callers decide whether to proceed.
type Redis struct {
	client *redis.Client
	locker *redislock.Client
	ttl    time.Duration
}

func NewRedis(addr, password string, db int, ttl time.Duration) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: client, locker: redislock.New(client), ttl: ttl}, nil
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	lock, err := r.locker.Obtain(ctx, keyPrefix+key, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, domain.ErrLeaseHeld
	}
	if err != nil {
		return nil, err
	}
	return func() {
		// Release with a fresh context so a cancelled request still frees the key.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lock.Release(ctx)
	}, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
