package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Token-checked scripts: a key is only touched by the holder of its token
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Redis is a lease manager shared across processes
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis-backed lease manager
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(ttl)
	ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{Key: key, Token: token, Deadline: deadline}, nil
}

func (r *Redis) Renew(ctx context.Context, l *Lease, ttl time.Duration) error {
	deadline := time.Now().Add(ttl)
	n, err := renewScript.Run(ctx, r.client, []string{r.prefix + l.Key}, l.Token, ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("renew lease %s: %w", l.Key, err)
	}
	if n == 0 {
		return ErrLost
	}
	l.Deadline = deadline
	return nil
}

func (r *Redis) Release(ctx context.Context, l *Lease) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.prefix + l.Key}, l.Token).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", l.Key, err)
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

// Close closes the underlying client
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Manager = (*Redis)(nil)
