package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/source-vetting/internal/config"
)

var (
	// ErrHeld is returned when another holder owns an unexpired lease on the key
	ErrHeld = errors.New("lease held by another worker")
	// ErrLost is returned when a lease expired or was taken over before release or renewal
	ErrLost = errors.New("lease lost")
)

// Lease is an exclusive, expiring claim on a key
type Lease struct {
	Key      string
	Token    string
	Deadline time.Time
}

// Manager grants per-key leases. Only the token holder may release or renew a lease,
// and an expired lease can be acquired by anyone.
type Manager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
	Renew(ctx context.Context, l *Lease, ttl time.Duration) error
	Release(ctx context.Context, l *Lease) error
}

// New builds the lease manager selected by config
func New(cfg config.LeaseConfig) (Manager, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedis(client, cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown lease backend %q", cfg.Backend)
	}
}

// WithLease runs fn while holding the lease on key
func WithLease(ctx context.Context, m Manager, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	l, err := m.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithDeadline(ctx, l.Deadline)
	defer cancel()

	fnErr := fn(runCtx)

	// Release with a fresh context so a cancelled caller still frees the key
	releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer releaseCancel()
	if err := m.Release(releaseCtx, l); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}
