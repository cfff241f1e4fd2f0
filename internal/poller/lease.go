package poller

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paymail/internal/config"
	"go.uber.org/fx"
)

const leaseReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Lease grants one poll loop at a time ownership of the ledger.
type Lease interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

var ErrLeaseUnavailable = errors.New("poll_lease_unavailable")

type RedisLease struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisLease(client *redis.Client) *RedisLease {
	if client == nil {
		return nil
	}
	return &RedisLease{
		client: client,
		script: redis.NewScript(leaseReleaseScript),
	}
}

// ProvideLease returns nil when no redis address is configured; the loop
// then runs without cross-process exclusion. The client closes on stop.
func ProvideLease(lc fx.Lifecycle, cfg config.Config) Lease {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewRedisLease(client)
}

func (l *RedisLease) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lease client not configured")
	}
	if key == "" {
		return "", false, errors.New("lease key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lease ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *RedisLease) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}
