package lease

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var ErrLeaseHeld = errors.New("lease is held by another worker")

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Leaser grants short-lived exclusive ownership of a key. Acquire returns
// ErrLeaseHeld when someone else owns it; the release func is always safe to call.
type Leaser interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), error)
}

func ProvisionKey(orderID uint64) string {
	return fmt.Sprintf("esim:order:%d:provision", orderID)
}

func NotifyKey(orderID uint64) string {
	return fmt.Sprintf("esim:order:%d:notify", orderID)
}

type RedisLeaser struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisLeaser(client *redis.Client) *RedisLeaser {
	return &RedisLeaser{
		client: client,
		script: redis.NewScript(releaseScript),
	}
}

func (l *RedisLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), error) {
	if err := validate(key, ttl); err != nil {
		return nil, err
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLeaseHeld
	}

	return func(ctx context.Context) {
		_ = l.script.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}

// LocalLeaser keeps leases in process memory. It is used when no Redis is
// configured and only protects against concurrent work inside one process.
type LocalLeaser struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]localLease
}

type localLease struct {
	token     string
	expiresAt time.Time
}

func NewLocalLeaser() *LocalLeaser {
	return &LocalLeaser{
		now:    time.Now,
		leases: make(map[string]localLease),
	}
}

func (l *LocalLeaser) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context), error) {
	if err := validate(key, ttl); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if current, ok := l.leases[key]; ok && now.Before(current.expiresAt) {
		return nil, ErrLeaseHeld
	}

	token := uuid.NewString()
	l.leases[key] = localLease{token: token, expiresAt: now.Add(ttl)}

	return func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if current, ok := l.leases[key]; ok && current.token == token {
			delete(l.leases, key)
		}
	}, nil
}

func validate(key string, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("lease key is empty")
	}
	if ttl <= 0 {
		return errors.New("lease ttl must be positive")
	}
	return nil
}

// Connect accepts either a redis:// URL or a bare host:port.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: addr})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
