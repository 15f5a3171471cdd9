// Package redislock provides the optional cross-process per-device lock
// the dispatcher uses when more than one dispatcher instance might be
// scheduled against the same device set (spec.md §5). Grounded on the
// connection-pooling style of shivamshaw23-Hintro's pkg/cache package,
// adapted here from a connection pool to a SET NX-based mutual-exclusion
// lock.
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker guards device processing with a short-lived Redis key, so two
// dispatcher instances never run the pipeline for the same device at once.
type Locker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New builds a Locker. addr is a host:port Redis address; ttl bounds how
// long a lock is held before it expires on its own, in case a worker dies
// mid-run without releasing.
func New(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redislock: ping failed: %w", err)
	}

	return &Locker{client: client, prefix: "trajectorycore:devicelock:", ttl: ttl}, nil
}

// Close releases the underlying Redis connection pool.
func (l *Locker) Close() error {
	return l.client.Close()
}

// TryLock attempts to acquire deviceID's lock, returning ok=false without
// error if another instance currently holds it. release must be called
// exactly once the caller is done, whether or not ok is true (it is a
// no-op when ok is false).
func (l *Locker) TryLock(ctx context.Context, deviceID string) (release func(), ok bool, err error) {
	key := l.prefix + deviceID
	token := uuid.New().String()

	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("redislock: acquiring %s: %w", deviceID, err)
	}
	if !acquired {
		return func() {}, false, nil
	}

	return func() {
		l.releaseIfOwned(context.Background(), key, token)
	}, true, nil
}

// releaseTokenScript deletes key only if its value still matches token,
// so a worker that overran its TTL never deletes a lock someone else has
// since acquired.
const releaseTokenScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

func (l *Locker) releaseIfOwned(ctx context.Context, key, token string) {
	l.client.Eval(ctx, releaseTokenScript, []string{key}, token)
}
