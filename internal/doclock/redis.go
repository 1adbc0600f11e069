package doclock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"qanun/api/internal/util"

	"github.com/redis/go-redis/v9"
)

const (
	defaultLeaseTTL = 30 * time.Second
	retryInterval   = 50 * time.Millisecond
)

// releaseScript deletes the lease only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only if we still own it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a lease lock shared by every API replica pointed at the same
// Redis. While the unlock func is pending the lease is extended every third
// of its TTL, so a slow edit keeps it. A holder that dies stops renewing and
// its lease expires after at most one TTL.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to redisURL and checks it is reachable.
func NewRedis(redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisWithClient(client, ttl), nil
}

func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &Redis{client: client, prefix: "doclock:", ttl: ttl}
}

func (r *Redis) key(documentID string) string {
	return r.prefix + documentID
}

func (r *Redis) Lock(ctx context.Context, documentID string) (func(), error) {
	key := r.key(documentID)
	token := util.NewID("lease")

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire lease %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	go r.renew(key, token, stop)

	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			log.Printf("doclock: release %s: %v", key, err)
		}
	}, nil
}

func (r *Redis) renew(key, token string, stop <-chan struct{}) {
	interval := r.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		owned, err := renewScript.Run(ctx, r.client, []string{key}, token, r.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case errors.Is(err, redis.ErrClosed):
			return
		case err != nil:
			log.Printf("doclock: renew %s: %v", key, err)
		case owned == 0:
			log.Printf("doclock: lease %s lost before release", key)
			return
		}
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
