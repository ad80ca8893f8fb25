// Package runlock keeps two extraction runs from driving the portal at the
// same time, even from different machines.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultKey = "iptu:run-lock"

// ErrHeld is returned when another run owns the lock.
var ErrHeld = errors.New("another run holds the lock")

// ErrLost is returned when the lock expired or was taken over.
var ErrLost = errors.New("run lock lost")

var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type Config struct {
	Url        string `json:"url"`
	Key        string `json:"lock_key"`
	TTLSeconds int    `json:"lock_ttl_seconds"`
}

type Lock struct {
	rdb   redis.UniversalClient
	key   string
	token string
	ttl   time.Duration
}

// NewClient connects to the redis at cfg.Url.
func NewClient(cfg Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.Url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

// Acquire takes the lock or fails with ErrHeld.
func Acquire(ctx context.Context, rdb redis.UniversalClient, cfg Config) (*Lock, error) {
	key := cfg.Key
	if key == "" {
		key = DefaultKey
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	token := uuid.NewString()
	ok, err := rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		holder, _ := rdb.Get(ctx, key).Result()
		return nil, fmt.Errorf("%w: %s is held by %s", ErrHeld, key, holder)
	}
	return &Lock{rdb: rdb, key: key, token: token, ttl: ttl}, nil
}

func (l *Lock) Token() string {
	return l.token
}

// Refresh extends the lock by its ttl, it fails with ErrLost if the lock is
// no longer ours.
func (l *Lock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

func (l *Lock) TTL() time.Duration {
	return l.ttl
}

// KeepAlive refreshes the lock every interval (a third of the ttl when
// interval is not positive) until ctx ends or stop is called. The returned
// context is cancelled with a cause wrapping ErrLost as soon as a refresh
// fails.
func (l *Lock) KeepAlive(ctx context.Context, interval time.Duration) (held context.Context, stop context.CancelFunc) {
	if interval <= 0 {
		interval = l.ttl / 3
	}
	held, cancel := context.WithCancelCause(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-held.Done():
				return
			case <-ticker.C:
			}
			err := l.Refresh(held)
			if err == nil {
				continue
			}
			if held.Err() != nil {
				return
			}
			if !errors.Is(err, ErrLost) {
				err = fmt.Errorf("%w: %w", ErrLost, err)
			}
			cancel(err)
			return
		}
	}()
	return held, func() { cancel(nil) }
}

// Release drops the lock if it is still ours.
func (l *Lock) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
