// Package passlock provides the cross-process lock that keeps merge passes
// from overlapping when several merger instances share one event store.
package passlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"callmerge/pkg/utils"
)

const (
	DefaultKey = "callmerge:pass"
	DefaultTTL = 5 * time.Minute
)

var ErrNotHeld = errors.New("passlock: lock no longer held")

// Client is the subset of go-redis the lock needs.
type Client interface {
	redis.Cmdable
	redis.Scripter
}

// Redis implements merge.Locker with SET NX PX and a token-checked release.
// Each acquisition gets a fresh token, so a holder whose TTL lapsed cannot
// release a lock now owned by someone else.
type Redis struct {
	client Client
	key    string
	ttl    time.Duration
	token  func() string
}

func NewRedis(client Client, key string, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("passlock: redis client is nil")
	}
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, key: key, ttl: ttl, token: uuid.NewString}, nil
}

func (l *Redis) Key() string { return l.key }

func (l *Redis) TTL() time.Duration { return l.ttl }

func (l *Redis) TryAcquire(ctx context.Context) (func(context.Context) error, bool, error) {
	token := l.token()
	ok, err := utils.AcquireLock(ctx, l.client, l.key, token, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("passlock: acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		released, err := utils.ReleaseLock(ctx, l.client, l.key, token)
		if err != nil {
			return fmt.Errorf("passlock: release %s: %w", l.key, err)
		}
		if !released {
			return ErrNotHeld
		}
		return nil
	}
	return release, true, nil
}
