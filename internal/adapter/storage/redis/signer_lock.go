package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"custody-engine/pkg/apperror"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// refreshScript extends the lease only if it still holds our token.
var refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// SignerLock implements ports.SignerLocker across processes. Each lock is a
// SET NX PX key holding a random token; the holder refreshes the lease until
// it unlocks.
type SignerLock struct {
	client       goredis.UniversalClient
	prefix       string
	lease        time.Duration
	pollInterval time.Duration
	log          zerolog.Logger
}

// NewSignerLock creates a SignerLock. lease bounds how long a crashed holder
// can block others.
func NewSignerLock(client goredis.UniversalClient, lease, pollInterval time.Duration, log zerolog.Logger) *SignerLock {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	return &SignerLock{
		client:       client,
		prefix:       "signer-lock:",
		lease:        lease,
		pollInterval: pollInterval,
		log:          log,
	}
}

// Lock polls until the key is acquired or ctx ends (SYS_002).
func (l *SignerLock) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + strings.ToLower(key)
	token := uuid.NewString()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.lease).Result()
		if err != nil && ctx.Err() == nil {
			return nil, apperror.ErrLockTimeout(fmt.Errorf("redis signer lock: %w", err))
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, apperror.ErrLockTimeout(fmt.Errorf("signer %s busy: %w", key, ctx.Err()))
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(redisKey, token, stop, done)

	return func() {
		close(stop)
		<-done
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
			l.log.Warn().Err(err).Str("lock", redisKey).Msg("signer lock release failed, lease will expire")
		}
	}, nil
}

func (l *SignerLock) keepAlive(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.lease/3)
			n, err := refreshScript.Run(ctx, l.client, []string{redisKey}, token, l.lease.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.log.Warn().Err(err).Str("lock", redisKey).Msg("signer lock refresh failed")
				continue
			}
			if n == 0 {
				l.log.Error().Str("lock", redisKey).Msg("signer lock lost before release")
				return
			}
		}
	}
}
