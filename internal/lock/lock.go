// Package lock provides a best-effort mutual exclusion lock shared between
// processes through redis, falling back to a process-local flag when redis
// is not configured or unreachable.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 10 * time.Minute

// only the holder of the token may delete the key
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

var lockAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agora_lock_attempts_total",
	Help: "Lock acquisition attempts by lock name, backend, and outcome",
}, []string{"name", "backend", "outcome"})

// ErrHeld is returned when another holder has the lock.
var ErrHeld = errors.New("lock is held elsewhere")

// Lock is one named lock. The zero TTL means DefaultTTL.
type Lock struct {
	rdb    *redis.Client
	name   string
	key    string
	ttl    time.Duration
	logger *slog.Logger

	lk    sync.Mutex
	local bool
}

// New builds a lock. rdb may be nil, in which case only the local flag is used.
func New(rdb *redis.Client, name string, ttl time.Duration, logger *slog.Logger) *Lock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lock{
		rdb:    rdb,
		name:   name,
		key:    "agora:lock:" + name,
		ttl:    ttl,
		logger: logger.With("lock", name),
	}
}

// Lease is a held lock. Release must be called exactly once.
type Lease struct {
	l     *Lock
	token string
	local bool
}

// TryAcquire takes the lock without waiting. It returns ErrHeld if someone
// else holds it.
func (l *Lock) TryAcquire(ctx context.Context) (*Lease, error) {
	if l.rdb != nil {
		token := uuid.NewString()
		ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
		if err == nil {
			if !ok {
				lockAttempts.WithLabelValues(l.name, "redis", "held").Inc()
				return nil, ErrHeld
			}
			lockAttempts.WithLabelValues(l.name, "redis", "acquired").Inc()
			return &Lease{l: l, token: token}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.logger.Warn("redis lock unavailable, using process-local lock", "err", err)
	}

	l.lk.Lock()
	defer l.lk.Unlock()
	if l.local {
		lockAttempts.WithLabelValues(l.name, "local", "held").Inc()
		return nil, ErrHeld
	}
	l.local = true
	lockAttempts.WithLabelValues(l.name, "local", "acquired").Inc()
	return &Lease{l: l, local: true}, nil
}

// Release gives the lock back. A redis lease that already expired, or was
// taken over by another holder after expiry, is left alone.
func (ls *Lease) Release(ctx context.Context) error {
	if ls.local {
		ls.l.lk.Lock()
		ls.l.local = false
		ls.l.lk.Unlock()
		return nil
	}
	n, err := releaseScript.Run(ctx, ls.l.rdb, []string{ls.l.key}, ls.token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		ls.l.logger.Warn("lock expired before release")
	}
	return nil
}
