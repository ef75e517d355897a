package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maheshrc27/postpilot/internal/watchdog"
)

const WatchdogLeaseKey = "postpilot:watchdog:pass"

// Lease keeps two replicas from running the same periodic pass. It only
// spans one pass and never guards row state.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type RedisLease struct {
	rdb redis.UniversalClient
}

func NewRedisLease(rdb redis.UniversalClient) *RedisLease {
	return &RedisLease{rdb: rdb}
}

func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}
	release := func() {
		if err := releaseScript.Run(context.Background(), l.rdb, []string{key}, token).Err(); err != nil {
			slog.Warn("release lease", "key", key, "err", err)
		}
	}
	return release, true, nil
}

// LocalLease is the single-process Lease used when Redis is not configured.
type LocalLease struct {
	mu      sync.Mutex
	holders map[string]time.Time
	now     func() time.Time
}

func NewLocalLease() *LocalLease {
	return &LocalLease{holders: map[string]time.Time{}, now: time.Now}
}

func (l *LocalLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if until, held := l.holders[key]; held && now.Before(until) {
		return func() {}, false, nil
	}
	until := now.Add(ttl)
	l.holders[key] = until
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.holders[key].Equal(until) {
			delete(l.holders, key)
		}
	}, true, nil
}

type WatchdogJob struct {
	w     *watchdog.Watchdog
	lease Lease
	ttl   time.Duration
}

func NewWatchdogJob(w *watchdog.Watchdog, lease Lease, ttl time.Duration) *WatchdogJob {
	return &WatchdogJob{w: w, lease: lease, ttl: ttl}
}

// Run performs one pass if this replica holds the lease. The pass is cut off
// when the lease would expire.
func (j *WatchdogJob) Run(ctx context.Context) (watchdog.Report, bool) {
	release, ok, err := j.lease.Acquire(ctx, WatchdogLeaseKey, j.ttl)
	if err != nil {
		slog.Error("acquire watchdog lease", "err", err)
		return watchdog.Report{}, false
	}
	if !ok {
		slog.Info("watchdog pass held by another replica, skipped")
		return watchdog.Report{}, false
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, j.ttl)
	defer cancel()
	return j.w.RunPass(ctx), true
}
