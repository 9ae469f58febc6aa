package onboarding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Guard admits at most one saga run per uid at a time.
type Guard interface {
	// Acquire returns ErrOnboardingInProgress when uid already holds the guard.
	Acquire(ctx context.Context, uid string) (release func(), err error)
}

// MemoryGuard is a process-local Guard.
type MemoryGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{inFlight: make(map[string]struct{})}
}

func (g *MemoryGuard) Acquire(ctx context.Context, uid string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[uid]; busy {
		return nil, ErrOnboardingInProgress
	}
	g.inFlight[uid] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, uid)
			g.mu.Unlock()
		})
	}, nil
}

var releaseGuardScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares the guard across service replicas. The lock expires
// after ttl so a crashed holder cannot block the user forever.
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisGuard(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisGuard {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "pool:onboarding"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisGuard{client: client, prefix: trimmedPrefix, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, uid string) (func(), error) {
	key := fmt.Sprintf("%s:%s", g.prefix, uid)
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire onboarding lock: %w", err)
	}
	if !ok {
		return nil, ErrOnboardingInProgress
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseGuardScript.Run(releaseCtx, g.client, []string{key}, token).Err(); err != nil {
				log.Warn().Err(err).Str("uid", uid).Msg("failed to release onboarding lock; it will expire")
			}
		})
	}, nil
}
