// internal/engine/alert-dispatcher/suppression.go
package alertdispatcher

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"
	"github.com/redis/go-redis/v9"
)

const lockStripes = 64

// MemorySuppressionStore keeps suppression entries in a layered ccache,
// keyed by user and then property. Reservations are serialised per user
// stripe, so users never contend with each other on one lock.
type MemorySuppressionStore struct {
	cache *ccache.LayeredCache[time.Time]
	locks [lockStripes]sync.Mutex
	now   func() time.Time
}

func NewMemorySuppressionStore(maxSize int64) *MemorySuppressionStore {
	return &MemorySuppressionStore{
		cache: ccache.Layered(ccache.Configure[time.Time]().MaxSize(maxSize)),
		now:   time.Now,
	}
}

func (s *MemorySuppressionStore) Reserve(ctx context.Context, userID, propertyID string, window time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	mu := &s.locks[stripe(userID)]
	mu.Lock()
	defer mu.Unlock()

	if item := s.cache.Get(userID, propertyID); item != nil && !item.Expired() {
		return false, nil
	}
	s.cache.Set(userID, propertyID, s.now(), window)
	return true, nil
}

func (s *MemorySuppressionStore) Release(_ context.Context, userID, propertyID string) error {
	mu := &s.locks[stripe(userID)]
	mu.Lock()
	defer mu.Unlock()

	s.cache.Delete(userID, propertyID)
	return nil
}

// Stop ends the cache's background worker.
func (s *MemorySuppressionStore) Stop() {
	s.cache.Stop()
}

func stripe(userID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return h.Sum32() % lockStripes
}

// RedisSuppressionStore shares suppression state between engine replicas.
type RedisSuppressionStore struct {
	client *redis.Client
	prefix string
}

func NewRedisSuppressionStore(client *redis.Client, prefix string) *RedisSuppressionStore {
	if prefix == "" {
		prefix = "alerts:suppress"
	}
	return &RedisSuppressionStore{client: client, prefix: prefix}
}

func (s *RedisSuppressionStore) key(userID, propertyID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, userID, propertyID)
}

func (s *RedisSuppressionStore) Reserve(ctx context.Context, userID, propertyID string, window time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(userID, propertyID), time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, fmt.Errorf("redis reserve: %w", err)
	}
	return ok, nil
}

func (s *RedisSuppressionStore) Release(ctx context.Context, userID, propertyID string) error {
	if err := s.client.Del(ctx, s.key(userID, propertyID)).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}
