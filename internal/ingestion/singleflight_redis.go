package ingestion

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisSingleFlight collapses concurrent ingestion attempts across multiple
// orchestrator processes, grounded on internal/orchestrator's
// RedisDedupeStore: a SETNX claim under a TTL stands in for the in-memory
// map used by singleFlight within one process.
type RedisSingleFlight struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSingleFlight dials addr and verifies the connection with Ping,
// matching RedisDedupeStore's construction shape.
func NewRedisSingleFlight(addr string, db int, ttl time.Duration) (*RedisSingleFlight, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisSingleFlight{client: c, ttl: ttl}, nil
}

// Claim attempts SETNX(project:hash, jobID); a false return means another
// process already owns the key and owner holds its JobID.
func (s *RedisSingleFlight) Claim(ctx context.Context, project, hash string, id JobID) (owner JobID, claimed bool, err error) {
	key := singleFlightKey(project, hash)
	ok, err := s.client.SetNX(ctx, key, string(id), s.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	val, err := s.client.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return "", false, err
	}
	return JobID(val), false, nil
}

func (s *RedisSingleFlight) Release(ctx context.Context, project, hash string) error {
	return s.client.Del(ctx, singleFlightKey(project, hash)).Err()
}

func (s *RedisSingleFlight) Close() error { return s.client.Close() }
