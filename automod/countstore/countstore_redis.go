package countstore

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisCountPrefix string = "count/"

// Redis-backed CountStore. Each counter is a sorted set of events scored by unix millis.
type RedisCountStore struct {
	Client  *redis.Client
	Horizon time.Duration
}

var _ CountStore = (*RedisCountStore)(nil)

func NewRedisCountStore(redisURL string, horizon time.Duration) (*RedisCountStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	rcs := RedisCountStore{
		Client:  rdb,
		Horizon: horizon,
	}
	return &rcs, nil
}

func (s *RedisCountStore) Increment(ctx context.Context, name, val string, at time.Time) error {
	key := redisCountPrefix + counterKey(name, val)
	ms := at.UnixMilli()
	cutoff := at.Add(-s.Horizon).UnixMilli()

	// add, prune, and refresh expiry in a single redis round-trip
	multi := s.Client.Pipeline()
	multi.ZAdd(ctx, key, redis.Z{
		Score:  float64(ms),
		Member: fmt.Sprintf("%d-%d", at.UnixNano(), rand.Int64()),
	})
	multi.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	multi.Expire(ctx, key, s.Horizon)

	_, err := multi.Exec(ctx)
	return err
}

func (s *RedisCountStore) CountWindow(ctx context.Context, name, val string, now time.Time, window time.Duration) (int, error) {
	key := redisCountPrefix + counterKey(name, val)
	floor := windowFloor(now, window, s.Horizon)
	c, err := s.Client.ZCount(ctx, key, strconv.FormatInt(floor, 10), "+inf").Result()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return int(c), nil
}
