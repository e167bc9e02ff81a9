package usage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces the keys written by RedisStore
const DefaultRedisPrefix = "entitlements:"

// RedisStore keeps one hash per user: field = feature slug, value =
// counter. Increments use HINCRBY, which Redis applies atomically. A second
// hash holds the last update time of each counter.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed usage store. An empty prefix selects
// DefaultRedisPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) countsKey(userID string) string {
	return s.prefix + "usage:" + userID
}

func (s *RedisStore) updatedKey(userID string) string {
	return s.prefix + "usage_at:" + userID
}

// Increment atomically adds amount with HINCRBY
func (s *RedisStore) Increment(ctx context.Context, userID, featureSlug string, amount int64, now time.Time) (int64, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, s.countsKey(userID), featureSlug, amount)
		pipe.HSet(ctx, s.updatedKey(userID), featureSlug, now.UnixNano())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return incr.Val(), nil
}

// Get returns a counter, or a zero Record if none exists
func (s *RedisStore) Get(ctx context.Context, userID, featureSlug string) (Record, error) {
	r := Record{UserID: userID, FeatureSlug: featureSlug}

	value, err := s.client.HGet(ctx, s.countsKey(userID), featureSlug).Int64()
	if errors.Is(err, redis.Nil) {
		return r, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to get usage: %w", err)
	}
	r.CurrentUsage = value

	ns, err := s.client.HGet(ctx, s.updatedKey(userID), featureSlug).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("failed to get usage timestamp: %w", err)
	}
	if ns != 0 {
		r.UpdatedAt = time.Unix(0, ns).UTC()
	}
	return r, nil
}

// List returns every counter of a user
func (s *RedisStore) List(ctx context.Context, userID string) ([]Record, error) {
	counts, err := s.client.HGetAll(ctx, s.countsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	updated, err := s.client.HGetAll(ctx, s.updatedKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list usage timestamps: %w", err)
	}

	records := make([]Record, 0, len(counts))
	for slug, raw := range counts {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid usage counter %s/%s: %w", userID, slug, err)
		}
		r := Record{UserID: userID, FeatureSlug: slug, CurrentUsage: value}
		if ns, err := strconv.ParseInt(updated[slug], 10, 64); err == nil && ns != 0 {
			r.UpdatedAt = time.Unix(0, ns).UTC()
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].FeatureSlug < records[j].FeatureSlug })
	return records, nil
}

// Reset zeroes one counter
func (s *RedisStore) Reset(ctx context.Context, userID, featureSlug string, now time.Time) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.countsKey(userID), featureSlug, 0)
		pipe.HSet(ctx, s.updatedKey(userID), featureSlug, now.UnixNano())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	return nil
}

// ResetUsers zeroes the counters of userIDs
func (s *RedisStore) ResetUsers(ctx context.Context, userIDs []string, now time.Time) (int64, error) {
	var total int64
	for _, userID := range userIDs {
		n, err := s.resetUser(ctx, userID, now)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ResetAll zeroes every counter under the store prefix
func (s *RedisStore) ResetAll(ctx context.Context, now time.Time) (int64, error) {
	countsPrefix := s.countsKey("")

	var (
		total  int64
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, countsPrefix+"*", 100).Result()
		if err != nil {
			return total, fmt.Errorf("failed to scan usage keys: %w", err)
		}
		for _, key := range keys {
			n, err := s.resetUser(ctx, strings.TrimPrefix(key, countsPrefix), now)
			if err != nil {
				return total, err
			}
			total += n
		}
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

func (s *RedisStore) resetUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	slugs, err := s.client.HKeys(ctx, s.countsKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list usage counters: %w", err)
	}
	if len(slugs) == 0 {
		return 0, nil
	}

	zeros := make([]interface{}, 0, len(slugs)*2)
	stamps := make([]interface{}, 0, len(slugs)*2)
	for _, slug := range slugs {
		zeros = append(zeros, slug, 0)
		stamps = append(stamps, slug, now.UnixNano())
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.countsKey(userID), zeros...)
		pipe.HSet(ctx, s.updatedKey(userID), stamps...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reset usage: %w", err)
	}
	return int64(len(slugs)), nil
}
