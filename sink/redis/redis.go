// Package redis implements a Redis-backed graph.LineageSink.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nodestream/flowline/graph"
)

// LineageSink implements graph.LineageSink using Redis: each LineageInfo is pushed onto a list
// keyed by its own lineage id (prefix + "lineage:" + id), so a caller can later retrieve every
// record stored for that id.
type LineageSink struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Options configures the Redis connection and key layout.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key, default "flowline:".
	Prefix string
	// TTL expires recorded lineage entries; 0 means no expiration.
	TTL time.Duration
}

// New creates a Redis-backed LineageSink.
func New(opts Options) *LineageSink {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "flowline:"
	}

	return &LineageSink{client: client, prefix: prefix, ttl: opts.TTL}
}

func (s *LineageSink) key(lineageID string) string {
	return fmt.Sprintf("%slineage:%s", s.prefix, lineageID)
}

// Record implements graph.LineageSink by appending info to its lineage id's Redis list.
func (s *LineageSink) Record(ctx context.Context, info graph.LineageInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("sink/redis: failed to marshal lineage info: %w", err)
	}

	key := s.key(info.LineageID.String())
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sink/redis: failed to record lineage: %w", err)
	}
	return nil
}

// Trail returns every LineageInfo recorded for lineageID, in recording order.
func (s *LineageSink) Trail(ctx context.Context, lineageID string) ([]graph.LineageInfo, error) {
	entries, err := s.client.LRange(ctx, s.key(lineageID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("sink/redis: failed to read lineage trail: %w", err)
	}

	trail := make([]graph.LineageInfo, 0, len(entries))
	for _, raw := range entries {
		var info graph.LineageInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return nil, fmt.Errorf("sink/redis: failed to unmarshal lineage info: %w", err)
		}
		trail = append(trail, info)
	}
	return trail, nil
}

// Close releases the underlying Redis client.
func (s *LineageSink) Close() error {
	return s.client.Close()
}
