package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultSnapshotTTL = 24 * time.Hour
	activeBoardsKey    = "boards:active"
	activeBoardsTTL    = 7 * 24 * time.Hour
)

// RedisStore handles Redis operations: the snapshot cache in front of the
// DataStore, the recent-activity index, and the client shared with the rate
// limiter.
type RedisStore struct {
	client      *redis.Client
	snapshotTTL time.Duration
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client, snapshotTTL: defaultSnapshotTTL}, nil
}

// SetSnapshotTTL changes how long cached snapshots live.
func (s *RedisStore) SetSnapshotTTL(ttl time.Duration) {
	if ttl > 0 {
		s.snapshotTTL = ttl
	}
}

// Client exposes the underlying client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// snapshotKey returns the key for a board's cached snapshot.
func snapshotKey(boardID string) string {
	return fmt.Sprintf("board:%s:snapshot", boardID)
}

// CacheSnapshot stores the latest snapshot of a board.
func (s *RedisStore) CacheSnapshot(ctx context.Context, boardID string, snapshot json.RawMessage) error {
	return s.client.Set(ctx, snapshotKey(boardID), []byte(snapshot), s.snapshotTTL).Err()
}

// CachedSnapshot returns the cached snapshot of a board, or nil on a miss.
func (s *RedisStore) CachedSnapshot(ctx context.Context, boardID string) (json.RawMessage, error) {
	data, err := s.client.Get(ctx, snapshotKey(boardID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return json.RawMessage(data), nil
}

// InvalidateSnapshot drops the cached snapshot of a board.
func (s *RedisStore) InvalidateSnapshot(ctx context.Context, boardID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, snapshotKey(boardID))
	pipe.ZRem(ctx, activeBoardsKey, boardID)
	_, err := pipe.Exec(ctx)
	return err
}

// TouchBoard records activity on a board in the recent-activity index.
func (s *RedisStore) TouchBoard(ctx context.Context, boardID string, at time.Time) error {
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, activeBoardsKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: boardID,
	})
	// Trim entries older than the index TTL.
	pipe.ZRemRangeByScore(ctx, activeBoardsKey, "-inf", fmt.Sprintf("(%d", at.Add(-activeBoardsTTL).UnixMilli()))
	pipe.Expire(ctx, activeBoardsKey, activeBoardsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RecentBoards returns board ids by most recent activity.
func (s *RedisStore) RecentBoards(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.client.ZRevRange(ctx, activeBoardsKey, 0, int64(limit-1)).Result()
}
