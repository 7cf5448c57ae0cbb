package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/commonfiles/internal/models"
)

const (
	// DefaultCacheTTL is the time-to-live for cached file metadata (5 minutes)
	DefaultCacheTTL = 5 * time.Minute
)

// RedisClient wraps Redis operations with tracing
type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient initializes a new Redis client
func NewRedisClient(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test the connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisClient{client: client, ttl: ttl}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

func fileKey(fileID string) string {
	return fmt.Sprintf("file:%s", fileID)
}

func generationKey(fileID string) string {
	return fmt.Sprintf("file:%s:gen", fileID)
}

// GetFileMetadata retrieves file metadata from cache. A miss returns nil, nil.
func (rc *RedisClient) GetFileMetadata(ctx context.Context, fileID string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "redis.get_file_metadata",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	data, err := rc.client.Get(ctx, fileKey(fileID)).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(
			attribute.Bool("cache_hit", false),
			attribute.String("cache_status", "miss"),
		)
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var file models.FileRecord
	if err := json.Unmarshal(data, &file); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("cache_hit", true),
		attribute.String("cache_status", "hit"),
	)
	return &file, nil
}

// setIfGeneration writes the cached record only while the file's write
// generation still matches the one read before the database lookup.
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// FileGeneration returns the write generation of a file, "0" if it was
// never written through the cache.
func (rc *RedisClient) FileGeneration(ctx context.Context, fileID string) (string, error) {
	ctx, span := tracer.Start(ctx, "redis.file_generation",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	gen, err := rc.client.Get(ctx, generationKey(fileID)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	} else if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to get cache generation: %w", err)
	}
	return gen, nil
}

// SetFileMetadata stores file metadata in cache unless the file was written
// since gen was read. It reports whether the entry was stored.
func (rc *RedisClient) SetFileMetadata(ctx context.Context, file *models.FileRecord, gen string) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.set_file_metadata",
		trace.WithAttributes(
			attribute.String("file_id", file.ID),
			attribute.String("file_name", file.Name),
			attribute.String("generation", gen),
		),
	)
	defer span.End()

	data, err := json.Marshal(file)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to marshal file: %w", err)
	}

	stored, err := setIfGeneration.Run(ctx, rc.client,
		[]string{fileKey(file.ID), generationKey(file.ID)},
		gen, data, rc.ttl.Milliseconds()).Int()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to set cache: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("ttl_seconds", int64(rc.ttl.Seconds())),
		attribute.Bool("stored", stored == 1),
	)
	return stored == 1, nil
}

// InvalidateFileMetadata removes file metadata from cache and bumps the
// file's generation so that reads already in flight do not refill it.
func (rc *RedisClient) InvalidateFileMetadata(ctx context.Context, fileID string) error {
	ctx, span := tracer.Start(ctx, "redis.invalidate_file_metadata",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	_, err := rc.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(fileID))
		pipe.Expire(ctx, generationKey(fileID), rc.ttl)
		pipe.Del(ctx, fileKey(fileID))
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}
