package storage

import (
	"context"
	"time"

	"github.com/maneesh/commonfiles/internal/logging"
	"github.com/maneesh/commonfiles/internal/models"
)

// CachedFiles puts the Redis metadata cache in front of a FileStore.
// Cache failures are logged and never fail the call.
type CachedFiles struct {
	FileStore
	cache  *RedisClient
	logger logging.Logger
}

// NewCachedFiles wraps files with cache-aside reads and write invalidation.
func NewCachedFiles(files FileStore, cache *RedisClient, logger logging.Logger) *CachedFiles {
	return &CachedFiles{FileStore: files, cache: cache, logger: logger}
}

func (c *CachedFiles) GetFile(ctx context.Context, id string) (*models.FileRecord, error) {
	file, err := c.cache.GetFileMetadata(ctx, id)
	if err != nil {
		c.logger.Warn(ctx, "cache lookup failed", "file_id", id, "error", err)
	}
	if file != nil {
		c.logger.Debug(ctx, "cache hit", "file_id", id)
		return file, nil
	}

	// The generation is read before the database so a write that lands in
	// between keeps this read from refilling the cache.
	gen, genErr := c.cache.FileGeneration(ctx, id)

	file, err = c.FileStore.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		c.logger.Warn(ctx, "cache generation lookup failed", "file_id", id, "error", genErr)
		return file, nil
	}

	stored, err := c.cache.SetFileMetadata(ctx, file, gen)
	if err != nil {
		c.logger.Warn(ctx, "failed to update cache", "file_id", id, "error", err)
	} else if !stored {
		c.logger.Debug(ctx, "cache fill skipped after concurrent write", "file_id", id)
	}
	return file, nil
}

func (c *CachedFiles) CreateFile(ctx context.Context, file *models.FileRecord) error {
	if err := c.FileStore.CreateFile(ctx, file); err != nil {
		return err
	}
	c.invalidate(ctx, file.ID)
	return nil
}

func (c *CachedFiles) TouchFile(ctx context.Context, id string, at time.Time, by models.Actor) error {
	err := c.FileStore.TouchFile(ctx, id, at, by)
	c.invalidate(ctx, id)
	return err
}

func (c *CachedFiles) DeleteFile(ctx context.Context, id string) error {
	err := c.FileStore.DeleteFile(ctx, id)
	c.invalidate(ctx, id)
	return err
}

func (c *CachedFiles) invalidate(ctx context.Context, id string) {
	if err := c.cache.InvalidateFileMetadata(ctx, id); err != nil {
		c.logger.Warn(ctx, "failed to invalidate cache", "file_id", id, "error", err)
	}
}
