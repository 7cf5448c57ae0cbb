// Package storage holds the persistence side of the document store: the
// folder, file and audit tables in TiDB/MySQL, the chunked blob store on
// MinIO and the Redis metadata cache.
package storage

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/maneesh/commonfiles/internal/models"
)

var tracer = otel.Tracer("commonfiles-storage")

// FolderStore persists the folder tree. Lists are sorted by name, then id.
type FolderStore interface {
	CreateFolder(ctx context.Context, folder *models.Folder) error
	// GetFolder returns common.ErrNotFound for unknown ids.
	GetFolder(ctx context.Context, id string) (*models.Folder, error)
	// ListFolders returns the children of parentID; nil lists the root.
	ListFolders(ctx context.Context, parentID *string) ([]*models.Folder, error)
}

// FileStore persists file records. Lists are sorted by name, then id.
type FileStore interface {
	CreateFile(ctx context.Context, file *models.FileRecord) error
	// GetFile returns common.ErrNotFound for unknown ids.
	GetFile(ctx context.Context, id string) (*models.FileRecord, error)
	// ListFiles returns the files of folderID; nil lists the root.
	ListFiles(ctx context.Context, folderID *string) ([]*models.FileRecord, error)
	// TouchFile sets the last access time and actor.
	TouchFile(ctx context.Context, id string, at time.Time, by models.Actor) error
	// DeleteFile returns common.ErrNotFound when nothing was deleted.
	DeleteFile(ctx context.Context, id string) error
}

// AuditLog is the append-only audit trail. Lists are newest first.
type AuditLog interface {
	// Record appends the event and assigns its Seq.
	Record(ctx context.Context, event *models.AuditEvent) error
	ListByTarget(ctx context.Context, targetID string, limit int) ([]*models.AuditEvent, error)
	ListByActor(ctx context.Context, email string, limit int) ([]*models.AuditEvent, error)
}

// BlobWriter receives the bytes of one blob. The id is fixed before any
// byte is written; the blob becomes visible to readers only once Close
// returns nil.
type BlobWriter interface {
	io.Writer
	ID() string
	// Close commits the blob.
	Close() error
	// Abort discards whatever was written. It is best effort.
	Abort() error
}

// BlobStore is opaque byte storage addressed by generated ids.
type BlobStore interface {
	OpenWrite(ctx context.Context) (BlobWriter, error)
	// OpenRead returns common.ErrNotFound when no committed blob exists.
	OpenRead(ctx context.Context, id string) (io.ReadCloser, error)
	// Delete is idempotent.
	Delete(ctx context.Context, id string) error
}

// ObjectStore is the flat key/value object layer under the blob store.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte) error
	// GetObject returns common.ErrNotFound for missing keys.
	GetObject(ctx context.Context, key string) ([]byte, error)
	// RemoveObject and RemovePrefix succeed when nothing matches.
	RemoveObject(ctx context.Context, key string) error
	RemovePrefix(ctx context.Context, prefix string) error
}

// Stores is the storage context handed to the service at construction.
type Stores struct {
	Folders FolderStore
	Files   FileStore
	Audit   AuditLog
	Blobs   BlobStore
}
