// Package service implements the document store operations on top of the
// storage interfaces: folder creation and navigation, file upload,
// download, properties and delete, each recorded in the audit trail.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/commonfiles/internal/common"
	"github.com/maneesh/commonfiles/internal/logging"
	"github.com/maneesh/commonfiles/internal/metrics"
	"github.com/maneesh/commonfiles/internal/models"
	"github.com/maneesh/commonfiles/internal/storage"
)

var tracer = otel.Tracer("commonfiles-service")

const (
	DefaultRecentEvents   = 10
	DefaultMaxDepth       = 256
	DefaultMaxUploadBytes = 512 << 20
	DefaultMimeType       = "application/octet-stream"

	// MaxEventsLimit caps a single audit query.
	MaxEventsLimit = 100
	// MaxFolderIDLength matches the widest id column in the schema.
	MaxFolderIDLength = 255
)

// Options tune the service. Zero values fall back to the defaults above.
type Options struct {
	// StrictParents rejects folders and uploads whose parent folder does not exist.
	StrictParents bool
	// RecentEvents is how many audit events Properties returns.
	RecentEvents int
	// MaxDepth bounds the parent walk of Breadcrumbs.
	MaxDepth int
	// MaxUploadBytes is the largest accepted upload.
	MaxUploadBytes int64
	// Now is the clock used for timestamps.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.RecentEvents <= 0 {
		o.RecentEvents = DefaultRecentEvents
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Service is the file and folder service. It holds no state of its own
// beyond the stores it was built with.
type Service struct {
	folders storage.FolderStore
	files   storage.FileStore
	audit   storage.AuditLog
	blobs   storage.BlobStore
	logger  logging.Logger
	opts    Options
}

func New(stores storage.Stores, logger logging.Logger, opts Options) *Service {
	return &Service{
		folders: stores.Folders,
		files:   stores.Files,
		audit:   stores.Audit,
		blobs:   stores.Blobs,
		logger:  logger,
		opts:    opts.withDefaults(),
	}
}

// Operation names, used for spans, metrics and log lines.
const (
	opCreateFolder  = "create_folder"
	opListChildren  = "list_children"
	opBreadcrumbs   = "breadcrumbs"
	opUpload        = "upload"
	opDownload      = "download"
	opProperties    = "properties"
	opDelete        = "delete"
	opEventsByActor = "events_by_actor"
)

func (s *Service) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "service."+op)
}

// finish closes out one operation: metrics, span status and, for
// inconsistencies, a distinct error log line.
func (s *Service) finish(ctx context.Context, span trace.Span, op string, err error) {
	defer span.End()
	metrics.ObserveOperation(op, resultOf(err))
	if err == nil {
		return
	}
	span.RecordError(err)
	if errors.Is(err, common.ErrInternalInconsistency) {
		s.reportInconsistency(ctx, op, err)
	}
}

func (s *Service) reportInconsistency(ctx context.Context, op string, err error) {
	metrics.IncInconsistency()
	s.logger.Error(ctx, "internal inconsistency", "operation", op, "error", err, "inconsistency", true)
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, common.ErrNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, common.ErrForbidden):
		return metrics.ResultDenied
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrTooLarge):
		return metrics.ResultInvalid
	default:
		return metrics.ResultError
	}
}

func validActor(actor models.Actor) error {
	if strings.TrimSpace(actor.Email) == "" {
		return fmt.Errorf("%w: actor email is required", common.ErrInvalidInput)
	}
	return nil
}

// folderRef turns a caller supplied folder id into the stored form:
// "", "root" and nil all mean the implicit root.
func folderRef(id string) *string {
	if id == "" || id == models.RootID {
		return nil
	}
	return &id
}

// validFolderID rejects folder ids that the stores cannot hold.
func validFolderID(id string) error {
	if len(id) > MaxFolderIDLength {
		return fmt.Errorf("%w: folder id longer than %d bytes", common.ErrInvalidInput, MaxFolderIDLength)
	}
	return nil
}

func (s *Service) checkParent(ctx context.Context, parentID *string) error {
	if !s.opts.StrictParents || parentID == nil {
		return nil
	}
	if _, err := s.folders.GetFolder(ctx, *parentID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("parent folder %s: %w", *parentID, common.ErrNotFound)
		}
		return fmt.Errorf("failed to look up parent folder: %w", err)
	}
	return nil
}

// recordBestEffort appends an audit event for an operation that has already
// taken effect. A failure is logged; the operation still succeeded.
func (s *Service) recordBestEffort(ctx context.Context, event *models.AuditEvent) {
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.Error(ctx, "failed to record audit event",
			"action", event.Action, "target_id", event.Target.ID, "error", err)
	}
}

func (s *Service) newEvent(actor models.Actor, action models.Action, target models.Target, from, to *string) *models.AuditEvent {
	actor.Admin = false
	return &models.AuditEvent{
		TS:           s.opts.Now(),
		Actor:        actor,
		Action:       action,
		Target:       target,
		FromFolderID: from,
		ToFolderID:   to,
	}
}
