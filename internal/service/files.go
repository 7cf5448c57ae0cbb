package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/maneesh/commonfiles/internal/common"
	"github.com/maneesh/commonfiles/internal/metrics"
	"github.com/maneesh/commonfiles/internal/models"
)

// Upload streams r into a new blob and then creates its file record.
// Nothing is recorded unless the blob was committed.
func (s *Service) Upload(ctx context.Context, r io.Reader, filename, mimeType, folderID string, actor models.Actor) (file *models.FileRecord, err error) {
	ctx, span := s.start(ctx, opUpload)
	defer func() { s.finish(ctx, span, opUpload, err) }()

	if err := validActor(actor); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: no file content supplied", common.ErrInvalidInput)
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", common.ErrInvalidInput)
	}
	if mimeType == "" {
		mimeType = DefaultMimeType
	}

	if err := validFolderID(folderID); err != nil {
		return nil, err
	}
	folder := folderRef(folderID)
	if err := s.checkParent(ctx, folder); err != nil {
		return nil, err
	}

	w, err := s.blobs.OpenWrite(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	blobID := w.ID()
	span.SetAttributes(attribute.String("file_id", blobID))

	// One byte past the limit is enough to tell an oversized upload apart.
	size, err := io.Copy(w, io.LimitReader(r, s.opts.MaxUploadBytes+1))
	if err == nil && size > s.opts.MaxUploadBytes {
		err = fmt.Errorf("%w: limit is %d bytes", common.ErrTooLarge, s.opts.MaxUploadBytes)
	}
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			s.logger.Warn(ctx, "failed to discard partial blob", "blob_id", blobID, "error", abortErr)
		}
		if errors.Is(err, common.ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to store file content: %w", err)
	}

	actor.Admin = false
	file = &models.FileRecord{
		ID:         blobID,
		Name:       filename,
		FolderID:   folder,
		MimeType:   mimeType,
		Size:       size,
		UploadedAt: s.opts.Now(),
		UploadedBy: actor,
		Version:    1,
		Tags:       []string{},
	}
	if err := s.files.CreateFile(ctx, file); err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), blobID); delErr != nil {
			s.logger.Error(ctx, "orphaned blob after failed metadata insert",
				"blob_id", blobID, "error", delErr, "orphan", true)
		}
		return nil, fmt.Errorf("failed to save file metadata: %w", err)
	}

	s.recordBestEffort(ctx, s.newEvent(actor, models.ActionUpload,
		models.Target{Type: models.TargetFile, ID: file.ID, Name: file.Name}, nil, folder))

	metrics.AddUploadBytes(size)
	s.logger.Info(ctx, "file uploaded", "file_id", file.ID, "size", size, "actor", actor.Email)
	return file, nil
}

// Download records the access and opens the file content. The caller must
// close the returned reader. The access is recorded before any byte is
// served; if it cannot be recorded the download is refused.
func (s *Service) Download(ctx context.Context, id string, actor models.Actor) (file *models.FileRecord, body io.ReadCloser, err error) {
	ctx, span := s.start(ctx, opDownload)
	defer func() { s.finish(ctx, span, opDownload, err) }()
	span.SetAttributes(attribute.String("file_id", id))

	if err := validActor(actor); err != nil {
		return nil, nil, err
	}

	file, err = s.files.GetFile(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up file: %w", err)
	}

	actor.Admin = false
	now := s.opts.Now()
	if err := s.files.TouchFile(ctx, id, now, actor); err != nil {
		s.logger.Warn(ctx, "failed to update last access", "file_id", id, "error", err)
	} else {
		file.LastAccessAt = &now
		file.LastAccessBy = &actor
	}

	// The event stays even if the client goes away before reading.
	event := s.newEvent(actor, models.ActionDownload,
		models.Target{Type: models.TargetFile, ID: file.ID, Name: file.Name}, file.FolderID, file.FolderID)
	if err := s.audit.Record(context.WithoutCancel(ctx), event); err != nil {
		return nil, nil, fmt.Errorf("failed to record download: %w", err)
	}

	rc, err := s.blobs.OpenRead(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: file %s has metadata but no content", common.ErrInternalInconsistency, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file content: %w", err)
	}

	s.logger.Info(ctx, "file downloaded", "file_id", id, "actor", actor.Email)
	return file, &checkedBody{ReadCloser: rc, onInconsistency: func(err error) {
		s.reportInconsistency(ctx, opDownload, err)
	}}, nil
}

// checkedBody reports corruption found while the content is being streamed,
// after Download has already returned.
type checkedBody struct {
	io.ReadCloser
	onInconsistency func(error)
	reported        bool
}

func (b *checkedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && !b.reported && errors.Is(err, common.ErrInternalInconsistency) {
		b.reported = true
		b.onInconsistency(err)
	}
	return n, err
}

// Properties returns the file record and its most recent audit events,
// newest first.
func (s *Service) Properties(ctx context.Context, id string) (props *models.Properties, err error) {
	ctx, span := s.start(ctx, opProperties)
	defer func() { s.finish(ctx, span, opProperties, err) }()
	span.SetAttributes(attribute.String("file_id", id))

	props = &models.Properties{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		file, err := s.files.GetFile(gctx, id)
		if err != nil {
			return fmt.Errorf("failed to look up file: %w", err)
		}
		props.File = file
		return nil
	})
	g.Go(func() error {
		events, err := s.audit.ListByTarget(gctx, id, s.opts.RecentEvents)
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}
		props.Events = events
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if props.Events == nil {
		props.Events = []*models.AuditEvent{}
	}
	s.logger.Debug(ctx, "properties loaded", "file_id", id, "events", len(props.Events))
	return props, nil
}

// Delete removes a file. Only the owner or an admin may delete; for anyone
// else nothing is touched. The blob goes first; a blob that cannot be
// removed is logged and left behind. Once both deletes were attempted the
// delete event is recorded, even if the record could not be removed.
func (s *Service) Delete(ctx context.Context, id string, actor models.Actor) (err error) {
	ctx, span := s.start(ctx, opDelete)
	defer func() { s.finish(ctx, span, opDelete, err) }()
	span.SetAttributes(attribute.String("file_id", id))

	if err := validActor(actor); err != nil {
		return err
	}

	file, err := s.files.GetFile(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to look up file: %w", err)
	}

	access := DecideAccess(file, actor)
	span.SetAttributes(attribute.String("access", access.String()))
	if !access.CanDelete() {
		s.logger.Info(ctx, "delete denied", "file_id", id, "actor", actor.Email)
		return fmt.Errorf("%w: only the owner or an admin may delete %s", common.ErrForbidden, id)
	}

	if err := s.blobs.Delete(ctx, id); err != nil {
		s.logger.Error(ctx, "failed to delete file content", "file_id", id, "error", err, "orphan", true)
	}
	metaErr := s.files.DeleteFile(ctx, id)

	s.recordBestEffort(ctx, s.newEvent(actor, models.ActionDelete,
		models.Target{Type: models.TargetFile, ID: file.ID, Name: file.Name}, file.FolderID, nil))

	if metaErr != nil {
		return fmt.Errorf("failed to delete file metadata: %w", metaErr)
	}
	s.logger.Info(ctx, "file deleted", "file_id", id, "actor", actor.Email, "access", access.String())
	return nil
}

// EventsByActor returns the newest audit events performed by email.
// A non-positive limit means RecentEvents; anything above MaxEventsLimit is
// clamped.
func (s *Service) EventsByActor(ctx context.Context, email string, limit int) (events []*models.AuditEvent, err error) {
	ctx, span := s.start(ctx, opEventsByActor)
	defer func() { s.finish(ctx, span, opEventsByActor, err) }()

	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: actor email is required", common.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = s.opts.RecentEvents
	}
	if limit > MaxEventsLimit {
		limit = MaxEventsLimit
	}

	events, err = s.audit.ListByActor(ctx, email, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}
