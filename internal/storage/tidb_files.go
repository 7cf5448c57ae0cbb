package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/commonfiles/internal/common"
	"github.com/maneesh/commonfiles/internal/models"
)

const fileColumns = `id, name, folder_id, mime_type, size, uploaded_at, uploaded_by_id, uploaded_by_email, ` +
	`last_access_at, last_access_by_id, last_access_by_email, version, tags, notes`

// CreateFile inserts file metadata with tracing
func (tc *TiDBClient) CreateFile(ctx context.Context, file *models.FileRecord) error {
	ctx, span := tracer.Start(ctx, "tidb.create_file",
		trace.WithAttributes(
			attribute.String("file_id", file.ID),
			attribute.String("file_name", file.Name),
			attribute.Int64("file_size", file.Size),
		),
	)
	defer span.End()

	tags := file.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	var lastByID, lastByEmail any
	if file.LastAccessBy != nil {
		lastByID, lastByEmail = file.LastAccessBy.ID, file.LastAccessBy.Email
	}
	var lastAt any
	if file.LastAccessAt != nil {
		lastAt = *file.LastAccessAt
	}

	query := `INSERT INTO files (` + fileColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tc.db.ExecContext(ctx, query,
		file.ID, file.Name, nullable(file.FolderID), file.MimeType, file.Size,
		file.UploadedAt, file.UploadedBy.ID, file.UploadedBy.Email,
		lastAt, lastByID, lastByEmail,
		file.Version, string(tagsJSON), file.Notes,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert file: %w", err)
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return nil
}

// GetFile retrieves file metadata by ID with tracing
func (tc *TiDBClient) GetFile(ctx context.Context, id string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "tidb.get_file",
		trace.WithAttributes(
			attribute.String("file_id", id),
		),
	)
	defer span.End()

	query := `SELECT ` + fileColumns + ` FROM files WHERE id = ?`

	file, err := scanFile(tc.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("file %s: %w", id, common.ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query file: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return file, nil
}

// ListFiles returns the files of folderID ordered by name
func (tc *TiDBClient) ListFiles(ctx context.Context, folderID *string) ([]*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "tidb.list_files")
	defer span.End()

	var (
		rows *sql.Rows
		err  error
	)
	if folderID == nil {
		rows, err = tc.db.QueryContext(ctx,
			`SELECT `+fileColumns+` FROM files WHERE folder_id IS NULL ORDER BY name ASC, id ASC`)
	} else {
		span.SetAttributes(attribute.String("folder_id", *folderID))
		rows, err = tc.db.QueryContext(ctx,
			`SELECT `+fileColumns+` FROM files WHERE folder_id = ? ORDER BY name ASC, id ASC`, *folderID)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	files := []*models.FileRecord{}
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating files: %w", err)
	}

	span.SetAttributes(attribute.Int("file_count", len(files)))
	return files, nil
}

// TouchFile records the last access of a file
func (tc *TiDBClient) TouchFile(ctx context.Context, id string, at time.Time, by models.Actor) error {
	ctx, span := tracer.Start(ctx, "tidb.touch_file",
		trace.WithAttributes(attribute.String("file_id", id)),
	)
	defer span.End()

	query := `UPDATE files SET last_access_at = ?, last_access_by_id = ?, last_access_by_email = ? WHERE id = ?`

	if _, err := tc.db.ExecContext(ctx, query, at, by.ID, by.Email, id); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update last access: %w", err)
	}
	return nil
}

// DeleteFile removes a file row
func (tc *TiDBClient) DeleteFile(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "tidb.delete_file",
		trace.WithAttributes(attribute.String("file_id", id)),
	)
	defer span.End()

	res, err := tc.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("file %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func scanFile(row rowScanner) (*models.FileRecord, error) {
	var (
		file        models.FileRecord
		folder      sql.NullString
		lastAt      sql.NullTime
		lastByID    sql.NullString
		lastByEmail sql.NullString
		tags        []byte
	)
	err := row.Scan(
		&file.ID,
		&file.Name,
		&folder,
		&file.MimeType,
		&file.Size,
		&file.UploadedAt,
		&file.UploadedBy.ID,
		&file.UploadedBy.Email,
		&lastAt,
		&lastByID,
		&lastByEmail,
		&file.Version,
		&tags,
		&file.Notes,
	)
	if err != nil {
		return nil, err
	}

	file.FolderID = fromNullString(folder)
	file.LastAccessAt = fromNullTime(lastAt)
	if lastByEmail.Valid {
		file.LastAccessBy = &models.Actor{ID: lastByID.String, Email: lastByEmail.String}
	}
	file.Tags = []string{}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &file.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	return &file, nil
}
