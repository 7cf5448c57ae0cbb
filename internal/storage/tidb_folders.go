package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/commonfiles/internal/common"
	"github.com/maneesh/commonfiles/internal/models"
)

const folderColumns = `id, name, parent_id, created_at, created_by_id, created_by_email, updated_at, updated_by_id, updated_by_email`

// CreateFolder inserts a folder row
func (tc *TiDBClient) CreateFolder(ctx context.Context, folder *models.Folder) error {
	ctx, span := tracer.Start(ctx, "tidb.create_folder",
		trace.WithAttributes(
			attribute.String("folder_id", folder.ID),
			attribute.String("folder_name", folder.Name),
		),
	)
	defer span.End()

	query := `INSERT INTO folders (` + folderColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := tc.db.ExecContext(ctx, query,
		folder.ID, folder.Name, nullable(folder.ParentID),
		folder.CreatedAt, folder.CreatedBy.ID, folder.CreatedBy.Email,
		folder.UpdatedAt, folder.UpdatedBy.ID, folder.UpdatedBy.Email,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert folder: %w", err)
	}
	return nil
}

// GetFolder retrieves a folder by ID
func (tc *TiDBClient) GetFolder(ctx context.Context, id string) (*models.Folder, error) {
	ctx, span := tracer.Start(ctx, "tidb.get_folder",
		trace.WithAttributes(attribute.String("folder_id", id)),
	)
	defer span.End()

	query := `SELECT ` + folderColumns + ` FROM folders WHERE id = ?`

	folder, err := scanFolder(tc.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("folder %s: %w", id, common.ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query folder: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return folder, nil
}

// ListFolders returns the children of parentID ordered by name
func (tc *TiDBClient) ListFolders(ctx context.Context, parentID *string) ([]*models.Folder, error) {
	ctx, span := tracer.Start(ctx, "tidb.list_folders")
	defer span.End()

	var (
		rows *sql.Rows
		err  error
	)
	if parentID == nil {
		rows, err = tc.db.QueryContext(ctx,
			`SELECT `+folderColumns+` FROM folders WHERE parent_id IS NULL ORDER BY name ASC, id ASC`)
	} else {
		span.SetAttributes(attribute.String("parent_id", *parentID))
		rows, err = tc.db.QueryContext(ctx,
			`SELECT `+folderColumns+` FROM folders WHERE parent_id = ? ORDER BY name ASC, id ASC`, *parentID)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query folders: %w", err)
	}
	defer rows.Close()

	folders := []*models.Folder{}
	for rows.Next() {
		folder, err := scanFolder(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, folder)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating folders: %w", err)
	}

	span.SetAttributes(attribute.Int("folder_count", len(folders)))
	return folders, nil
}

func scanFolder(row rowScanner) (*models.Folder, error) {
	var (
		folder models.Folder
		parent sql.NullString
	)
	err := row.Scan(
		&folder.ID,
		&folder.Name,
		&parent,
		&folder.CreatedAt,
		&folder.CreatedBy.ID,
		&folder.CreatedBy.Email,
		&folder.UpdatedAt,
		&folder.UpdatedBy.ID,
		&folder.UpdatedBy.Email,
	)
	if err != nil {
		return nil, err
	}
	folder.ParentID = fromNullString(parent)
	return &folder, nil
}
