package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/maneesh/commonfiles/internal/common"
	"github.com/maneesh/commonfiles/internal/models"
)

// CreateFolder creates a folder under parentID ("" or "root" for the root).
// Sibling names need not be unique.
func (s *Service) CreateFolder(ctx context.Context, name, parentID string, actor models.Actor) (folder *models.Folder, err error) {
	ctx, span := s.start(ctx, opCreateFolder)
	defer func() { s.finish(ctx, span, opCreateFolder, err) }()

	if err := validActor(actor); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: folder name is required", common.ErrInvalidInput)
	}

	if err := validFolderID(parentID); err != nil {
		return nil, err
	}
	parent := folderRef(parentID)
	if err := s.checkParent(ctx, parent); err != nil {
		return nil, err
	}

	actor.Admin = false
	now := s.opts.Now()
	folder = &models.Folder{
		ID:        uuid.New().String(),
		Name:      name,
		ParentID:  parent,
		CreatedAt: now,
		CreatedBy: actor,
		UpdatedAt: now,
		UpdatedBy: actor,
	}
	span.SetAttributes(attribute.String("folder_id", folder.ID))

	if err := s.folders.CreateFolder(ctx, folder); err != nil {
		return nil, fmt.Errorf("failed to create folder: %w", err)
	}

	s.recordBestEffort(ctx, s.newEvent(actor, models.ActionCreateFolder,
		models.Target{Type: models.TargetFolder, ID: folder.ID, Name: folder.Name}, nil, parent))

	s.logger.Info(ctx, "folder created", "folder_id", folder.ID, "parent_id", parentID, "actor", actor.Email)
	return folder, nil
}

// ListChildren returns the folders and files directly under folderID.
// An unknown id yields empty lists.
func (s *Service) ListChildren(ctx context.Context, folderID string) (children *models.Children, err error) {
	ctx, span := s.start(ctx, opListChildren)
	defer func() { s.finish(ctx, span, opListChildren, err) }()

	parent := folderRef(folderID)
	children = &models.Children{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		folders, err := s.folders.ListFolders(gctx, parent)
		if err != nil {
			return fmt.Errorf("failed to list folders: %w", err)
		}
		children.Folders = folders
		return nil
	})
	g.Go(func() error {
		files, err := s.files.ListFiles(gctx, parent)
		if err != nil {
			return fmt.Errorf("failed to list files: %w", err)
		}
		children.Files = files
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if children.Folders == nil {
		children.Folders = []*models.Folder{}
	}
	if children.Files == nil {
		children.Files = []*models.FileRecord{}
	}
	span.SetAttributes(
		attribute.Int("folder_count", len(children.Folders)),
		attribute.Int("file_count", len(children.Files)),
	)
	s.logger.Debug(ctx, "children listed", "folder_id", folderID,
		"folders", len(children.Folders), "files", len(children.Files))
	return children, nil
}

// Breadcrumbs returns the path from the root to folderID, root first.
// An unknown folder yields just the root. A parent cycle or a chain deeper
// than MaxDepth is reported as an internal inconsistency.
func (s *Service) Breadcrumbs(ctx context.Context, folderID string) (crumbs []models.Crumb, err error) {
	ctx, span := s.start(ctx, opBreadcrumbs)
	defer func() { s.finish(ctx, span, opBreadcrumbs, err) }()

	root := models.Crumb{ID: models.RootID, Name: models.RootName}
	current := folderRef(folderID)
	if current == nil {
		return []models.Crumb{root}, nil
	}

	var path []models.Crumb
	visited := make(map[string]struct{})
	for current != nil {
		id := *current
		if _, seen := visited[id]; seen {
			return nil, fmt.Errorf("%w: folder parent cycle through %s", common.ErrInternalInconsistency, id)
		}
		if len(path) >= s.opts.MaxDepth {
			return nil, fmt.Errorf("%w: folder %s is nested deeper than %d", common.ErrInternalInconsistency, folderID, s.opts.MaxDepth)
		}
		visited[id] = struct{}{}

		folder, err := s.folders.GetFolder(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			if len(path) > 0 {
				s.logger.Warn(ctx, "breadcrumb chain ends at a missing parent", "folder_id", folderID, "missing_id", id)
			}
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load folder %s: %w", id, err)
		}

		path = append(path, models.Crumb{ID: folder.ID, Name: folder.Name})
		current = folderRef(derefOr(folder.ParentID, ""))
	}

	slices.Reverse(path)
	span.SetAttributes(attribute.Int("depth", len(path)))
	s.logger.Debug(ctx, "breadcrumbs resolved", "folder_id", folderID, "depth", len(path))
	return append([]models.Crumb{root}, path...), nil
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
