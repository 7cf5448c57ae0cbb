// Package memory provides in-process implementations of the storage
// interfaces. It backs STORAGE_BACKEND=memory and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maneesh/commonfiles/internal/common"
	"github.com/maneesh/commonfiles/internal/models"
)

// Store keeps folders, file records and audit events in maps. Each method
// locks only for its own single-record change.
type Store struct {
	mu      sync.RWMutex
	folders map[string]*models.Folder
	files   map[string]*models.FileRecord
	events  []*models.AuditEvent
	seq     int64
}

func NewStore() *Store {
	return &Store{
		folders: make(map[string]*models.Folder),
		files:   make(map[string]*models.FileRecord),
	}
}

func (s *Store) CreateFolder(_ context.Context, folder *models.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[folder.ID]; ok {
		return fmt.Errorf("duplicate folder id %s", folder.ID)
	}
	s.folders[folder.ID] = copyFolder(folder)
	return nil
}

// PutFolder stores folder as-is, replacing any folder with the same id.
// It exists so tests can build trees the service would never create.
func (s *Store) PutFolder(folder *models.Folder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[folder.ID] = copyFolder(folder)
}

func (s *Store) GetFolder(_ context.Context, id string) (*models.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.folders[id]
	if !ok {
		return nil, fmt.Errorf("folder %s: %w", id, common.ErrNotFound)
	}
	return copyFolder(f), nil
}

func (s *Store) ListFolders(_ context.Context, parentID *string) ([]*models.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Folder{}
	for _, f := range s.folders {
		if sameParent(f.ParentID, parentID) {
			out = append(out, copyFolder(f))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateFile(_ context.Context, file *models.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[file.ID]; ok {
		return fmt.Errorf("duplicate file id %s", file.ID)
	}
	s.files[file.ID] = copyFile(file)
	return nil
}

func (s *Store) GetFile(_ context.Context, id string) (*models.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, common.ErrNotFound)
	}
	return copyFile(f), nil
}

func (s *Store) ListFiles(_ context.Context, folderID *string) ([]*models.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.FileRecord{}
	for _, f := range s.files {
		if sameParent(f.FolderID, folderID) {
			out = append(out, copyFile(f))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) TouchFile(_ context.Context, id string, at time.Time, by models.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil
	}
	by.Admin = false
	f.LastAccessAt = &at
	f.LastAccessBy = &by
	return nil
}

func (s *Store) DeleteFile(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("file %s: %w", id, common.ErrNotFound)
	}
	delete(s.files, id)
	return nil
}

func (s *Store) Record(_ context.Context, event *models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	event.Seq = s.seq
	e := *event
	e.Actor.Admin = false
	s.events = append(s.events, &e)
	return nil
}

func (s *Store) ListByTarget(_ context.Context, targetID string, limit int) ([]*models.AuditEvent, error) {
	return s.newest(limit, func(e *models.AuditEvent) bool { return e.Target.ID == targetID }), nil
}

func (s *Store) ListByActor(_ context.Context, email string, limit int) ([]*models.AuditEvent, error) {
	return s.newest(limit, func(e *models.AuditEvent) bool { return strings.EqualFold(e.Actor.Email, email) }), nil
}

// newest walks the log backwards. Events are appended in Seq order, so ties
// on TS resolve to the later Seq first, matching the SQL ordering.
func (s *Store) newest(limit int, match func(*models.AuditEvent) bool) []*models.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := []*models.AuditEvent{}
	for i := len(s.events) - 1; i >= 0; i-- {
		if match(s.events[i]) {
			e := *s.events[i]
			matched = append(matched, &e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].TS.After(matched[j].TS) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyFolder(f *models.Folder) *models.Folder {
	c := *f
	c.ParentID = copyString(f.ParentID)
	c.CreatedBy.Admin, c.UpdatedBy.Admin = false, false
	return &c
}

func copyFile(f *models.FileRecord) *models.FileRecord {
	c := *f
	c.FolderID = copyString(f.FolderID)
	c.UploadedBy.Admin = false
	if f.LastAccessAt != nil {
		t := *f.LastAccessAt
		c.LastAccessAt = &t
	}
	if f.LastAccessBy != nil {
		a := *f.LastAccessBy
		c.LastAccessBy = &a
	}
	c.Tags = append([]string{}, f.Tags...)
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
