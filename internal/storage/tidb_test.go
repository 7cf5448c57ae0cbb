package storage

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/maneesh/commonfiles/internal/common"
	"github.com/maneesh/commonfiles/internal/models"
)

func newTiDBWithMock(t *testing.T) (*TiDBClient, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewTiDBClientFromDB(db), mock, db
}

var (
	folderCols = []string{"id", "name", "parent_id", "created_at", "created_by_id", "created_by_email",
		"updated_at", "updated_by_id", "updated_by_email"}
	fileCols = []string{"id", "name", "folder_id", "mime_type", "size", "uploaded_at", "uploaded_by_id",
		"uploaded_by_email", "last_access_at", "last_access_by_id", "last_access_by_email", "version", "tags", "notes"}
	eventCols = []string{"seq", "ts", "actor_id", "actor_email", "action", "target_type", "target_id",
		"target_name", "from_folder_id", "to_folder_id"}
)

func TestCreateFolder_Success(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	parent := "p1"
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+folders\b.*VALUES`).
		WithArgs("f1", "Reports", "p1", now, "u1", "a@x.io", now, "u1", "a@x.io").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := tc.CreateFolder(context.Background(), &models.Folder{
		ID: "f1", Name: "Reports", ParentID: &parent,
		CreatedAt: now, CreatedBy: models.Actor{ID: "u1", Email: "a@x.io"},
		UpdatedAt: now, UpdatedBy: models.Actor{ID: "u1", Email: "a@x.io"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateFolder_RootParentIsNull(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+folders\b`).
		WithArgs("f1", "Top", nil, sqlmock.AnyArg(), "u1", "a@x.io", sqlmock.AnyArg(), "u1", "a@x.io").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := tc.CreateFolder(context.Background(), &models.Folder{
		ID: "f1", Name: "Top",
		CreatedBy: models.Actor{ID: "u1", Email: "a@x.io"},
		UpdatedBy: models.Actor{ID: "u1", Email: "a@x.io"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateFolder_DBError(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+folders`).WillReturnError(errors.New("db down"))

	err := tc.CreateFolder(context.Background(), &models.Folder{ID: "f1", Name: "x"})
	if err == nil || !regexp.MustCompile(`failed to insert folder: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetFolder_NotFound(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM folders WHERE id = \?`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(folderCols))

	_, err := tc.GetFolder(context.Background(), "nope")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestGetFolder_Success(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .* FROM folders WHERE id = \?`).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows(folderCols).
			AddRow("f1", "Reports", nil, now, "u1", "a@x.io", now, "u1", "a@x.io"))

	f, err := tc.GetFolder(context.Background(), "f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Name != "Reports" || f.ParentID != nil || f.CreatedBy.Email != "a@x.io" {
		t.Fatalf("unexpected folder: %+v", f)
	}
}

func TestListFolders_RootAndChild(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM folders WHERE parent_id IS NULL ORDER BY name ASC, id ASC`).
		WillReturnRows(sqlmock.NewRows(folderCols).
			AddRow("a", "Alpha", nil, now, "u1", "a@x.io", now, "u1", "a@x.io").
			AddRow("b", "Beta", nil, now, "u1", "a@x.io", now, "u1", "a@x.io"))
	mock.ExpectQuery(`FROM folders WHERE parent_id = \? ORDER BY name ASC, id ASC`).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(folderCols))

	root, err := tc.ListFolders(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(root) != 2 || root[0].ID != "a" || root[1].ID != "b" {
		t.Fatalf("unexpected root listing: %+v", root)
	}

	parent := "a"
	children, err := tc.ListFolders(context.Background(), &parent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if children == nil || len(children) != 0 {
		t.Fatalf("want empty non-nil slice, got %#v", children)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateFile_Success(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	folder := "f1"
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+files\b.*VALUES`).
		WithArgs("file1", "q1.pdf", "f1", "application/pdf", int64(42), now, "u1", "a@x.io",
			nil, nil, nil, 1, `["q1"]`, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := tc.CreateFile(context.Background(), &models.FileRecord{
		ID: "file1", Name: "q1.pdf", FolderID: &folder, MimeType: "application/pdf", Size: 42,
		UploadedAt: now, UploadedBy: models.Actor{ID: "u1", Email: "a@x.io"},
		Version: 1, Tags: []string{"q1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetFile_ScansNullableColumns(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .* FROM files WHERE id = \?`).
		WithArgs("file1").
		WillReturnRows(sqlmock.NewRows(fileCols).
			AddRow("file1", "q1.pdf", "f1", "application/pdf", int64(42), now, "u1", "a@x.io",
				now, "u2", "b@x.io", 1, `["q1","finance"]`, "n"))

	f, err := tc.GetFile(context.Background(), "file1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.FolderID == nil || *f.FolderID != "f1" {
		t.Fatalf("unexpected folder id: %v", f.FolderID)
	}
	if f.LastAccessBy == nil || f.LastAccessBy.Email != "b@x.io" || f.LastAccessAt == nil {
		t.Fatalf("last access not scanned: %+v", f)
	}
	if len(f.Tags) != 2 || f.Tags[1] != "finance" {
		t.Fatalf("unexpected tags: %v", f.Tags)
	}
}

func TestGetFile_NeverAccessed(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .* FROM files WHERE id = \?`).
		WithArgs("file1").
		WillReturnRows(sqlmock.NewRows(fileCols).
			AddRow("file1", "a.txt", nil, "text/plain", int64(1), now, "u1", "a@x.io",
				nil, nil, nil, 1, `[]`, ""))

	f, err := tc.GetFile(context.Background(), "file1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.FolderID != nil || f.LastAccessAt != nil || f.LastAccessBy != nil {
		t.Fatalf("expected nil optional fields: %+v", f)
	}
}

func TestGetFile_NotFound(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM files WHERE id = \?`).WithArgs("x").WillReturnRows(sqlmock.NewRows(fileCols))

	if _, err := tc.GetFile(context.Background(), "x"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestTouchFile(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectExec(`UPDATE files SET last_access_at = \?, last_access_by_id = \?, last_access_by_email = \? WHERE id = \?`).
		WithArgs(at, "u2", "b@x.io", "file1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := tc.TouchFile(context.Background(), "file1", at, models.Actor{ID: "u2", Email: "b@x.io"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteFile(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM files WHERE id = \?`).WithArgs("file1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM files WHERE id = \?`).WithArgs("file1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM files WHERE id = \?`).WithArgs("file2").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("rows-err")))

	ctx := context.Background()
	if err := tc.DeleteFile(ctx, "file1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tc.DeleteFile(ctx, "file1"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	err := tc.DeleteFile(ctx, "file2")
	if err == nil || !regexp.MustCompile(`rows affected error: .*rows-err`).MatchString(err.Error()) {
		t.Fatalf("expected rows affected error, got %v", err)
	}
}

func TestRecordEvent_SetsSeq(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	folder := "f1"
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+file_events\b`).
		WithArgs(sqlmock.AnyArg(), "u1", "a@x.io", "upload", "file", "file1", "q1.pdf", nil, "f1").
		WillReturnResult(sqlmock.NewResult(17, 1))

	ev := &models.AuditEvent{
		TS:         time.Now().UTC(),
		Actor:      models.Actor{ID: "u1", Email: "a@x.io"},
		Action:     models.ActionUpload,
		Target:     models.Target{Type: models.TargetFile, ID: "file1", Name: "q1.pdf"},
		ToFolderID: &folder,
	}
	if err := tc.Record(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Seq != 17 {
		t.Fatalf("want seq 17, got %d", ev.Seq)
	}
}

func TestListByTarget(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM file_events WHERE target_id = \? ORDER BY ts DESC, seq DESC LIMIT \?`).
		WithArgs("file1", 10).
		WillReturnRows(sqlmock.NewRows(eventCols).
			AddRow(int64(2), now, "u2", "b@x.io", "download", "file", "file1", "q1.pdf", "f1", "f1").
			AddRow(int64(1), now, "u1", "a@x.io", "upload", "file", "file1", "q1.pdf", nil, "f1"))

	events, err := tc.ListByTarget(context.Background(), "file1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 || events[0].Action != models.ActionDownload || events[1].FromFolderID != nil {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestListByActor_QueryError(t *testing.T) {
	tc, mock, db := newTiDBWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM file_events WHERE actor_email = \?`).
		WithArgs("a@x.io", 5).
		WillReturnError(errors.New("boom"))

	_, err := tc.ListByActor(context.Background(), "a@x.io", 5)
	if err == nil || !regexp.MustCompile(`failed to query events: .*boom`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped query error, got %v", err)
	}
}
