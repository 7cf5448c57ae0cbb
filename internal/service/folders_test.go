package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maneesh/commonfiles/internal/common"
	"github.com/maneesh/commonfiles/internal/models"
)

func TestCreateFolder(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	folder, err := f.svc.CreateFolder(ctx, "  Reports  ", "root", admin)
	require.NoError(t, err)
	assert.Equal(t, "Reports", folder.Name)
	assert.Nil(t, folder.ParentID)
	assert.NotEmpty(t, folder.ID)
	assert.Equal(t, admin.Email, folder.CreatedBy.Email)
	assert.False(t, folder.CreatedBy.Admin)
	assert.Equal(t, folder.CreatedAt, folder.UpdatedAt)

	_, err = f.svc.CreateFolder(ctx, "   ", "", alice)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = f.svc.CreateFolder(ctx, "x", "", models.Actor{})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestCreateFolder_UnknownParent(t *testing.T) {
	lenient := newFixture(t, Options{})
	folder, err := lenient.svc.CreateFolder(context.Background(), "Orphan", "no-such-folder", alice)
	require.NoError(t, err)
	assert.Equal(t, "no-such-folder", *folder.ParentID)

	strict := newFixture(t, Options{StrictParents: true})
	_, err = strict.svc.CreateFolder(context.Background(), "Orphan", "no-such-folder", alice)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = strict.svc.Upload(context.Background(), strings.NewReader("x"), "a.txt", "", "no-such-folder", alice)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCreateFolder_ParentIDLength(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.CreateFolder(ctx, "Too long", strings.Repeat("a", MaxFolderIDLength+1), alice)
	require.ErrorIs(t, err, common.ErrInvalidInput)

	legacy := strings.Repeat("a", 40)
	folder, err := f.svc.CreateFolder(ctx, "Legacy", legacy, alice)
	require.NoError(t, err)

	events, err := f.svc.EventsByActor(ctx, alice.Email, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, folder.ID, events[0].Target.ID)
	assert.Equal(t, legacy, *events[0].ToFolderID)
}

func TestListChildren(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	top, err := f.svc.CreateFolder(ctx, "Top", "", alice)
	require.NoError(t, err)

	root, err := f.svc.ListChildren(ctx, "root")
	require.NoError(t, err)
	require.Len(t, root.Folders, 1)
	assert.Equal(t, top.ID, root.Folders[0].ID)

	inside, err := f.svc.ListChildren(ctx, top.ID)
	require.NoError(t, err)
	assert.NotNil(t, inside.Folders)
	assert.NotNil(t, inside.Files)
	assert.Empty(t, inside.Folders)
	assert.Empty(t, inside.Files)

	_, err = f.svc.CreateFolder(ctx, "b", top.ID, alice)
	require.NoError(t, err)
	_, err = f.svc.CreateFolder(ctx, "a", top.ID, alice)
	require.NoError(t, err)
	f.upload(t, []byte("2"), "z.txt", "", top.ID, alice)
	f.upload(t, []byte("1"), "m.txt", "", top.ID, alice)

	inside, err = f.svc.ListChildren(ctx, top.ID)
	require.NoError(t, err)
	require.Len(t, inside.Folders, 2)
	require.Len(t, inside.Files, 2)
	assert.Equal(t, "a", inside.Folders[0].Name)
	assert.Equal(t, "m.txt", inside.Files[0].Name)

	unknown, err := f.svc.ListChildren(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, unknown.Folders)
	assert.Empty(t, unknown.Files)
}

func TestCreateFolder_ConcurrentDuplicatesBothSucceed(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	parent, err := f.svc.CreateFolder(ctx, "Shared", "", alice)
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateFolder(ctx, "Minutes", parent.ID, alice)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	children, err := f.svc.ListChildren(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children.Folders, n)
	ids := map[string]bool{}
	for _, c := range children.Folders {
		assert.Equal(t, "Minutes", c.Name)
		ids[c.ID] = true
	}
	assert.Len(t, ids, n)
}

func TestBreadcrumbs_Root(t *testing.T) {
	f := newFixture(t, Options{})

	for _, id := range []string{"root", ""} {
		crumbs, err := f.svc.Breadcrumbs(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, []models.Crumb{{ID: "root", Name: "Root"}}, crumbs)
	}
}

func TestBreadcrumbs_Chain(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	a, err := f.svc.CreateFolder(ctx, "A", "", alice)
	require.NoError(t, err)
	b, err := f.svc.CreateFolder(ctx, "B", a.ID, alice)
	require.NoError(t, err)

	crumbs, err := f.svc.Breadcrumbs(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.Crumb{
		{ID: "root", Name: "Root"},
		{ID: a.ID, Name: "A"},
		{ID: b.ID, Name: "B"},
	}, crumbs)
}

func TestBreadcrumbs_UnknownFolder(t *testing.T) {
	f := newFixture(t, Options{})

	crumbs, err := f.svc.Breadcrumbs(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, []models.Crumb{{ID: "root", Name: "Root"}}, crumbs)
}

func TestBreadcrumbs_DanglingParent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	child, err := f.svc.CreateFolder(ctx, "Child", "vanished", alice)
	require.NoError(t, err)

	crumbs, err := f.svc.Breadcrumbs(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.Crumb{{ID: "root", Name: "Root"}, {ID: child.ID, Name: "Child"}}, crumbs)
}

func putFolder(f *fixture, id, parent string) {
	folder := &models.Folder{ID: id, Name: "F" + id, CreatedAt: time.Now()}
	if parent != "" {
		folder.ParentID = &parent
	}
	f.store.PutFolder(folder)
}

func TestBreadcrumbs_CycleIsInconsistency(t *testing.T) {
	f := newFixture(t, Options{})
	putFolder(f, "x", "y")
	putFolder(f, "y", "z")
	putFolder(f, "z", "x")

	_, err := f.svc.Breadcrumbs(context.Background(), "x")
	assert.ErrorIs(t, err, common.ErrInternalInconsistency)

	putFolder(f, "self", "self")
	_, err = f.svc.Breadcrumbs(context.Background(), "self")
	assert.ErrorIs(t, err, common.ErrInternalInconsistency)
}

func TestBreadcrumbs_DepthBound(t *testing.T) {
	f := newFixture(t, Options{MaxDepth: 5})
	parent := ""
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("d%d", i)
		putFolder(f, id, parent)
		parent = id
	}

	_, err := f.svc.Breadcrumbs(context.Background(), "d5")
	assert.ErrorIs(t, err, common.ErrInternalInconsistency)

	crumbs, err := f.svc.Breadcrumbs(context.Background(), "d4")
	require.NoError(t, err)
	assert.Len(t, crumbs, 6)
}

func TestDecideAccess(t *testing.T) {
	file := &models.FileRecord{UploadedBy: alice}

	assert.Equal(t, AccessOwner, DecideAccess(file, alice))
	assert.Equal(t, AccessOwner, DecideAccess(&models.FileRecord{UploadedBy: admin}, admin))
	assert.Equal(t, AccessAdmin, DecideAccess(file, admin))
	assert.Equal(t, AccessOther, DecideAccess(file, bob))
	assert.False(t, AccessOther.CanDelete())
	assert.Equal(t, "admin", AccessAdmin.String())
}
