package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maneesh/commonfiles/internal/chunker"
	"github.com/maneesh/commonfiles/internal/logging"
	"github.com/maneesh/commonfiles/internal/models"
	"github.com/maneesh/commonfiles/internal/service"
	"github.com/maneesh/commonfiles/internal/storage"
	"github.com/maneesh/commonfiles/internal/storage/memory"
)

type identity struct {
	id, email, role string
}

var (
	owner    = identity{"u1", "owner@corp.io", ""}
	stranger = identity{"u2", "stranger@corp.io", "viewer"}
	root     = identity{"u3", "root@corp.io", "Admin"}
)

func newTestServer(t *testing.T, opts service.Options) *httptest.Server {
	t.Helper()
	store := memory.NewStore()
	stores := storage.Stores{
		Folders: store,
		Files:   store,
		Audit:   store,
		Blobs:   storage.NewChunkedBlobs(memory.NewObjectStore(), chunker.NewChunker(128), chunker.CompressionLZ4, 2),
	}
	svc := service.New(stores, logging.Nop(), opts)

	r := mux.NewRouter()
	Register(r, svc, logging.Nop())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, who identity, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if who.email != "" {
		req.Header.Set(HeaderUserID, who.id)
		req.Header.Set(HeaderUserEmail, who.email)
		req.Header.Set(HeaderUserRole, who.role)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func multipartBody(t *testing.T, field, filename, mimeType string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if mimeType != "" {
		h.Set("Content-Type", mimeType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func createFolder(t *testing.T, srv *httptest.Server, name string, parent *string) *models.Folder {
	t.Helper()
	body, err := json.Marshal(createFolderRequest{Name: name, ParentID: parent})
	require.NoError(t, err)
	resp := do(t, srv, owner, http.MethodPost, "/folders", bytes.NewReader(body), "application/json")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out := decode[folderResponse](t, resp)
	require.True(t, out.OK)
	return out.Folder
}

func upload(t *testing.T, srv *httptest.Server, folderID, filename, mimeType string, data []byte) *models.FileRecord {
	t.Helper()
	body, ct := multipartBody(t, "file", filename, mimeType, data)
	resp := do(t, srv, owner, http.MethodPost, "/files/upload?folderId="+folderID, body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out := decode[fileResponse](t, resp)
	require.True(t, out.OK)
	return out.File
}

func TestMissingIdentityIsUnauthorized(t *testing.T) {
	srv := newTestServer(t, service.Options{})

	resp := do(t, srv, identity{}, http.MethodGet, "/folders/root/children", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.Equal(t, codeUnauthorized, body.Error.Code)
}

func TestCreateFolder_Validation(t *testing.T) {
	srv := newTestServer(t, service.Options{})

	resp := do(t, srv, owner, http.MethodPost, "/folders", strings.NewReader(`{"name":"  "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, codeValidation, decode[errorBody](t, resp).Error.Code)

	resp = do(t, srv, owner, http.MethodPost, "/folders", strings.NewReader(`{`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBreadcrumbsAndChildren(t *testing.T) {
	srv := newTestServer(t, service.Options{})

	a := createFolder(t, srv, "A", nil)
	b := createFolder(t, srv, "B", &a.ID)

	resp := do(t, srv, owner, http.MethodGet, "/breadcrumbs?folderId="+b.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	crumbs := decode[breadcrumbsResponse](t, resp).Breadcrumbs
	assert.Equal(t, []models.Crumb{{ID: "root", Name: "Root"}, {ID: a.ID, Name: "A"}, {ID: b.ID, Name: "B"}}, crumbs)

	resp = do(t, srv, owner, http.MethodGet, "/breadcrumbs", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[breadcrumbsResponse](t, resp).Breadcrumbs, 1)

	resp = do(t, srv, owner, http.MethodGet, "/folders/root/children", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	children := decode[models.Children](t, resp)
	require.Len(t, children.Folders, 1)
	assert.Equal(t, a.ID, children.Folders[0].ID)

	resp = do(t, srv, owner, http.MethodGet, "/folders/unknown/children", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[models.Children](t, resp).Folders)
}

func TestUpload_NoFile(t *testing.T) {
	srv := newTestServer(t, service.Options{})

	body, ct := multipartBody(t, "other", "a.txt", "", []byte("x"))
	resp := do(t, srv, owner, http.MethodPost, "/files/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, owner, http.MethodPost, "/files/upload", strings.NewReader("raw"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpload_TooLarge(t *testing.T) {
	srv := newTestServer(t, service.Options{MaxUploadBytes: 100})

	body, ct := multipartBody(t, "file", "big.bin", "", bytes.Repeat([]byte{1}, 101))
	resp := do(t, srv, owner, http.MethodPost, "/files/upload", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, codeTooLarge, decode[errorBody](t, resp).Error.Code)
}

func TestDownload_Headers(t *testing.T) {
	srv := newTestServer(t, service.Options{})
	data := bytes.Repeat([]byte("pdfdata"), 100)
	file := upload(t, srv, "", "q 1.pdf", "application/pdf", data)

	resp := do(t, srv, stranger, http.MethodGet, "/files/"+file.ID+"/download", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="q 1.pdf"`, resp.Header.Get("Content-Disposition"))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	resp = do(t, srv, owner, http.MethodGet, "/files/nope/download", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDelete_ForbiddenThenAdmin(t *testing.T) {
	srv := newTestServer(t, service.Options{})
	file := upload(t, srv, "", "a.txt", "text/plain", []byte("abc"))

	resp := do(t, srv, stranger, http.MethodDelete, "/files/"+file.ID, nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, srv, owner, http.MethodGet, "/files/"+file.ID+"/properties", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, root, http.MethodDelete, "/files/"+file.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[okResponse](t, resp).OK)

	resp = do(t, srv, root, http.MethodDelete, "/files/"+file.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvents(t *testing.T) {
	srv := newTestServer(t, service.Options{})
	upload(t, srv, "", "a.txt", "", []byte("abc"))

	resp := do(t, srv, root, http.MethodGet, "/events?actor="+owner.email, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[eventsResponse](t, resp).Events
	require.Len(t, events, 1)
	assert.Equal(t, models.ActionUpload, events[0].Action)

	resp = do(t, srv, root, http.MethodGet, "/events", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, root, http.MethodGet, "/events?actor=x&limit=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScenario_ReportsQ1OverHTTP(t *testing.T) {
	srv := newTestServer(t, service.Options{})

	reports := createFolder(t, srv, "Reports", nil)
	data := bytes.Repeat([]byte{0xAB}, 1024)
	file := upload(t, srv, reports.ID, "q1.pdf", "application/pdf", data)
	assert.Equal(t, int64(1024), file.Size)

	resp := do(t, srv, owner, http.MethodGet, "/folders/"+reports.ID+"/children", nil, "")
	children := decode[models.Children](t, resp)
	require.Len(t, children.Files, 1)
	assert.Equal(t, "q1.pdf", children.Files[0].Name)
	assert.Equal(t, int64(1024), children.Files[0].Size)

	resp = do(t, srv, owner, http.MethodGet, "/files/"+file.ID+"/download", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Len(t, got, 1024)

	resp = do(t, srv, owner, http.MethodDelete, "/files/"+file.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, owner, http.MethodGet, "/files/"+file.ID+"/properties", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
