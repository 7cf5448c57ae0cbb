package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/commonfiles/internal/logging"
	"github.com/maneesh/commonfiles/internal/models"
)

// uploadField is the multipart form field carrying the file.
const uploadField = "file"

// WriteHandler serves the mutating routes: folder creation, upload, delete.
type WriteHandler struct {
	svc    FileService
	logger logging.Logger
}

// NewWriteHandler creates a new write handler
func NewWriteHandler(svc FileService, logger logging.Logger) *WriteHandler {
	return &WriteHandler{svc: svc, logger: logger}
}

type createFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parentId"`
}

type folderResponse struct {
	OK     bool           `json:"ok"`
	Folder *models.Folder `json:"folder"`
}

type fileResponse struct {
	OK   bool               `json:"ok"`
	File *models.FileRecord `json:"file"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// CreateFolder handles POST /folders
func (wh *WriteHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "create_folder", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	var req createFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid JSON body")
		return
	}
	parentID := ""
	if req.ParentID != nil {
		parentID = *req.ParentID
	}

	folder, err := wh.svc.CreateFolder(ctx, req.Name, parentID, actorFrom(ctx))
	if err != nil {
		span.RecordError(err)
		writeServiceError(ctx, w, wh.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, folderResponse{OK: true, Folder: folder})
}

// Upload handles POST /files/upload?folderId=. The multipart body is
// streamed; the file part is never buffered whole.
func (wh *WriteHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload_file", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	folderID := r.URL.Query().Get("folderId")
	part, err := fileBodyPart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	defer part.Close()

	span.SetAttributes(attribute.String("file_name", part.FileName()))

	file, err := wh.svc.Upload(ctx, part, part.FileName(), part.Header.Get("Content-Type"), folderID, actorFrom(ctx))
	if err != nil {
		span.RecordError(err)
		writeServiceError(ctx, w, wh.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, fileResponse{OK: true, File: file})
}

var errNoFile = errors.New("no file uploaded")

// fileBodyPart advances the multipart reader to the file field.
func fileBodyPart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errNoFile
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errNoFile
		}
		if err != nil {
			return nil, fmt.Errorf("malformed multipart body: %w", err)
		}
		if part.FormName() == uploadField && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

// Delete handles DELETE /files/{id}
func (wh *WriteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "delete_file", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("file_id", id))

	if err := wh.svc.Delete(ctx, id, actorFrom(ctx)); err != nil {
		span.RecordError(err)
		writeServiceError(ctx, w, wh.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
