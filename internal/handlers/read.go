package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/commonfiles/internal/logging"
	"github.com/maneesh/commonfiles/internal/models"
)

// ReadHandler serves the read routes. Downloads are recorded in the audit
// trail by the service; the others are side-effect free.
type ReadHandler struct {
	svc    FileService
	logger logging.Logger
}

// NewReadHandler creates a new read handler
func NewReadHandler(svc FileService, logger logging.Logger) *ReadHandler {
	return &ReadHandler{svc: svc, logger: logger}
}

type breadcrumbsResponse struct {
	Breadcrumbs []models.Crumb `json:"breadcrumbs"`
}

type eventsResponse struct {
	Events []*models.AuditEvent `json:"events"`
}

// ListChildren handles GET /folders/{id}/children
func (rh *ReadHandler) ListChildren(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "list_children", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("folder_id", id))

	children, err := rh.svc.ListChildren(ctx, id)
	if err != nil {
		span.RecordError(err)
		writeServiceError(ctx, w, rh.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, children)
}

// Breadcrumbs handles GET /breadcrumbs?folderId=
func (rh *ReadHandler) Breadcrumbs(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "breadcrumbs", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	folderID := r.URL.Query().Get("folderId")
	if folderID == "" {
		folderID = models.RootID
	}

	crumbs, err := rh.svc.Breadcrumbs(ctx, folderID)
	if err != nil {
		span.RecordError(err)
		writeServiceError(ctx, w, rh.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, breadcrumbsResponse{Breadcrumbs: crumbs})
}

// Download handles GET /files/{id}/download
func (rh *ReadHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "download_file", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("file_id", id))

	file, body, err := rh.svc.Download(ctx, id, actorFrom(ctx))
	if err != nil {
		span.RecordError(err)
		writeServiceError(ctx, w, rh.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", file.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
	w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	w.WriteHeader(http.StatusOK)

	// Headers are gone by now; a failure can only cut the stream short.
	n, err := io.Copy(w, body)
	if err != nil {
		span.RecordError(err)
		rh.logger.Error(ctx, "download interrupted", "file_id", id, "written", n, "error", err)
		return
	}
	span.SetAttributes(attribute.Int64("bytes_written", n))
}

// Properties handles GET /files/{id}/properties
func (rh *ReadHandler) Properties(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "file_properties", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("file_id", id))

	props, err := rh.svc.Properties(ctx, id)
	if err != nil {
		span.RecordError(err)
		writeServiceError(ctx, w, rh.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, props)
}

// Events handles GET /events?actor=&limit=
func (rh *ReadHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "events_by_actor", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, codeValidation, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = v
	}

	events, err := rh.svc.EventsByActor(ctx, q.Get("actor"), limit)
	if err != nil {
		span.RecordError(err)
		writeServiceError(ctx, w, rh.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}
