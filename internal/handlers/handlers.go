// Package handlers exposes the document store over HTTP.
package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"

	"github.com/maneesh/commonfiles/internal/logging"
	"github.com/maneesh/commonfiles/internal/models"
)

var tracer = otel.Tracer("commonfiles-handlers")

// FileService is the part of service.Service the handlers call.
type FileService interface {
	CreateFolder(ctx context.Context, name, parentID string, actor models.Actor) (*models.Folder, error)
	ListChildren(ctx context.Context, folderID string) (*models.Children, error)
	Breadcrumbs(ctx context.Context, folderID string) ([]models.Crumb, error)
	Upload(ctx context.Context, r io.Reader, filename, mimeType, folderID string, actor models.Actor) (*models.FileRecord, error)
	Download(ctx context.Context, id string, actor models.Actor) (*models.FileRecord, io.ReadCloser, error)
	Properties(ctx context.Context, id string) (*models.Properties, error)
	Delete(ctx context.Context, id string, actor models.Actor) error
	EventsByActor(ctx context.Context, email string, limit int) ([]*models.AuditEvent, error)
}

// Register mounts every document route on r. All of them require an actor.
func Register(r *mux.Router, svc FileService, logger logging.Logger) {
	write := NewWriteHandler(svc, logger)
	read := NewReadHandler(svc, logger)

	api := r.NewRoute().Subrouter()
	api.Use(RequireActor(logger))

	api.HandleFunc("/folders", write.CreateFolder).Methods(http.MethodPost)
	api.HandleFunc("/folders/{id}/children", read.ListChildren).Methods(http.MethodGet)
	api.HandleFunc("/breadcrumbs", read.Breadcrumbs).Methods(http.MethodGet)
	api.HandleFunc("/files/upload", write.Upload).Methods(http.MethodPost)
	api.HandleFunc("/files/{id}/download", read.Download).Methods(http.MethodGet)
	api.HandleFunc("/files/{id}/properties", read.Properties).Methods(http.MethodGet)
	api.HandleFunc("/files/{id}", write.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/events", read.Events).Methods(http.MethodGet)
}
