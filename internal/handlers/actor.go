package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/maneesh/commonfiles/internal/logging"
	"github.com/maneesh/commonfiles/internal/models"
)

// Identity headers set by the portal's session layer.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"

	roleAdmin = "admin"
)

type actorKey struct{}

// RequireActor rejects requests without an identity and stores the
// resolved actor in the request context.
func RequireActor(logger logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email := strings.TrimSpace(r.Header.Get(HeaderUserEmail))
			if email == "" {
				logger.Debug(r.Context(), "request without identity", "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing "+HeaderUserEmail+" header")
				return
			}
			actor := models.Actor{
				ID:    strings.TrimSpace(r.Header.Get(HeaderUserID)),
				Email: email,
				Admin: strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderUserRole)), roleAdmin),
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	}
}

// actorFrom returns the actor stored by RequireActor.
func actorFrom(ctx context.Context) models.Actor {
	actor, _ := ctx.Value(actorKey{}).(models.Actor)
	return actor
}
