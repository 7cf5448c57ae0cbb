package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maneesh/commonfiles/internal/common"
	"github.com/maneesh/commonfiles/internal/logging"
)

const (
	codeValidation   = "VALIDATION_ERROR"
	codeNotFound     = "NOT_FOUND"
	codeForbidden    = "FORBIDDEN"
	codeUnauthorized = "UNAUTHORIZED"
	codeTooLarge     = "FILE_TOO_LARGE"
	codeInternal     = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeServiceError maps service errors to HTTP responses. Internal
// failures are logged with their cause and reported without it.
func writeServiceError(ctx context.Context, w http.ResponseWriter, logger logging.Logger, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, common.ErrForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, err.Error())
	case errors.Is(err, common.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, codeTooLarge, err.Error())
	default:
		logger.Error(ctx, "request failed", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}
