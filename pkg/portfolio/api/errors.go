package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a machine-readable code and a message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// serviceError maps a service error onto an HTTP status and code.
func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, portfolio.ErrNotPublished):
		writeError(w, r, http.StatusNotFound, "not_published", "not yet published")
	case errors.Is(err, portfolio.ErrNotFound):
		// Also catches non-owner access, which reads as missing.
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, portfolio.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, "forbidden", "you do not own this item")
	case errors.Is(err, portfolio.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, portfolio.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	case portfolio.IsStorageError(err):
		h.logger.ErrorContext(r.Context(), "storage failure", "path", r.URL.Path, "err", err)
		writeError(w, r, http.StatusBadGateway, "storage_error", "storage backend failed")
	default:
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
