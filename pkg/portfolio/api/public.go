package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
)

const defaultPageSize = 20

// ListPublished lists published items of itemType, optionally by ?tag=.
func (h *Handler) ListPublished(itemType portfolio.ContentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := pagination(r)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		views, err := h.service.ListPublished(r.Context(), portfolio.ListPublishedRequest{
			Type:    itemType,
			TagSlug: r.URL.Query().Get("tag"),
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		render.JSON(w, r, views)
	}
}

// GetPublished returns the published snapshot of one item by slug.
func (h *Handler) GetPublished(itemType portfolio.ContentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := h.service.GetPublished(r.Context(), itemType, chi.URLParam(r, "slug"))
		if err != nil {
			h.serviceError(w, r, err)
			return
		}
		render.JSON(w, r, view)
	}
}

func pagination(r *http.Request) (limit, offset int, err error) {
	limit, err = queryInt(r, "limit", defaultPageSize)
	if err != nil {
		return 0, 0, err
	}
	offset, err = queryInt(r, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	if limit < 0 || offset < 0 {
		return 0, 0, fmt.Errorf("limit and offset must not be negative")
	}
	return limit, offset, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}
