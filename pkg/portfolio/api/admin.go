package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
	"github.com/tendant/simple-portfolio/pkg/portfolio/diff"
)

// DiffBarWidth is the cell count of the change bar returned with diffs.
const DiffBarWidth = 20

// CreateItemRequest is the body of POST /admin/items.
type CreateItemRequest struct {
	Type    portfolio.ContentType `json:"type"`
	Title   string                `json:"title"`
	Slug    string                `json:"slug,omitempty"`
	Summary string                `json:"summary,omitempty"`
	Tags    []string              `json:"tags,omitempty"`
}

// UpdateItemRequest is the body of PATCH /admin/items/{id}. Absent fields
// are left unchanged.
type UpdateItemRequest struct {
	Slug       *string  `json:"slug,omitempty"`
	CoverImage *string  `json:"cover_image,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// DraftRequest is the editor state sent by autosave and save endpoints.
type DraftRequest struct {
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	Body    string `json:"body"`
}

func (d DraftRequest) input(itemID uuid.UUID) portfolio.DraftInput {
	return portfolio.DraftInput{ItemID: itemID, Title: d.Title, Summary: d.Summary, Body: d.Body}
}

// SaveVersionRequest is the body of POST /admin/items/{id}/versions.
type SaveVersionRequest struct {
	DraftRequest
	Force             bool   `json:"force,omitempty"`
	ChangeDescription string `json:"change_description,omitempty"`
}

// PublishRequest is the optional body of POST /admin/items/{id}/publish.
type PublishRequest struct {
	Draft             *DraftRequest `json:"draft,omitempty"`
	ChangeDescription string        `json:"change_description,omitempty"`
}

// RestoreRequest is the body of POST /admin/items/{id}/restore.
type RestoreRequest struct {
	VersionNumber int `json:"version_number"`
}

// DraftChangesResponse reports whether the draft differs from the live
// snapshot, with the diff when it does.
type DraftChangesResponse struct {
	HasChanges bool         `json:"has_changes"`
	Diff       *diff.Result `json:"diff,omitempty"`
	Bar        *diff.Bar    `json:"bar,omitempty"`
}

// DiffResponse is the body of GET /admin/items/{id}/diff.
type DiffResponse struct {
	*diff.Result
	Bar diff.Bar `json:"bar"`
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	var req CreateItemRequest
	if !decode(w, r, &req) {
		return
	}
	item, err := h.service.CreateItem(r.Context(), portfolio.CreateItemRequest{
		Type:    req.Type,
		Title:   req.Title,
		Slug:    req.Slug,
		Summary: req.Summary,
		OwnerID: actor,
		Tags:    req.Tags,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, item)
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	items, err := h.service.ListItems(r.Context(), actor, portfolio.ListItemsRequest{
		Type:   portfolio.ContentType(r.URL.Query().Get("type")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	render.JSON(w, r, items)
}

func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	draft, err := h.service.GetDraft(r.Context(), actor, id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	render.JSON(w, r, draft)
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	var req UpdateItemRequest
	if !decode(w, r, &req) {
		return
	}
	item, err := h.service.UpdateItemMeta(r.Context(), actor, portfolio.UpdateItemMetaRequest{
		ItemID:     id,
		Slug:       req.Slug,
		CoverImage: req.CoverImage,
		Tags:       req.Tags,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	render.JSON(w, r, item)
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	h.autosave.Cancel(id)
	if err := h.service.DeleteItem(r.Context(), actor, id); err != nil {
		h.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Autosave writes the draft immediately.
func (h *Handler) Autosave(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	var req DraftRequest
	if !decode(w, r, &req) {
		return
	}
	version, err := h.service.Autosave(r.Context(), actor, req.input(id))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	render.JSON(w, r, version)
}

// QueueDraft hands the draft to the debounced autosave coordinator. Saving
// happens in the background; poll save-status for the outcome.
func (h *Handler) QueueDraft(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	var req DraftRequest
	if !decode(w, r, &req) {
		return
	}
	// Reject foreign items before queuing.
	if _, err := h.service.GetDraft(r.Context(), actor, id); err != nil {
		h.serviceError(w, r, err)
		return
	}
	status, err := h.autosave.Edit(actor, req.input(id))
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "shutting_down", err.Error())
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, status)
}

func (h *Handler) SaveStatus(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	if _, err := h.service.GetDraft(r.Context(), actor, id); err != nil {
		h.serviceError(w, r, err)
		return
	}
	render.JSON(w, r, h.autosave.Status(id))
}

// SaveVersion runs a similarity-routed save. The response is 201 when a
// new version was created and 200 when the current one was updated.
func (h *Handler) SaveVersion(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	var req SaveVersionRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.service.SmartSaveVersion(r.Context(), actor, portfolio.SmartSaveRequest{
		Draft:             req.input(id),
		ForceNewVersion:   req.Force,
		ChangeDescription: req.ChangeDescription,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	if result.Created {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, result)
}

func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	versions, err := h.service.ListVersions(r.Context(), actor, id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	render.JSON(w, r, versions)
}

func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	versionID, err := uuid.Parse(chi.URLParam(r, "versionID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "invalid version id")
		return
	}
	version, err := h.service.GetVersion(r.Context(), actor, versionID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	render.JSON(w, r, version)
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	var req PublishRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	publish := portfolio.PublishRequest{ItemID: id, ChangeDescription: req.ChangeDescription}
	if req.Draft != nil {
		draft := req.Draft.input(id)
		publish.Draft = &draft
	}
	// A pending debounced save must not overwrite what is being published.
	h.autosave.Cancel(id)
	item, err := h.service.Publish(r.Context(), actor, publish)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	render.JSON(w, r, item)
}

func (h *Handler) Unpublish(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	item, err := h.service.Unpublish(r.Context(), actor, id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	render.JSON(w, r, item)
}

func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	var req RestoreRequest
	if !decode(w, r, &req) {
		return
	}
	h.autosave.Cancel(id)
	version, err := h.service.RestoreVersion(r.Context(), actor, id, req.VersionNumber)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, version)
}

func (h *Handler) DraftChanges(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	changed, err := h.service.HasDraftChanges(r.Context(), actor, id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	resp := DraftChangesResponse{HasChanges: changed}
	if changed {
		result, err := h.service.DiffDraftAgainstPublished(r.Context(), actor, id)
		switch {
		case err == nil:
			bar := result.Stats.Bar(DiffBarWidth)
			resp.Diff = result
			resp.Bar = &bar
		case !errors.Is(err, portfolio.ErrNotPublished):
			h.serviceError(w, r, err)
			return
		}
	}
	render.JSON(w, r, resp)
}

// Diff compares two version numbers given as ?from= and ?to=.
func (h *Handler) Diff(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	from, err := queryInt(r, "from", 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	to, err := queryInt(r, "to", 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if from <= 0 || to <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "from and to version numbers are required")
		return
	}
	result, err := h.service.DiffVersions(r.Context(), actor, id, from, to)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	render.JSON(w, r, DiffResponse{Result: result, Bar: result.Stats.Bar(DiffBarWidth)})
}

// itemRequest resolves the actor and the {id} path parameter.
func (h *Handler) itemRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "a valid bearer token is required")
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "invalid item id")
		return uuid.Nil, uuid.Nil, false
	}
	return actor, id, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}
