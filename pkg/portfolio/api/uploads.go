package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
	"github.com/tendant/simple-portfolio/pkg/portfolio/presigned"
)

// PresignRequest is the body of POST /admin/uploads/presign.
type PresignRequest struct {
	ItemID      uuid.UUID `json:"item_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
}

// RecordImageRequest is the body of POST /admin/items/{id}/images.
type RecordImageRequest struct {
	FileURL   string              `json:"file_url"`
	UsageType portfolio.UsageType `json:"usage_type,omitempty"`
	AssetType string              `json:"asset_type,omitempty"`
	MimeType  string              `json:"mime_type,omitempty"`
	SizeBytes int64               `json:"size_bytes,omitempty"`
}

// UploadResponse acknowledges a signed upload.
type UploadResponse struct {
	ObjectKey string `json:"object_key"`
	Size      int64  `json:"size"`
}

func (h *Handler) PresignUpload(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	var req PresignRequest
	if !decode(w, r, &req) {
		return
	}
	upload, err := h.service.PresignUpload(r.Context(), actor, portfolio.PresignUploadRequest{
		ItemID:      req.ItemID,
		FileName:    req.FileName,
		ContentType: req.ContentType,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	render.JSON(w, r, upload)
}

func (h *Handler) RecordImage(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}
	var req RecordImageRequest
	if !decode(w, r, &req) {
		return
	}
	asset, err := h.service.RecordImage(r.Context(), actor, portfolio.RecordImageRequest{
		ItemID:    id,
		FileURL:   req.FileURL,
		UsageType: req.UsageType,
		AssetType: req.AssetType,
		MimeType:  req.MimeType,
		SizeBytes: req.SizeBytes,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, asset)
}

// Upload accepts the bytes of a presigned PUT for memory and filesystem
// storage.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	key, err := h.signer.ValidateRequest(r)
	if err != nil {
		if presigned.IsAuthError(err) {
			writeError(w, r, http.StatusForbidden, "invalid_signature", err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "upload signature check failed", "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "uploads are not configured")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	body := &countingReader{r: http.MaxBytesReader(w, r.Body, MaxUploadBytes)}
	if err := h.uploads.Upload(r.Context(), key, contentType, body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds size limit")
			return
		}
		h.logger.ErrorContext(r.Context(), "upload failed", "object_key", key, "err", err)
		writeError(w, r, http.StatusBadGateway, "storage_error", "failed to store upload")
		return
	}
	h.logger.InfoContext(r.Context(), "object uploaded", "object_key", key, "size", body.n)
	render.JSON(w, r, UploadResponse{ObjectKey: key, Size: body.n})
}

// ServeMedia streams a stored object to readers.
func (h *Handler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" || strings.Contains(key, "..") {
		writeError(w, r, http.StatusNotFound, "not_found", "object not found")
		return
	}
	rc, err := h.media.Download(r.Context(), key)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "not_found", "object not found")
		return
	}
	defer rc.Close()

	if h.uploads != nil {
		if meta, err := h.uploads.GetObjectMeta(r.Context(), key); err == nil {
			if meta.ContentType != "" {
				w.Header().Set("Content-Type", meta.ContentType)
			}
			if meta.Size > 0 {
				w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
			}
		}
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "media stream interrupted", "object_key", key, "err", err)
	}
}

// GCRequest is the body of POST /admin/gc.
type GCRequest struct {
	BatchSize int `json:"batchSize"`
}

// RunGC drains one batch of the asset deletion queue.
func (h *Handler) RunGC(w http.ResponseWriter, r *http.Request) {
	if h.collector == nil {
		writeError(w, r, http.StatusServiceUnavailable, "gc_disabled", "asset garbage collection is not configured")
		return
	}
	var req GCRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.BatchSize < 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "batchSize must not be negative")
		return
	}
	if req.BatchSize == 0 {
		req.BatchSize = h.gcBatchSize
	}
	result, err := h.collector.Run(r.Context(), req.BatchSize)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
