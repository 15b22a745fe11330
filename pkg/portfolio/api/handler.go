// Package api exposes the portfolio workflow over HTTP: public reader
// routes, JWT-protected admin routes, signed uploads and metrics.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
	"github.com/tendant/simple-portfolio/pkg/portfolio/autosave"
	"github.com/tendant/simple-portfolio/pkg/portfolio/gc"
	"github.com/tendant/simple-portfolio/pkg/portfolio/presigned"
)

// MaxUploadBytes bounds a single signed upload.
const MaxUploadBytes = 20 << 20

// Downloader streams stored objects back for media serving.
type Downloader interface {
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)
}

// Handler serves the portfolio HTTP API.
type Handler struct {
	service     portfolio.Service
	tokenAuth   *jwtauth.JWTAuth
	autosave    *autosave.Coordinator
	collector   *gc.Collector
	gcBatchSize int
	signer      *presigned.Signer
	uploads     portfolio.BlobStore
	mediaPrefix string
	media       Downloader
	metrics     *Metrics
	gatherer    prometheus.Gatherer
	logger      *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithAutosave sets the coordinator behind PUT /admin/items/{id}/draft.
func WithAutosave(c *autosave.Coordinator) Option {
	return func(h *Handler) {
		h.autosave = c
	}
}

// WithCollector enables POST /admin/gc.
func WithCollector(c *gc.Collector, defaultBatchSize int) Option {
	return func(h *Handler) {
		h.collector = c
		h.gcBatchSize = defaultBatchSize
	}
}

// WithSignedUploads accepts PUTs to URLs signed by signer and stores the
// bytes in store.
func WithSignedUploads(signer *presigned.Signer, store portfolio.BlobStore) Option {
	return func(h *Handler) {
		h.signer = signer
		h.uploads = store
	}
}

// WithMedia serves stored objects under prefix, e.g. "/media".
func WithMedia(prefix string, d Downloader) Option {
	return func(h *Handler) {
		h.mediaPrefix = "/" + strings.Trim(prefix, "/")
		h.media = d
	}
}

// WithMetrics instruments requests and exposes gatherer on /metrics.
func WithMetrics(m *Metrics, gatherer prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.metrics = m
		h.gatherer = gatherer
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// New creates a Handler. Without WithAutosave a coordinator with default
// delays is created; call Shutdown to stop it.
func New(service portfolio.Service, tokenAuth *jwtauth.JWTAuth, opts ...Option) *Handler {
	h := &Handler{
		service:     service,
		tokenAuth:   tokenAuth,
		gcBatchSize: gc.DefaultBatchSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.autosave == nil {
		h.autosave = autosave.New(service, autosave.WithLogger(h.logger))
	}
	return h
}

// Shutdown stops pending debounced saves.
func (h *Handler) Shutdown(ctx context.Context) error {
	return h.autosave.Shutdown(ctx)
}

// Routes returns the full router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	r.Get("/posts", h.ListPublished(portfolio.TypePost))
	r.Get("/posts/{slug}", h.GetPublished(portfolio.TypePost))
	r.Get("/projects", h.ListPublished(portfolio.TypeProject))
	r.Get("/projects/{slug}", h.GetPublished(portfolio.TypeProject))

	if h.signer != nil && h.uploads != nil {
		r.Put(h.signer.PathPrefix()+"*", h.Upload)
	}
	if h.media != nil {
		r.Get(h.mediaPrefix+"/*", h.ServeMedia)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(jwtauth.Verifier(h.tokenAuth))
		r.Use(authenticate)

		r.Route("/items", func(r chi.Router) {
			r.Post("/", h.CreateItem)
			r.Get("/", h.ListItems)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetDraft)
				r.Patch("/", h.UpdateItem)
				r.Delete("/", h.DeleteItem)

				r.Post("/autosave", h.Autosave)
				r.Put("/draft", h.QueueDraft)
				r.Get("/save-status", h.SaveStatus)
				r.Post("/versions", h.SaveVersion)
				r.Get("/versions", h.ListVersions)

				r.Post("/publish", h.Publish)
				r.Post("/unpublish", h.Unpublish)
				r.Post("/restore", h.Restore)

				r.Get("/draft-changes", h.DraftChanges)
				r.Get("/diff", h.Diff)

				r.Post("/images", h.RecordImage)
			})
		})
		r.Get("/versions/{versionID}", h.GetVersion)
		r.Post("/uploads/presign", h.PresignUpload)
		r.Post("/gc", h.RunGC)
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
