package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
	"github.com/tendant/simple-portfolio/pkg/portfolio/assetref"
	"github.com/tendant/simple-portfolio/pkg/portfolio/autosave"
	"github.com/tendant/simple-portfolio/pkg/portfolio/gc"
	"github.com/tendant/simple-portfolio/pkg/portfolio/presigned"
	"github.com/tendant/simple-portfolio/pkg/portfolio/repo/memory"
	memorystorage "github.com/tendant/simple-portfolio/pkg/portfolio/storage/memory"
)

const testSecret = "test-secret-test-secret-test-secret"

type testServer struct {
	router chi.Router
	auth   string
	owner  uuid.UUID
	h      *Handler
}

func setupHandlerTest(t *testing.T) *testServer {
	t.Helper()
	repo := memory.New()
	signer := presigned.New("0123456789abcdef0123456789abcdef", presigned.WithBaseURL("http://example.com"))
	store := memorystorage.New(signer)
	resolver, err := assetref.NewResolver("http://example.com/media")
	require.NoError(t, err)

	service, err := portfolio.New(
		portfolio.WithRepository(repo),
		portfolio.WithBlobStore("memory", store),
		portfolio.WithAssetResolver(resolver),
	)
	require.NoError(t, err)

	collector, err := gc.New(repo, store)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	tokenAuth := NewTokenAuth(testSecret)
	h := New(service, tokenAuth,
		WithAutosave(autosave.New(service,
			autosave.WithContentDelay(10*time.Millisecond),
			autosave.WithSnapshotDelay(10*time.Millisecond))),
		WithCollector(collector, 10),
		WithSignedUploads(signer, store),
		WithMedia("/media", store),
		WithMetrics(NewMetrics(reg), reg),
	)
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })

	owner := uuid.New()
	token, err := IssueToken(tokenAuth, owner, time.Hour)
	require.NoError(t, err)

	return &testServer{router: h.Routes(), auth: "Bearer " + token, owner: owner, h: h}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.doAs(t, s.auth, method, path, body)
}

func (s *testServer) doAs(t *testing.T, auth, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func paragraph(text string) string {
	data, _ := json.Marshal([]map[string]any{{
		"type":    "paragraph",
		"content": []map[string]any{{"type": "text", "text": text}},
	}})
	return string(data)
}

func (s *testServer) createItem(t *testing.T, itemType, title string) *portfolio.ContentItem {
	t.Helper()
	w := s.do(t, http.MethodPost, "/admin/items", CreateItemRequest{Type: portfolio.ContentType(itemType), Title: title})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody[*portfolio.ContentItem](t, w)
}

func TestAdminRequiresToken(t *testing.T) {
	s := setupHandlerTest(t)

	w := s.doAs(t, "", http.MethodGet, "/admin/items", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeBody[ErrorResponse](t, w).Error.Code)

	w = s.doAs(t, "Bearer not-a-token", http.MethodGet, "/admin/items", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := IssueToken(NewTokenAuth("some-other-secret-some-other-secret"), s.owner, time.Hour)
	require.NoError(t, err)
	w = s.doAs(t, "Bearer "+other, http.MethodGet, "/admin/items", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPublishWorkflowOverHTTP(t *testing.T) {
	s := setupHandlerTest(t)
	item := s.createItem(t, "post", "Hello World")
	base := "/admin/items/" + item.ID.String()

	w := s.do(t, http.MethodPost, base+"/autosave", DraftRequest{Title: "Hello World", Body: paragraph("first draft text")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decodeBody[*portfolio.ContentVersion](t, w).VersionNumber)

	w = s.do(t, http.MethodPost, base+"/versions", SaveVersionRequest{
		DraftRequest: DraftRequest{Title: "Hello World", Body: paragraph("completely rewritten body now")},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	saved := decodeBody[portfolio.SaveResult](t, w)
	assert.True(t, saved.Created)
	assert.Equal(t, 2, saved.Version.VersionNumber)

	w = s.do(t, http.MethodGet, "/posts/hello-world", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_published", decodeBody[ErrorResponse](t, w).Error.Code)

	w = s.do(t, http.MethodPost, base+"/publish", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	published := decodeBody[*portfolio.ContentItem](t, w)
	assert.Equal(t, saved.Version.ID, *published.PublishedVersionID)

	w = s.doAs(t, "", http.MethodGet, "/posts/hello-world", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decodeBody[*portfolio.PublishedView](t, w)
	assert.Equal(t, 2, view.VersionNumber)
	assert.Equal(t, paragraph("completely rewritten body now"), view.BodyJSON)

	w = s.doAs(t, "", http.MethodGet, "/posts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]*portfolio.PublishedView](t, w), 1)

	w = s.do(t, http.MethodGet, base+"/draft-changes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeBody[DraftChangesResponse](t, w).HasChanges)

	w = s.do(t, http.MethodPost, base+"/autosave", DraftRequest{Title: "Hello World", Body: paragraph("completely rewritten body now and more")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, base+"/draft-changes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	changes := decodeBody[DraftChangesResponse](t, w)
	assert.True(t, changes.HasChanges)
	require.NotNil(t, changes.Diff)
	assert.Positive(t, changes.Diff.Stats.Added)
	require.NotNil(t, changes.Bar)

	w = s.doAs(t, "", http.MethodGet, "/posts/hello-world", nil)
	assert.Equal(t, paragraph("completely rewritten body now"), decodeBody[*portfolio.PublishedView](t, w).BodyJSON)

	w = s.do(t, http.MethodPost, base+"/unpublish", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.doAs(t, "", http.MethodGet, "/posts/hello-world", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_published", decodeBody[ErrorResponse](t, w).Error.Code)

	w = s.do(t, http.MethodGet, base+"/versions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	versions := decodeBody[[]*portfolio.VersionWithCreator](t, w)
	require.Len(t, versions, 3)
	assert.Equal(t, 3, versions[0].VersionNumber)

	w = s.do(t, http.MethodGet, "/admin/versions/"+versions[1].ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decodeBody[*portfolio.ContentVersion](t, w).VersionNumber)
}

func TestRestoreAndDiff(t *testing.T) {
	s := setupHandlerTest(t)
	item := s.createItem(t, "project", "Robot Arm")
	base := "/admin/items/" + item.ID.String()

	w := s.do(t, http.MethodPost, base+"/autosave", DraftRequest{Title: "Robot Arm", Body: paragraph("servo notes")})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, base+"/versions", SaveVersionRequest{
		DraftRequest: DraftRequest{Title: "Robot Arm", Body: paragraph("stepper notes")},
		Force:        true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, base+"/diff?from=1&to=2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	d := decodeBody[DiffResponse](t, w)
	assert.Equal(t, 1, d.Stats.Added)
	assert.Equal(t, 1, d.Stats.Removed)
	assert.Equal(t, DiffBarWidth, d.Bar.Added+d.Bar.Removed+d.Bar.Neutral)

	w = s.do(t, http.MethodGet, base+"/diff?from=1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodGet, base+"/diff?from=1&to=9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, base+"/restore", RestoreRequest{VersionNumber: 1})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	restored := decodeBody[*portfolio.ContentVersion](t, w)
	assert.Equal(t, 3, restored.VersionNumber)
	assert.Equal(t, paragraph("servo notes"), restored.BodyJSON)
}

func TestItemCRUD(t *testing.T) {
	s := setupHandlerTest(t)
	item := s.createItem(t, "post", "First Post")
	base := "/admin/items/" + item.ID.String()

	w := s.do(t, http.MethodPost, "/admin/items", CreateItemRequest{Type: portfolio.TypePost, Title: "First Post"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/admin/items", CreateItemRequest{Type: "video", Title: "Nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/admin/items", "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	slug := "renamed-post"
	w = s.do(t, http.MethodPatch, base, UpdateItemRequest{Slug: &slug, Tags: []string{"Go"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, slug, decodeBody[*portfolio.ContentItem](t, w).Slug)

	w = s.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	draft := decodeBody[portfolio.Draft](t, w)
	require.Len(t, draft.Tags, 1)
	assert.Equal(t, "go", draft.Tags[0].Slug)

	w = s.do(t, http.MethodGet, "/admin/items?type=post", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]*portfolio.ContentItem](t, w), 1)

	w = s.do(t, http.MethodGet, "/admin/items/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestForeignItemLooksMissing(t *testing.T) {
	s := setupHandlerTest(t)
	item := s.createItem(t, "post", "Mine")
	unknown := uuid.New()

	token, err := IssueToken(s.h.tokenAuth, uuid.New(), time.Hour)
	require.NoError(t, err)
	intruder := "Bearer " + token

	for _, tc := range []struct {
		method, suffix string
		body           any
	}{
		{http.MethodGet, "", nil},
		{http.MethodPost, "/autosave", DraftRequest{Title: "x"}},
		{http.MethodPut, "/draft", DraftRequest{Title: "x"}},
		{http.MethodPost, "/publish", nil},
	} {
		foreign := s.doAs(t, intruder, tc.method, "/admin/items/"+item.ID.String()+tc.suffix, tc.body)
		missing := s.doAs(t, intruder, tc.method, "/admin/items/"+unknown.String()+tc.suffix, tc.body)

		assert.Equal(t, http.StatusNotFound, foreign.Code, "%s %s", tc.method, tc.suffix)
		assert.Equal(t, missing.Code, foreign.Code, "%s %s", tc.method, tc.suffix)
		assert.Equal(t,
			strings.ReplaceAll(missing.Body.String(), unknown.String(), "ID"),
			strings.ReplaceAll(foreign.Body.String(), item.ID.String(), "ID"),
			"%s %s", tc.method, tc.suffix)
	}
}

func TestQueueDraftAndSaveStatus(t *testing.T) {
	s := setupHandlerTest(t)
	item := s.createItem(t, "post", "Debounced")
	base := "/admin/items/" + item.ID.String()

	w := s.do(t, http.MethodGet, base+"/save-status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, autosave.StateIdle, decodeBody[autosave.Status](t, w).State)

	w = s.do(t, http.MethodPut, base+"/draft", DraftRequest{Title: "Debounced", Body: paragraph("typing")})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, autosave.StateSaving, decodeBody[autosave.Status](t, w).State)

	assert.Eventually(t, func() bool {
		w := s.do(t, http.MethodGet, base+"/save-status", nil)
		st := decodeBody[autosave.Status](t, w)
		return st.State == autosave.StateSaved && st.VersionNumber == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSignedUploadFlow(t *testing.T) {
	s := setupHandlerTest(t)
	item := s.createItem(t, "post", "With Image")
	base := "/admin/items/" + item.ID.String()

	w := s.do(t, http.MethodPost, base+"/autosave", DraftRequest{Title: "With Image", Body: paragraph("caption")})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/admin/uploads/presign", PresignRequest{
		ItemID: item.ID, FileName: "photo.png", ContentType: "image/png",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	upload := decodeBody[portfolio.PresignedUpload](t, w)
	require.True(t, strings.HasPrefix(upload.URL, "http://example.com/uploads/"), upload.URL)
	require.True(t, strings.HasPrefix(upload.FileURL, "http://example.com/media/"), upload.FileURL)

	tampered := strings.Replace(upload.URL, "signature=", "signature=00", 1)
	req := httptest.NewRequest(http.MethodPut, tampered, strings.NewReader("png-bytes"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPut, upload.URL, strings.NewReader("png-bytes"))
	req.Header.Set("Content-Type", "image/png")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, upload.ObjectKey, decodeBody[UploadResponse](t, rec).ObjectKey)

	w = s.do(t, http.MethodPost, base+"/images", RecordImageRequest{FileURL: upload.FileURL})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	asset := decodeBody[*portfolio.Asset](t, w)
	assert.Equal(t, "image/png", asset.MimeType)
	assert.Equal(t, int64(len("png-bytes")), asset.SizeBytes)

	w = s.doAs(t, "", http.MethodGet, "/media/"+upload.ObjectKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png-bytes", w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = s.doAs(t, "", http.MethodGet, "/media/missing/key.png", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunGCEndpoint(t *testing.T) {
	s := setupHandlerTest(t)

	w := s.do(t, http.MethodPost, "/admin/gc", GCRequest{BatchSize: 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, gc.Result{}, decodeBody[gc.Result](t, w))

	w = s.do(t, http.MethodPost, "/admin/gc", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/admin/gc", GCRequest{BatchSize: -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"invalid_input"`)
}

func TestPublicListingValidation(t *testing.T) {
	s := setupHandlerTest(t)

	w := s.doAs(t, "", http.MethodGet, "/projects?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.doAs(t, "", http.MethodGet, "/projects/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupHandlerTest(t)
	s.doAs(t, "", http.MethodGet, "/posts", nil)

	w := s.doAs(t, "", http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "portfolio_http_requests_total")
	assert.Contains(t, w.Body.String(), fmt.Sprintf("route=%q", "/posts"))
}
