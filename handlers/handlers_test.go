package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crisisfeed/database"
	"crisisfeed/gateway"
	"crisisfeed/models"
	"crisisfeed/realtime"

	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newBackend(t *testing.T, opts Options) http.Handler {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "feed.db"), nil)
	require.NoError(t, err)

	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	hub := realtime.NewHub(nil, opts.Registry)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
		db.Close()
	})
	return NewRouter(gateway.NewLocal(db, hub, nil), hub, nil, opts)
}

func send(t *testing.T, h http.Handler, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newPost(content string) models.Post {
	return models.Post{
		ID:         uuid.Must(uuid.NewV4()).String(),
		Author:     "Jussi Journalist",
		AuthorRole: models.RoleJournalist,
		Content:    content,
		CreatedAt:  time.Date(2025, 5, 2, 9, 30, 0, 0, time.UTC),
	}
}

func decodePost(t *testing.T, rec *httptest.ResponseRecorder) models.Post {
	t.Helper()
	var p models.Post
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	return p
}

func TestCreateAndListPosts(t *testing.T) {
	h := newBackend(t, Options{})

	p := newPost("  Bridge closed on Route 7  ")
	rec := send(t, h, http.MethodPost, gateway.RESTPath, p, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	row := decodePost(t, rec)
	assert.Equal(t, p.ID, row.ID)
	assert.Equal(t, "Bridge closed on Route 7", row.Content)
	assert.NotNil(t, row.Likes)
	assert.NotNil(t, row.Comments)

	rec = send(t, h, http.MethodGet, gateway.RESTPath, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var posts []models.Post
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&posts))
	require.Len(t, posts, 1)
	assert.Equal(t, p.ID, posts[0].ID)
}

func TestCreatePostValidation(t *testing.T) {
	h := newBackend(t, Options{})

	p := newPost("   ")
	p.ID = "not-a-uuid"
	rec := send(t, h, http.MethodPost, gateway.RESTPath, p, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body.Fields, "id")
	assert.Contains(t, body.Fields, "content")

	rec = send(t, h, http.MethodPost, gateway.RESTPath, newPost(strings.Repeat("x", 281)), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateDuplicatePost(t *testing.T) {
	h := newBackend(t, Options{})
	p := newPost("Shelter open at the school")

	require.Equal(t, http.StatusCreated, send(t, h, http.MethodPost, gateway.RESTPath, p, nil).Code)
	assert.Equal(t, http.StatusConflict, send(t, h, http.MethodPost, gateway.RESTPath, p, nil).Code)
}

func TestUpdateLikesAndComments(t *testing.T) {
	h := newBackend(t, Options{})
	p := newPost("Water is safe to drink again")
	require.Equal(t, http.StatusCreated, send(t, h, http.MethodPost, gateway.RESTPath, p, nil).Code)

	likes := models.Likes{models.LegacyKey("Old Nick"), models.CompositeKey(models.RoleHealth, "THL Official")}
	rec := send(t, h, http.MethodPatch, gateway.RESTPath+"/"+p.ID+"/likes", map[string]any{"likes": likes}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"Old Nick", "Health:THL Official"}, decodePost(t, rec).Likes.Strings())

	comments := []models.Comment{{
		ID:         uuid.Must(uuid.NewV4()).String(),
		Author:     "Aalto Student",
		AuthorRole: models.RoleStudent,
		Content:    "Thanks!",
		CreatedAt:  time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC),
	}}
	rec = send(t, h, http.MethodPatch, gateway.RESTPath+"/"+p.ID+"/comments", map[string]any{"comments": comments}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	row := decodePost(t, rec)
	require.Len(t, row.Comments, 1)
	assert.Equal(t, "Thanks!", row.Comments[0].Content)

	rec = send(t, h, http.MethodPatch, gateway.RESTPath+"/"+p.ID+"/comments", map[string]any{"likes": []string{}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownPost(t *testing.T) {
	h := newBackend(t, Options{})
	id := uuid.Must(uuid.NewV4()).String()

	rec := send(t, h, http.MethodPatch, gateway.RESTPath+"/"+id+"/likes", map[string]any{"likes": []string{}}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = send(t, h, http.MethodDelete, gateway.RESTPath+"/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeletePost(t *testing.T) {
	h := newBackend(t, Options{})
	p := newPost("Evacuation lifted")
	require.Equal(t, http.StatusCreated, send(t, h, http.MethodPost, gateway.RESTPath, p, nil).Code)

	assert.Equal(t, http.StatusNoContent, send(t, h, http.MethodDelete, gateway.RESTPath+"/"+p.ID, nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, send(t, h, http.MethodDelete, gateway.RESTPath+"/"+p.ID, nil, nil).Code)
}

func TestAPIKeyRequired(t *testing.T) {
	hash, err := HashKey("s3cret")
	require.NoError(t, err)
	h := newBackend(t, Options{APIKeyHash: hash})

	assert.Equal(t, http.StatusUnauthorized, send(t, h, http.MethodGet, gateway.RESTPath, nil, nil).Code)

	wrong := http.Header{gateway.APIKeyHeader: {"nope"}}
	assert.Equal(t, http.StatusUnauthorized, send(t, h, http.MethodGet, gateway.RESTPath, nil, wrong).Code)

	right := http.Header{gateway.APIKeyHeader: {"s3cret"}}
	assert.Equal(t, http.StatusOK, send(t, h, http.MethodGet, gateway.RESTPath, nil, right).Code)
	assert.Equal(t, http.StatusOK, send(t, h, http.MethodGet, gateway.RESTPath+"?apikey=s3cret", nil, nil).Code)

	// health stays open for probes
	assert.Equal(t, http.StatusOK, send(t, h, http.MethodGet, "/healthz", nil, nil).Code)
}

func TestHashKeyRejectsEmpty(t *testing.T) {
	_, err := HashKey("")
	assert.Error(t, err)
}

func TestWritesAreRateLimited(t *testing.T) {
	h := newBackend(t, Options{RateRPS: 0.001, RateBurst: 1})

	assert.Equal(t, http.StatusCreated, send(t, h, http.MethodPost, gateway.RESTPath, newPost("first"), nil).Code)
	rec := send(t, h, http.MethodPost, gateway.RESTPath, newPost("second"), nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// reads are never limited
	assert.Equal(t, http.StatusOK, send(t, h, http.MethodGet, gateway.RESTPath, nil, nil).Code)
}

func TestLimiterPoolForgetsIdleClients(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := newLimiterPool(1, 1)
	p.now = func() time.Time { return now }
	p.lastSweep = now

	a := p.get("10.0.0.1")
	p.get("10.0.0.2")
	assert.Same(t, a, p.get("10.0.0.1"))

	now = now.Add(limiterIdle / 2)
	p.get("10.0.0.1")

	now = now.Add(limiterIdle / 2)
	p.get("10.0.0.3")
	assert.Len(t, p.m, 2)
	assert.Contains(t, p.m, "10.0.0.1")
	assert.NotContains(t, p.m, "10.0.0.2")
	assert.Same(t, a, p.get("10.0.0.1"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newBackend(t, Options{})
	send(t, h, http.MethodGet, gateway.RESTPath, nil, nil)

	rec := send(t, h, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `crisisfeed_http_requests_total{code="200",route="list_posts"} 1`)
	assert.Contains(t, body, "crisisfeed_realtime_clients")
}
