package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/collectarr/internal/config"
	"github.com/voyagen/collectarr/internal/dvr"
	"github.com/voyagen/collectarr/internal/models"
	"github.com/voyagen/collectarr/internal/service"
	"github.com/voyagen/collectarr/internal/store"
)

type fakeStore struct {
	rules []models.Rule
	runs  []models.SyncRun
	next  int
}

func (f *fakeStore) ListRules(ctx context.Context) ([]models.Rule, error) {
	out := make([]models.Rule, len(f.rules))
	copy(out, f.rules)
	return out, nil
}

func (f *fakeStore) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	for i := range f.rules {
		if f.rules[i].ID == id {
			r := f.rules[i]
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) CreateRule(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	r := *rule
	if r.ID == "" {
		f.next++
		r.ID = fmt.Sprintf("rule-%d", f.next)
	}
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	f.rules = append(f.rules, r)
	return &r, nil
}

func (f *fakeStore) UpdateRule(ctx context.Context, id string, rule *models.Rule) (*models.Rule, error) {
	for i := range f.rules {
		if f.rules[i].ID == id {
			r := *rule
			r.ID = id
			f.rules[i] = r
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) DeleteRule(ctx context.Context, id string) error {
	for i := range f.rules {
		if f.rules[i].ID == id {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeStore) SaveSyncRun(ctx context.Context, run *models.SyncRun) error {
	f.runs = append(f.runs, *run)
	return nil
}

func (f *fakeStore) LatestSyncRun(ctx context.Context) (*models.SyncRun, error) {
	if len(f.runs) == 0 {
		return nil, store.ErrNotFound
	}
	r := f.runs[len(f.runs)-1]
	return &r, nil
}

type fakeDVR struct {
	sources     []models.Source
	sourcesErr  error
	channels    []models.Channel
	collections map[string]*models.Collection
	updates     map[string][]string
}

func (f *fakeDVR) ListDevices(ctx context.Context) ([]models.Source, error) {
	if f.sourcesErr != nil {
		return nil, f.sourcesErr
	}
	return f.sources, nil
}

func (f *fakeDVR) ListChannels(ctx context.Context) ([]models.Channel, error) {
	return f.channels, nil
}

func (f *fakeDVR) ListCollections(ctx context.Context) ([]models.Collection, error) {
	out := make([]models.Collection, 0, len(f.collections))
	for _, c := range f.collections {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeDVR) GetCollection(ctx context.Context, slug string) (*models.Collection, error) {
	c, ok := f.collections[slug]
	if !ok {
		return nil, fmt.Errorf("collection %q: %w", slug, dvr.ErrCollectionNotFound)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeDVR) UpdateCollectionItems(ctx context.Context, slug string, items []string) error {
	if f.updates == nil {
		f.updates = map[string][]string{}
	}
	f.updates[slug] = items
	return nil
}

func newTestServer(st *fakeStore, d *fakeDVR) *Server {
	cfg := &config.Config{DVRURL: "http://dvr:8089", ServerPort: "8080", SyncInterval: 60 * time.Minute}
	svc := service.NewSync(st, d, nil, nil)
	return New(st, cfg, svc, nil, nil, nil)
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(&fakeStore{}, &fakeDVR{})
	rec := doRequest(t, srv, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestHandleListRules_EmptyIsArray(t *testing.T) {
	srv := newTestServer(&fakeStore{}, &fakeDVR{})
	rec := doRequest(t, srv, http.MethodGet, "/api/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String(), "empty list must not serialize as null")
}

func TestHandleCreateRule(t *testing.T) {
	st := &fakeStore{}
	srv := newTestServer(st, &fakeDVR{})

	rec := doRequest(t, srv, http.MethodPost, "/api/rules", models.Rule{
		Name:           "Sports",
		Enabled:        true,
		Patterns:       []string{"ESPN"},
		CollectionSlug: "sports",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decodeBody[models.Rule](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, []string{models.MatchTypeName}, created.MatchTypes, "match types default to name")
	assert.Len(t, st.rules, 1)
}

func TestHandleCreateRule_Invalid(t *testing.T) {
	srv := newTestServer(&fakeStore{}, &fakeDVR{})

	tests := []struct {
		name string
		rule models.Rule
	}{
		{"missing name", models.Rule{Patterns: []string{"ESPN"}}},
		{"no patterns", models.Rule{Name: "Empty"}},
		{"bad match type", models.Rule{Name: "Bad", Patterns: []string{"x"}, MatchTypes: []string{"guide"}}},
		{"bad sort order", models.Rule{Name: "Bad", Patterns: []string{"x"}, SortOrder: "alphabetical"}},
		{"auto sync without group", models.Rule{Name: "Auto", AutoSync: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, srv, http.MethodPost, "/api/rules", tt.rule)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeBody[APIError](t, rec)
			assert.Equal(t, http.StatusBadRequest, body.Status)
			assert.NotEmpty(t, body.Detail)
		})
	}
}

func TestHandleGetRule_NotFound(t *testing.T) {
	srv := newTestServer(&fakeStore{}, &fakeDVR{})
	rec := doRequest(t, srv, http.MethodGet, "/api/rules/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody[APIError](t, rec)
	assert.Contains(t, body.Detail, "ghost")
}

func TestHandleUpdateRule(t *testing.T) {
	st := &fakeStore{rules: []models.Rule{{ID: "r1", Name: "Old", Patterns: []string{"x"}}}}
	srv := newTestServer(st, &fakeDVR{})

	rec := doRequest(t, srv, http.MethodPut, "/api/rules/r1", models.Rule{
		Name:     "New name",
		Patterns: []string{"ESPN"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody[models.Rule](t, rec)
	assert.Equal(t, "r1", updated.ID)
	assert.Equal(t, "New name", updated.Name)
}

func TestHandleDeleteRule(t *testing.T) {
	st := &fakeStore{rules: []models.Rule{{ID: "r1", Name: "Doomed"}}}
	srv := newTestServer(st, &fakeDVR{})

	rec := doRequest(t, srv, http.MethodDelete, "/api/rules/r1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, st.rules)

	rec = doRequest(t, srv, http.MethodDelete, "/api/rules/r1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListChannels(t *testing.T) {
	d := &fakeDVR{channels: []models.Channel{
		{ID: "ch-1", Number: "100", Name: "ESPN"},
		{ID: "ch-2", Number: "200", Name: "CNN"},
	}}
	srv := newTestServer(&fakeStore{}, d)

	rec := doRequest(t, srv, http.MethodGet, "/api/channels", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, float64(2), body["total"])
}

func TestHandleGetCollection_ResolvesChannels(t *testing.T) {
	d := &fakeDVR{
		channels: []models.Channel{
			{ID: "ch-1", Number: "100", Name: "ESPN"},
			{ID: "ch-2", Number: "200", Name: "CNN"},
		},
		collections: map[string]*models.Collection{
			"sports": {Slug: "sports", Name: "Sports", Items: []string{"ch-1", "ch-gone"}},
		},
	}
	srv := newTestServer(&fakeStore{}, d)

	rec := doRequest(t, srv, http.MethodGet, "/api/collections/sports", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Slug     string           `json:"slug"`
		Items    []string         `json:"items"`
		Channels []models.Channel `json:"channels"`
		Syncing  bool             `json:"syncing"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, []string{"ch-1", "ch-gone"}, body.Items, "unknown IDs stay in items")
	require.Len(t, body.Channels, 1, "only resolvable IDs become channels")
	assert.Equal(t, "ESPN", body.Channels[0].Name)
	assert.False(t, body.Syncing, "no lock without redis")
}

func TestHandleGetCollection_NotFound(t *testing.T) {
	srv := newTestServer(&fakeStore{}, &fakeDVR{collections: map[string]*models.Collection{}})
	rec := doRequest(t, srv, http.MethodGet, "/api/collections/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleTestConnection(t *testing.T) {
	srv := newTestServer(&fakeStore{}, &fakeDVR{sources: []models.Source{{ID: "dev-1", Name: "Tuner"}}})
	rec := doRequest(t, srv, http.MethodGet, "/api/test-connection", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, float64(1), body["sources"])
}

func TestHandleTestConnection_Down(t *testing.T) {
	srv := newTestServer(&fakeStore{}, &fakeDVR{sourcesErr: fmt.Errorf("connection refused")})
	rec := doRequest(t, srv, http.MethodGet, "/api/test-connection", nil)
	require.Equal(t, http.StatusOK, rec.Code, "connectivity check reports failure in the body")
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, false, body["connected"])
	assert.Contains(t, body["error"], "connection refused")
}

func TestHandlePreview(t *testing.T) {
	d := &fakeDVR{channels: []models.Channel{
		{ID: "ch-2", Number: "200", Name: "Zebra Sports"},
		{ID: "ch-1", Number: "100", Name: "Alpha Sports"},
	}}
	srv := newTestServer(&fakeStore{}, d)

	rec := doRequest(t, srv, http.MethodPost, "/api/preview", models.Rule{
		Patterns:  []string{"sports"},
		SortOrder: models.SortNameAsc,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	preview := decodeBody[service.PreviewResult](t, rec)
	require.Equal(t, 2, preview.Total)
	assert.Equal(t, "Alpha Sports", preview.Channels[0].Name)
	assert.Empty(t, d.updates, "preview never writes")
}

func TestHandleSync_InlineWithoutRedis(t *testing.T) {
	srv := newTestServer(&fakeStore{}, &fakeDVR{channels: []models.Channel{{ID: "ch-1", Name: "ESPN"}}})
	rec := doRequest(t, srv, http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "started", body["status"])
}

func TestHandleSyncRule_NotFound(t *testing.T) {
	srv := newTestServer(&fakeStore{}, &fakeDVR{})
	rec := doRequest(t, srv, http.MethodPost, "/api/sync/rules/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSyncStatus_FallsBackToHistory(t *testing.T) {
	st := &fakeStore{runs: []models.SyncRun{{
		ID:         1,
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
		Result: models.SyncResult{
			Timestamp:   time.Now().Add(-time.Minute),
			Collections: []models.CollectionSyncResult{{RuleID: "r1", Slug: "sports", Total: 3}},
		},
	}}}
	srv := newTestServer(st, &fakeDVR{})

	rec := doRequest(t, srv, http.MethodGet, "/api/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	status := decodeBody[service.Status](t, rec)
	assert.False(t, status.Running)
	require.NotNil(t, status.LastResult, "fresh process serves the persisted run")
	assert.Equal(t, "sports", status.LastResult.Collections[0].Slug)
}

func TestHandleDispatcharr_NotConfigured(t *testing.T) {
	srv := newTestServer(&fakeStore{}, &fakeDVR{})

	rec := doRequest(t, srv, http.MethodGet, "/api/dispatcharr/groups", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/dispatcharr/test", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleStatus(t *testing.T) {
	st := &fakeStore{rules: []models.Rule{
		{ID: "r1", Name: "On", Enabled: true},
		{ID: "r2", Name: "Off", Enabled: false},
	}}
	srv := newTestServer(st, &fakeDVR{})

	rec := doRequest(t, srv, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "http://dvr:8089", body["dvr_url"])
	assert.Equal(t, float64(2), body["rules"])
	assert.Equal(t, float64(1), body["enabled_rules"])
	assert.Equal(t, float64(60), body["sync_interval_minutes"])
	assert.Equal(t, false, body["dispatcharr_configured"])
}
