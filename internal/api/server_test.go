package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-monitor/internal/config"
	"github.com/JakeFAU/web-monitor/internal/monitor"
	"github.com/JakeFAU/web-monitor/internal/storage/memory"
)

func newTestServer(t *testing.T, deps Deps, cfg config.Config) http.Handler {
	t.Helper()
	if deps.Store == nil {
		deps.Store = memory.NewStore()
	}
	if deps.Enqueuer == nil {
		deps.Enqueuer = &fakeEnqueuer{}
	}
	return NewServer(deps, cfg, zap.NewNop()).Handler()
}

func TestServer_TriggerScrape_Accepted(t *testing.T) {
	t.Parallel()

	st := memory.NewStore()
	st.PutProject(monitor.Project{ID: 7, Name: "Acme", Brand: "Acme", Status: monitor.ProjectStatusActive})
	enq := &fakeEnqueuer{taskID: "task-7"}
	h := newTestServer(t, Deps{Store: st, Enqueuer: enq}, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/projects/7/scrape", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "task-7", body["task_id"])
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, []int64{7}, enq.projects())
}

func TestServer_TriggerScrape_ProjectMissing(t *testing.T) {
	t.Parallel()

	enq := &fakeEnqueuer{}
	h := newTestServer(t, Deps{Enqueuer: enq}, config.Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/projects/99/scrape", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "project not found")
	assert.Empty(t, enq.projects())
}

func TestServer_TriggerScrape_InvalidID(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, Deps{}, config.Config{})
	for _, id := range []string{"abc", "0", "-3"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/projects/"+id+"/scrape", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, id)
	}
}

func TestServer_TriggerScrape_EnqueueFails(t *testing.T) {
	t.Parallel()

	st := memory.NewStore()
	st.PutProject(monitor.Project{ID: 1, Brand: "Acme", Status: monitor.ProjectStatusActive})
	enq := &fakeEnqueuer{err: errors.New("broker closed")}
	h := newTestServer(t, Deps{Store: st, Enqueuer: enq}, config.Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/projects/1/scrape", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "broker closed")
}

func TestServer_APIKeyRequired(t *testing.T) {
	t.Parallel()

	st := memory.NewStore()
	st.PutProject(monitor.Project{ID: 1, Brand: "Acme", Status: monitor.ProjectStatusActive})
	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	h := newTestServer(t, Deps{Store: st}, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/projects/1/scrape", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/projects/1/scrape", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/projects/1/scrape?api_key=secret", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Probes stay open.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_SchedulerTick(t *testing.T) {
	t.Parallel()

	ticker := &fakeTicker{n: 3}
	h := newTestServer(t, Deps{Scheduler: ticker}, config.Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/scheduler/tick", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"scheduled":3}`, rec.Body.String())
	assert.Equal(t, 1, ticker.calls)
}

func TestServer_SchedulerTick_PartialFailure(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, Deps{Scheduler: &fakeTicker{n: 1, err: errors.New("enqueue project 2: boom")}}, config.Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/scheduler/tick", nil))

	require.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Contains(t, rec.Body.String(), "boom")
}

func TestServer_SchedulerTick_Disabled(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, Deps{}, config.Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/scheduler/tick", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		pinger Pinger
		want   int
	}{
		{name: "no pinger", want: http.StatusOK},
		{name: "healthy", pinger: fakePinger{}, want: http.StatusOK},
		{name: "down", pinger: fakePinger{err: errors.New("dial tcp: refused")}, want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newTestServer(t, Deps{Pinger: tt.pinger}, config.Config{})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, Deps{}, config.Config{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_RequestIDPropagated(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, Deps{}, config.Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

type fakeEnqueuer struct {
	mu     sync.Mutex
	taskID string
	err    error
	ids    []int64
}

func (f *fakeEnqueuer) EnqueueProject(_ context.Context, projectID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.ids = append(f.ids, projectID)
	return f.taskID, nil
}

func (f *fakeEnqueuer) projects() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.ids...)
}

type fakeTicker struct {
	n     int
	err   error
	calls int
}

func (f *fakeTicker) Tick(context.Context) (int, error) {
	f.calls++
	return f.n, f.err
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error {
	return f.err
}

