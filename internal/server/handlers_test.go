package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/contentcraft-pipeline/internal/auth"
	"github.com/maauso/contentcraft-pipeline/internal/event"
	"github.com/maauso/contentcraft-pipeline/internal/job"
	"github.com/maauso/contentcraft-pipeline/internal/pipeline"
)

const testSecret = "test-secret"

type mockDrainer struct {
	mock.Mock
}

func (m *mockDrainer) Drain(ctx context.Context) (pipeline.DrainResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(pipeline.DrainResult), args.Error(1)
}

type mockDeliverer struct {
	mock.Mock
}

func (m *mockDeliverer) Deliver(ctx context.Context, env event.Envelope) error {
	return m.Called(ctx, env).Error(0)
}

type testServer struct {
	store   *job.MemoryStore
	drainer *mockDrainer
	events  *mockDeliverer
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := job.NewMemoryStore()
	admins := auth.NewAllowList([]string{"admin-1"})

	ts := &testServer{
		store:   store,
		drainer: new(mockDrainer),
		events:  new(mockDeliverer),
	}
	svc := job.NewService(store, nil, logger, job.WithAllowedResolutions([]string{"720p", "1080p"}))
	h := NewHandlers(svc, ts.drainer, ts.events, admins, logger)
	ts.handler = NewRouter(h, logger, Config{
		AllowedOrigins: []string{"https://app.example.com"},
		Authenticator:  auth.NewBearerAuthenticator(testSecret),
		Admins:         admins,
		EventsToken:    "events-secret",
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		token, err := auth.SignToken(testSecret, auth.Claims{Sub: user, Exp: time.Now().Add(time.Hour).Unix()})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) seed(t *testing.T, owner string, created time.Time) *job.Job {
	t.Helper()
	j := job.New(owner, job.Request{Prompt: "a fox", DurationSeconds: 5, Resolution: "720p", Tier: "standard"})
	j.CreatedAt = created
	require.NoError(t, ts.store.Put(context.Background(), j))
	return j
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestSubmitJob(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/jobs", "user-1", SubmitJobRequest{
		Prompt:     "a fox running through snow",
		Seconds:    5,
		Resolution: "720p",
		Feature:    &FeatureRequest{Audio: true},
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[SubmitJobResponse](t, rec)
	assert.Equal(t, string(job.StatusQueued), resp.Status)

	stored, err := ts.store.Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.OwnerID)
	assert.True(t, stored.WantsAudio)
	assert.Equal(t, job.TrackPending, stored.AudioStatus)
}

func TestSubmitJob_Errors(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		body     any
		wantCode int
		wantErr  string
	}{
		{
			name:     "no token",
			body:     SubmitJobRequest{Prompt: "p", Seconds: 5, Resolution: "720p"},
			wantCode: http.StatusUnauthorized,
			wantErr:  "UNAUTHORIZED",
		},
		{
			name:     "malformed JSON",
			user:     "user-1",
			body:     "{not json",
			wantCode: http.StatusBadRequest,
			wantErr:  "INVALID_JSON",
		},
		{
			name:     "missing prompt",
			user:     "user-1",
			body:     SubmitJobRequest{Seconds: 5, Resolution: "720p"},
			wantCode: http.StatusBadRequest,
			wantErr:  "VALIDATION_ERROR",
		},
		{
			name:     "duration out of range",
			user:     "user-1",
			body:     SubmitJobRequest{Prompt: "p", Seconds: 30, Resolution: "720p"},
			wantCode: http.StatusBadRequest,
			wantErr:  "VALIDATION_ERROR",
		},
		{
			name:     "resolution not enabled",
			user:     "user-1",
			body:     SubmitJobRequest{Prompt: "p", Seconds: 5, Resolution: "4k"},
			wantCode: http.StatusBadRequest,
			wantErr:  "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			rec := ts.do(t, http.MethodPost, "/jobs", tt.user, tt.body)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			assert.Equal(t, tt.wantErr, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestGetJob(t *testing.T) {
	ts := newTestServer(t)
	j := ts.seed(t, "user-1", time.Now())

	t.Run("owner", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/jobs/"+j.ID, "user-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[JobResponse](t, rec)
		assert.Equal(t, j.ID, resp.JobID)
		assert.Equal(t, string(job.StatusQueued), resp.Status)
		assert.Nil(t, resp.CompletedAt)
	})

	t.Run("admin", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/jobs/"+j.ID, "admin-1", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("other user", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/jobs/"+j.ID, "user-2", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/jobs/nope", "user-1", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "JOB_NOT_FOUND", decode[ErrorResponse](t, rec).Code)
	})
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t)
	base := time.Now().Add(-time.Hour)
	for i := range 3 {
		ts.seed(t, "user-1", base.Add(time.Duration(i)*time.Minute))
	}
	other := ts.seed(t, "user-2", base)

	rec := ts.do(t, http.MethodGet, "/jobs?page=1&pageSize=2", "user-1", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ListJobsResponse](t, rec)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.TotalPages)
	require.Len(t, resp.Jobs, 2)
	assert.True(t, resp.Jobs[0].CreatedAt.After(resp.Jobs[1].CreatedAt))
	for _, j := range resp.Jobs {
		assert.NotEqual(t, other.ID, j.JobID)
	}
}

func TestListJobs_InvalidQuery(t *testing.T) {
	ts := newTestServer(t)

	for _, q := range []string{"page=abc", "pageSize=5000", "page=-1"} {
		rec := ts.do(t, http.MethodGet, "/jobs?"+q, "user-1", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", q, rec.Code)
		}
	}
}

func TestListJobs_TruncatesPrompt(t *testing.T) {
	ts := newTestServer(t)
	j := job.New("user-1", job.Request{Prompt: strings.Repeat("x", 150), DurationSeconds: 5, Resolution: "720p"})
	require.NoError(t, ts.store.Put(context.Background(), j))

	rec := ts.do(t, http.MethodGet, "/jobs", "user-1", nil)

	resp := decode[ListJobsResponse](t, rec)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, strings.Repeat("x", 100)+"...", resp.Jobs[0].Prompt)
}

func TestAdminRoutes_RequireAdmin(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/admin/jobs", "/admin/overview"} {
		rec := ts.do(t, http.MethodGet, path, "user-1", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
	rec := ts.do(t, http.MethodPost, "/admin/drain", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminListJobs(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "user-1", time.Now())
	ts.seed(t, "user-2", time.Now())

	rec := ts.do(t, http.MethodGet, "/admin/jobs", "admin-1", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[AdminJobsResponse](t, rec)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 100, resp.PageSize)
	assert.Equal(t, 2, resp.Stats.DistinctOwners)
	assert.Equal(t, 2, resp.Stats.ByStatus[string(job.StatusQueued)])
}

func TestOverview(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "user-1", time.Now())

	rec := ts.do(t, http.MethodGet, "/admin/overview", "admin-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[OverviewResponse](t, rec)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, 1, resp.ByResolution["720p"])
}

func TestDrain(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ts := newTestServer(t)
		ts.drainer.On("Drain", mock.Anything).Return(pipeline.DrainResult{Found: 2, Processed: 2}, nil)

		rec := ts.do(t, http.MethodPost, "/admin/drain", "admin-1", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 2, decode[pipeline.DrainResult](t, rec).Processed)
		ts.drainer.AssertExpectations(t)
	})

	t.Run("failure", func(t *testing.T) {
		ts := newTestServer(t)
		ts.drainer.On("Drain", mock.Anything).Return(pipeline.DrainResult{}, errors.New("scan failed"))

		rec := ts.do(t, http.MethodPost, "/admin/drain", "admin-1", nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "DRAIN_FAILED", decode[ErrorResponse](t, rec).Code)
	})
}

func newEnvelope(t *testing.T, typ event.Type) event.Envelope {
	t.Helper()
	env, err := event.New(event.SourceVideoHandler, typ, event.Rendered{JobID: "job-1", URL: "https://cdn/v.mp4"})
	require.NoError(t, err)
	return env
}

func postEvents(t *testing.T, ts *testServer, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	if token != "" {
		req.Header.Set(EventsTokenHeader, token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestIngestEvents_SingleEnvelope(t *testing.T) {
	ts := newTestServer(t)
	env := newEnvelope(t, event.VideoRendered)
	ts.events.On("Deliver", mock.Anything, mock.MatchedBy(func(e event.Envelope) bool {
		return e.Type == event.VideoRendered
	})).Return(nil).Once()

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	rec := postEvents(t, ts, "events-secret", string(raw))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[IngestResponse](t, rec).Delivered)
	ts.events.AssertExpectations(t)
}

func TestIngestEvents_Batch(t *testing.T) {
	ts := newTestServer(t)
	direct := newEnvelope(t, event.VideoRendered)
	wrapped := newEnvelope(t, event.AudioRendered)
	wrapped.Source = event.SourceAudioHandler

	wrappedRaw, err := json.Marshal(wrapped)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"Records": []any{direct, map[string]string{"body": string(wrappedRaw)}},
	})
	require.NoError(t, err)

	ts.events.On("Deliver", mock.Anything, mock.MatchedBy(func(e event.Envelope) bool {
		return e.Type == event.VideoRendered
	})).Return(nil)
	ts.events.On("Deliver", mock.Anything, mock.MatchedBy(func(e event.Envelope) bool {
		return e.Type == event.AudioRendered
	})).Return(errors.New("store unavailable"))

	rec := postEvents(t, ts, "events-secret", string(body))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[IngestResponse](t, rec)
	assert.Equal(t, 1, resp.Delivered)
	assert.Equal(t, 1, resp.Failed)
	assert.Contains(t, resp.Errors[0], "store unavailable")
}

func TestIngestEvents_UnknownJobIsDropped(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := job.NewMemoryStore()
	bus := event.NewLocalBus(logger)
	bus.Subscribe(event.VideoRendered, pipeline.NewOrchestrator(store, bus, logger).Handle)
	admins := auth.NewAllowList(nil)
	h := NewHandlers(job.NewService(store, nil, logger), new(mockDrainer), bus, admins, logger)
	ts := &testServer{
		store: store,
		handler: NewRouter(h, logger, Config{
			Authenticator: auth.NewBearerAuthenticator(testSecret),
			Admins:        admins,
			EventsToken:   "events-secret",
		}),
	}

	env, err := event.New(event.SourceVideoHandler, event.VideoRendered, event.Rendered{JobID: "deleted-job", URL: "https://cdn/v.mp4"})
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	rec := postEvents(t, ts, "events-secret", string(raw))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[IngestResponse](t, rec)
	assert.Equal(t, 1, resp.Delivered)
	assert.Zero(t, resp.Failed)
}

func TestIngestEvents_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		body     string
		wantCode int
	}{
		{"missing token", "", `{}`, http.StatusUnauthorized},
		{"wrong token", "nope", `{}`, http.StatusUnauthorized},
		{"invalid JSON", "events-secret", `{`, http.StatusBadRequest},
		{"missing detail-type", "events-secret", `{"source":"x","detail":{}}`, http.StatusBadRequest},
		{"bad record", "events-secret", `{"Records":[{"body":"{}"}]}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			rec := postEvents(t, ts, tt.token, tt.body)

			if rec.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			ts.events.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	ts := newTestServer(t)

	t.Run("allowed preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/jobs", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disallowed preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/jobs", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decode[ErrorResponse](t, rec).Code)
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))

	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/brew"`)
}
