package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/config"
	"github.com/sells-group/prospect-cli/internal/jobs"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/realtime"
	"github.com/sells-group/prospect-cli/internal/session"
	"github.com/sells-group/prospect-cli/internal/store"
	"github.com/sells-group/prospect-cli/internal/view"
)

type launcherFunc func(ctx context.Context, userID string, criteria json.RawMessage) (string, error)

func (f launcherFunc) Launch(ctx context.Context, userID string, criteria json.RawMessage) (string, error) {
	return f(ctx, userID, criteria)
}

type testEnv struct {
	srv      *httptest.Server
	store    store.Store
	sessions *jobs.Sessions
}

func newTestEnv(t *testing.T, launcher jobs.Launcher, hookToken string) *testEnv {
	t.Helper()
	sqlite, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(context.Background()))

	hub := realtime.NewHub(16)
	st := store.NewPublishing(sqlite, hub)
	if launcher == nil {
		launcher = jobs.StoreLauncher{Store: st}
	}

	deps := jobs.Deps{
		Launcher:  launcher,
		Reader:    st,
		Realtime:  hub,
		Persister: session.NewMemoryStore(time.Hour),
	}
	sessions := jobs.NewSessions(jobs.NewFactory(deps, func(userID string) jobs.Keys {
		return jobs.Keys{
			Job:   session.Key("test", userID, session.NameJob),
			Leads: session.Key("test", userID, session.NameLeads),
		}
	}))

	api := New(sessions, st, config.ServerConfig{HookToken: hookToken}, WithKeepAlive(50*time.Millisecond))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		srv.Close()
		sessions.Close()
		hub.Close()
		_ = sqlite.Close()
	})
	return &testEnv{srv: srv, store: st, sessions: sessions}
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) createJob(t *testing.T, user string) *model.Job {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/v1/jobs", user, map[string]any{"criteria": map[string]string{"industry": "saas"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	job := decode[model.Job](t, resp)
	require.NotEmpty(t, job.ID)
	return &job
}

func (e *testEnv) snapshot(t *testing.T, user string) jobs.Snapshot {
	t.Helper()
	resp := e.do(t, http.MethodGet, "/v1/session", user, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[jobs.Snapshot](t, resp)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil, "")
	resp := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestV1_RequiresUser(t *testing.T) {
	e := newTestEnv(t, nil, "")
	for _, path := range []string{"/v1/session", "/v1/session/leads"} {
		resp := e.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		body := decode[APIError](t, resp)
		assert.Equal(t, "must be authenticated", body.Error.Message)
	}
}

func TestCreateJob(t *testing.T) {
	e := newTestEnv(t, nil, "")
	job := e.createJob(t, "user-1")
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, "user-1", job.UserID)

	snap := e.snapshot(t, "user-1")
	require.NotNil(t, snap.Job)
	assert.Equal(t, job.ID, snap.Job.ID)
	assert.False(t, snap.Loading)

	// A second create while the job is active is ignored and returns the session.
	resp := e.do(t, http.MethodPost, "/v1/jobs", "user-1", map[string]any{"criteria": map[string]string{}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	again := decode[jobs.Snapshot](t, resp)
	require.NotNil(t, again.Job)
	assert.Equal(t, job.ID, again.Job.ID)
	assert.False(t, again.Loading)

	// Another user is unaffected.
	e.createJob(t, "user-2")
}

func TestCreateJob_RemoteError(t *testing.T) {
	e := newTestEnv(t, launcherFunc(func(context.Context, string, json.RawMessage) (string, error) {
		return "", errors.New("quota exhausted")
	}), "")

	resp := e.do(t, http.MethodPost, "/v1/jobs", "user-1", map[string]any{})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decode[APIError](t, resp)
	assert.Equal(t, "failed to start lead generation: quota exhausted", body.Error.Message)
}

func TestCreateJob_InvalidBody(t *testing.T) {
	e := newTestEnv(t, nil, "")
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/v1/jobs", strings.NewReader("{nope"))
	require.NoError(t, err)
	req.Header.Set(UserHeader, "user-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHooks_DriveSession(t *testing.T) {
	e := newTestEnv(t, nil, "")
	job := e.createJob(t, "user-1")

	resp := e.do(t, http.MethodPatch, "/hooks/jobs/"+job.ID, "", map[string]any{"status": "processing", "progress": 40})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/hooks/jobs/"+job.ID+"/leads", "", []map[string]any{
		{"id": "lead-1", "name": "Ada", "title": "CEO", "email": "ada@example.com", "phone": "555"},
		{"id": "lead-2", "name": "Bob", "title": "Intern"},
		{"id": "lead-1", "name": "Ada again"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	counts := decode[map[string]int64](t, resp)
	assert.Equal(t, int64(3), counts["received"])
	assert.Equal(t, int64(2), counts["inserted"])

	require.Eventually(t, func() bool {
		snap := e.snapshot(t, "user-1")
		return snap.Job != nil && snap.Job.Progress == 40 && len(snap.Leads) == 2
	}, 2*time.Second, 10*time.Millisecond)

	resp = e.do(t, http.MethodGet, "/v1/session/leads?sort=score&dir=desc", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[leadsResponse](t, resp)
	require.Len(t, list.Leads, 2)
	assert.Equal(t, "lead-1", list.Leads[0].ID)
	require.NotNil(t, list.Leads[0].Score)
	assert.Greater(t, *list.Leads[0].Score, *list.Leads[1].Score)

	resp = e.do(t, http.MethodGet, "/v1/session/leads?title=intern", "user-1", nil)
	list = decode[leadsResponse](t, resp)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "lead-2", list.Leads[0].ID)

	resp = e.do(t, http.MethodPatch, "/hooks/jobs/"+job.ID, "", map[string]any{"status": "completed", "total_leads_found": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool {
		snap := e.snapshot(t, "user-1")
		return snap.ShowingResults && snap.Job.Status == model.JobStatusCompleted && snap.Job.Progress == 100
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHooks_SingleLead(t *testing.T) {
	e := newTestEnv(t, nil, "")
	job := e.createJob(t, "user-1")

	resp := e.do(t, http.MethodPost, "/hooks/jobs/"+job.ID+"/leads", "", map[string]any{"name": "Solo", "job_id": "ignored"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	leads, err := e.store.ListLeads(context.Background(), job.ID, store.LeadFilter{})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, job.ID, leads[0].JobID)
	assert.NotEmpty(t, leads[0].ID)
}

func TestHooks_Validation(t *testing.T) {
	e := newTestEnv(t, nil, "")
	job := e.createJob(t, "user-1")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"create_without_user", http.MethodPost, "/hooks/jobs", map[string]any{"status": "pending"}, http.StatusBadRequest},
		{"create_bad_status", http.MethodPost, "/hooks/jobs", map[string]any{"user_id": "u", "status": "exploded"}, http.StatusBadRequest},
		{"update_bad_status", http.MethodPatch, "/hooks/jobs/" + job.ID, map[string]any{"status": "exploded"}, http.StatusBadRequest},
		{"update_unknown_job", http.MethodPatch, "/hooks/jobs/missing", map[string]any{"progress": 10}, http.StatusNotFound},
		{"leads_unknown_job", http.MethodPost, "/hooks/jobs/missing/leads", map[string]any{"name": "x"}, http.StatusNotFound},
		{"lead_without_name", http.MethodPost, "/hooks/jobs/" + job.ID + "/leads", map[string]any{"title": "CEO"}, http.StatusBadRequest},
		{"leads_empty_body", http.MethodPost, "/hooks/jobs/" + job.ID + "/leads", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.do(t, tt.method, tt.path, "", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestHooks_CreateJob(t *testing.T) {
	e := newTestEnv(t, nil, "")
	resp := e.do(t, http.MethodPost, "/hooks/jobs", "", map[string]any{
		"user_id":      "user-7",
		"job_criteria": map[string]string{"industry": "fintech"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	job := decode[model.Job](t, resp)
	assert.Equal(t, model.JobStatusPending, job.Status)

	got, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-7", got.UserID)
	assert.JSONEq(t, `{"industry":"fintech"}`, string(got.Criteria))
}

func TestHooks_Token(t *testing.T) {
	e := newTestEnv(t, nil, "s3cret")

	resp := e.do(t, http.MethodPost, "/hooks/jobs", "", map[string]any{"user_id": "u"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(map[string]any{"user_id": "u"}))
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/hooks/jobs", &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	ok, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer ok.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusCreated, ok.StatusCode)
}

func TestHooks_DisabledWithoutStore(t *testing.T) {
	sessions := jobs.NewSessions(func(context.Context, string) *jobs.Manager { return nil })
	srv := httptest.NewServer(New(sessions, nil, config.ServerConfig{}).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/hooks/jobs", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestToggleSort(t *testing.T) {
	e := newTestEnv(t, nil, "")

	want := []view.Sort{
		{Key: view.KeyScore, Direction: view.DirAsc},
		{Key: view.KeyScore, Direction: view.DirDesc},
		{},
	}
	for _, w := range want {
		resp := e.do(t, http.MethodPost, "/v1/session/sort", "user-1", map[string]string{"key": "score"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, w, decode[view.Sort](t, resp))
	}

	resp := e.do(t, http.MethodPost, "/v1/session/sort", "user-1", map[string]string{"key": "name"})
	assert.Equal(t, view.Sort{Key: view.KeyName, Direction: view.DirAsc}, decode[view.Sort](t, resp))

	// The toggled sort applies when the query names none.
	resp = e.do(t, http.MethodGet, "/v1/session/leads", "user-1", nil)
	assert.Equal(t, view.Sort{Key: view.KeyName, Direction: view.DirAsc}, decode[leadsResponse](t, resp).Sort)

	resp = e.do(t, http.MethodPost, "/v1/session/sort", "user-1", map[string]string{"key": "shoe_size"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListLeads_InvalidQuery(t *testing.T) {
	e := newTestEnv(t, nil, "")
	resp := e.do(t, http.MethodGet, "/v1/session/leads?score_min=lots", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResetSession(t *testing.T) {
	e := newTestEnv(t, nil, "")
	e.createJob(t, "user-1")
	e.do(t, http.MethodPost, "/v1/session/sort", "user-1", map[string]string{"key": "score"})

	resp := e.do(t, http.MethodPost, "/v1/session/reset", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[jobs.Snapshot](t, resp)
	assert.Nil(t, snap.Job)
	assert.Empty(t, snap.Leads)

	resp = e.do(t, http.MethodGet, "/v1/session/leads", "user-1", nil)
	assert.False(t, decode[leadsResponse](t, resp).Sort.Active())

	// A new job can start right away.
	e.createJob(t, "user-1")
}

// readEvent returns the next snapshot event from an SSE stream.
func readEvent(t *testing.T, sc *bufio.Scanner) jobs.Snapshot {
	t.Helper()
	var event string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == "snapshot":
			var snap jobs.Snapshot
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
			return snap
		}
	}
	require.NoError(t, sc.Err())
	t.Fatal("stream ended")
	return jobs.Snapshot{}
}

func TestStreamEvents(t *testing.T) {
	e := newTestEnv(t, nil, "")
	job := e.createJob(t, "user-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/v1/session/events", nil)
	require.NoError(t, err)
	req.Header.Set(UserHeader, "user-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	first := readEvent(t, sc)
	require.NotNil(t, first.Job)
	assert.Equal(t, job.ID, first.Job.ID)

	patch := e.do(t, http.MethodPatch, "/hooks/jobs/"+job.ID, "", map[string]any{"status": "processing", "progress": 70})
	require.Equal(t, http.StatusOK, patch.StatusCode)

	for {
		snap := readEvent(t, sc)
		if snap.Job != nil && snap.Job.Progress == 70 {
			assert.Equal(t, model.JobStatusProcessing, snap.Job.Status)
			break
		}
	}
}
