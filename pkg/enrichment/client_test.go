package enrichment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/config"
	"github.com/sells-group/prospect-cli/internal/resilience"
)

func TestCreateJob(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantErr       string
		wantTransient bool
		wantID        string
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{"jobId": "job-123"}`,
			wantID: "job-123",
		},
		{
			name:   "created",
			status: http.StatusCreated,
			body:   `{"job_id": "job-456"}`,
			wantID: "job-456",
		},
		{
			name:   "numeric_id",
			status: http.StatusOK,
			body:   `{"id": 42}`,
			wantID: "42",
		},
		{
			name:    "remote_error_message",
			status:  http.StatusBadRequest,
			body:    `{"error": "criteria must include an industry"}`,
			wantErr: "unexpected status 400: criteria must include an industry",
		},
		{
			name:    "nested_error_message",
			status:  http.StatusUnprocessableEntity,
			body:    `{"error": {"message": "quota exhausted"}}`,
			wantErr: "quota exhausted",
		},
		{
			name:    "plain_text_error",
			status:  http.StatusForbidden,
			body:    "forbidden",
			wantErr: "unexpected status 403: forbidden",
		},
		{
			name:          "rate_limit",
			status:        http.StatusTooManyRequests,
			body:          `{"message": "slow down"}`,
			wantErr:       "unexpected status 429: slow down",
			wantTransient: true,
		},
		{
			name:          "server_error",
			status:        http.StatusBadGateway,
			body:          `{"error": "upstream"}`,
			wantErr:       "unexpected status 502",
			wantTransient: true,
		},
		{
			name:    "malformed_response",
			status:  http.StatusOK,
			body:    `{invalid json`,
			wantErr: "unmarshal response",
		},
		{
			name:    "missing_id",
			status:  http.StatusOK,
			body:    `{"ok": true}`,
			wantErr: "response has no jobId",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/functions/create-job", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient(srv.URL+"/functions/create-job", "test-key")
			resp, err := client.CreateJob(context.Background(), CreateJobRequest{
				Criteria: json.RawMessage(`{"industry":"saas"}`),
				UserID:   "user-1",
			})

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Equal(t, tt.wantTransient, resilience.IsTransient(err))
				assert.Nil(t, resp)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, resp.JobID)
		})
	}
}

func TestCreateJob_RequestBody(t *testing.T) {
	var got map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"jobId":"j"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	_, err := client.CreateJob(context.Background(), CreateJobRequest{UserID: "user-1"})
	require.NoError(t, err)

	assert.JSONEq(t, `"user-1"`, string(got["userId"]))
	assert.JSONEq(t, `{}`, string(got["criteria"]))
}

func TestCreateJob_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k")
	_, err := client.CreateJob(ctx, CreateJobRequest{UserID: "u"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, resilience.IsTransient(err))
}

func TestCircuitBreaker_OpensOnTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
		ShouldTrip:       resilience.IsTransient,
	})
	client := NewClient(srv.URL, "k", WithCircuitBreaker(cb))

	for range 2 {
		_, err := client.CreateJob(context.Background(), CreateJobRequest{UserID: "u"})
		require.Error(t, err)
	}
	_, err := client.CreateJob(context.Background(), CreateJobRequest{UserID: "u"})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCircuitBreaker_IgnoresClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad criteria"}`))
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		ShouldTrip:       resilience.IsTransient,
	})
	client := NewClient(srv.URL, "k", WithCircuitBreaker(cb))

	for range 3 {
		_, err := client.CreateJob(context.Background(), CreateJobRequest{UserID: "u"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, resilience.ErrCircuitOpen)
	}
	assert.Equal(t, resilience.CircuitClosed, cb.State())
}

func TestWithRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"jobId":"j"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", WithRateLimit(1))

	_, err := client.CreateJob(context.Background(), CreateJobRequest{UserID: "u"})
	require.NoError(t, err)

	// The second call must wait about a second for a token.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = client.CreateJob(ctx, CreateJobRequest{UserID: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFromConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cfg-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"jobId":"from-config"}`))
	}))
	defer srv.Close()

	client := FromConfig(config.EnrichmentConfig{
		CreateURL:        srv.URL,
		APIKey:           "cfg-key",
		TimeoutSecs:      5,
		CircuitFailures:  3,
		CircuitResetSecs: 10,
	})
	resp, err := client.CreateJob(context.Background(), CreateJobRequest{UserID: "u"})
	require.NoError(t, err)
	assert.Equal(t, "from-config", resp.JobID)
}

func TestLauncher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req CreateJobRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user-9", req.UserID)
		assert.JSONEq(t, `{"title":"cto"}`, string(req.Criteria))
		_, _ = w.Write([]byte(`{"jobId":"job-9"}`))
	}))
	defer srv.Close()

	l := Launcher{Client: NewClient(srv.URL, "k")}
	id, err := l.Launch(context.Background(), "user-9", json.RawMessage(`{"title":"cto"}`))
	require.NoError(t, err)
	assert.Equal(t, "job-9", id)
}

func TestLauncher_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"no criteria"}`))
	}))
	defer srv.Close()

	l := Launcher{Client: NewClient(srv.URL, "k")}
	id, err := l.Launch(context.Background(), "u", nil)
	require.Error(t, err)
	assert.Empty(t, id)
	assert.Contains(t, err.Error(), "no criteria")
}
