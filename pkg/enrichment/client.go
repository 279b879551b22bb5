// Package enrichment calls the remote lead generation pipeline to start jobs.
package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospect-cli/internal/config"
	"github.com/sells-group/prospect-cli/internal/resilience"
)

// Client starts lead generation jobs.
type Client interface {
	CreateJob(ctx context.Context, req CreateJobRequest) (*CreateJobResponse, error)
}

// CreateJobRequest is the body sent to the create-job endpoint.
type CreateJobRequest struct {
	Criteria json.RawMessage `json:"criteria"`
	UserID   string          `json:"userId"`
}

// CreateJobResponse carries the id of the job the pipeline created.
type CreateJobResponse struct {
	JobID string `json:"jobId"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit paces requests to perSec. Zero or less disables pacing.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	}
}

// WithCircuitBreaker routes requests through cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	url     string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewClient creates a client for the create-job endpoint at url.
func NewClient(url, apiKey string, opts ...Option) Client {
	c := &httpClient{
		url:    url,
		apiKey: apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FromConfig builds a client with the configured timeout, pacing and
// circuit breaker. Only transient failures count toward opening the breaker.
func FromConfig(cfg config.EnrichmentConfig) Client {
	cbCfg := resilience.FromCircuitConfig(cfg.CircuitFailures, cfg.CircuitResetSecs)
	cbCfg.ShouldTrip = resilience.IsTransient
	return NewClient(cfg.CreateURL, cfg.APIKey,
		WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.TimeoutSecs) * time.Second}),
		WithRateLimit(cfg.RatePerSec),
		WithCircuitBreaker(resilience.NewCircuitBreaker(cbCfg)),
	)
}

func (c *httpClient) CreateJob(ctx context.Context, req CreateJobRequest) (*CreateJobResponse, error) {
	if c.breaker == nil {
		return c.createJob(ctx, req)
	}
	return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*CreateJobResponse, error) {
		return c.createJob(ctx, req)
	})
}

func (c *httpClient) createJob(ctx context.Context, req CreateJobRequest) (*CreateJobResponse, error) {
	if len(req.Criteria) == 0 {
		req.Criteria = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "enrichment: marshal request")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "enrichment: rate limit")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "enrichment: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "enrichment: send request")
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "enrichment: send request"), 0)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "enrichment: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := eris.Errorf("enrichment: unexpected status %d: %s", resp.StatusCode, remoteMessage(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	id, err := jobID(respBody)
	if err != nil {
		return nil, err
	}
	return &CreateJobResponse{JobID: id}, nil
}

// jobID reads the job id from a response, accepting the common spellings.
func jobID(body []byte) (string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", eris.Wrap(err, "enrichment: unmarshal response")
	}
	for _, k := range []string{"jobId", "job_id", "id"} {
		switch v := raw[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s, nil
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		}
	}
	return "", eris.New("enrichment: response has no jobId")
}

// remoteMessage extracts a readable error from a failure body.
func remoteMessage(body []byte) string {
	var e struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		switch v := e.Error.(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if m, ok := v["message"].(string); ok && m != "" {
				return m
			}
		}
		if e.Message != "" {
			return e.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}

// Launcher adapts a Client to the job manager's create-job call.
type Launcher struct {
	Client Client
}

func (l Launcher) Launch(ctx context.Context, userID string, criteria json.RawMessage) (string, error) {
	resp, err := l.Client.CreateJob(ctx, CreateJobRequest{Criteria: criteria, UserID: userID})
	if err != nil {
		return "", err
	}
	return resp.JobID, nil
}
