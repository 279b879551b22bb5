// Package api serves the prospect dashboard over HTTP: job creation, the
// per-user session view, a server-sent event stream of session snapshots,
// and write-back hooks for the lead generation pipeline.
package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/config"
	"github.com/sells-group/prospect-cli/internal/jobs"
	"github.com/sells-group/prospect-cli/internal/store"
	"github.com/sells-group/prospect-cli/internal/view"
)

// UserHeader carries the caller's user id.
const UserHeader = "X-User-ID"

// maxBodyBytes bounds every request body.
const maxBodyBytes = 4 << 20

// Server holds the handlers' dependencies.
type Server struct {
	sessions  *jobs.Sessions
	store     store.Store
	hookToken string
	origins   []string
	keepAlive time.Duration

	mu    sync.Mutex
	sorts map[string]view.Sort
}

// Option configures a Server.
type Option func(*Server)

// WithKeepAlive sets the interval of SSE keep-alive comments.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		s.keepAlive = d
	}
}

// New creates a Server. A nil st disables the pipeline hooks.
func New(sessions *jobs.Sessions, st store.Store, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		sessions:  sessions,
		store:     st,
		hookToken: cfg.HookToken,
		origins:   cfg.CORSOrigins,
		keepAlive: 15 * time.Second,
		sorts:     make(map[string]view.Sort),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", UserHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/jobs", s.createJob)
		r.Get("/session", s.getSession)
		r.Get("/session/leads", s.listLeads)
		r.Post("/session/sort", s.toggleSort)
		r.Post("/session/reset", s.resetSession)
		r.Get("/session/events", s.streamEvents)
	})

	if s.store != nil {
		r.Route("/hooks", func(r chi.Router) {
			r.Use(s.requireHookToken)
			r.Post("/jobs", s.hookCreateJob)
			r.Patch("/jobs/{id}", s.hookUpdateJob)
			r.Post("/jobs/{id}/leads", s.hookInsertLeads)
		})
	}
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

// sortFor returns the user's active sort.
func (s *Server) sortFor(userID string) view.Sort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorts[userID]
}

// toggle advances the user's sort for key and returns the new state.
func (s *Server) toggle(userID string, key view.SortKey) view.Sort {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.sorts[userID].Toggle(key)
	if next.Active() {
		s.sorts[userID] = next
	} else {
		delete(s.sorts, userID)
	}
	return next
}

func (s *Server) clearSort(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sorts, userID)
}

// requestLogger logs each request with zap once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

// requireHookToken checks the bearer token when one is configured.
func (s *Server) requireHookToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.hookToken != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || got != s.hookToken {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid hook token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
