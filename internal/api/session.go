package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/jobs"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/view"
)

type createJobRequest struct {
	Criteria json.RawMessage `json:"criteria"`
}

type leadsResponse struct {
	Leads []model.Lead `json:"leads"`
	Total int          `json:"total"`
	Count int          `json:"count"`
	Sort  view.Sort    `json:"sort"`
}

func (s *Server) manager(w http.ResponseWriter, r *http.Request) (*jobs.Manager, bool) {
	m, err := s.sessions.Get(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated", err.Error())
		return nil, false
	}
	return m, true
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	m, ok := s.manager(w, r)
	if !ok {
		return
	}

	job, err := m.Create(r.Context(), req.Criteria)
	var remote *jobs.RemoteError
	switch {
	case errors.Is(err, jobs.ErrNotAuthenticated):
		writeError(w, r, http.StatusUnauthorized, "unauthenticated", err.Error())
	case errors.As(err, &remote):
		writeError(w, r, http.StatusBadGateway, "remote_error", remote.Error())
	case errors.Is(err, jobs.ErrReadbackExhausted):
		writeError(w, r, http.StatusGatewayTimeout, "readback_exhausted", err.Error())
	case err != nil:
		zap.L().Error("api: create job", zap.String("user_id", m.UserID()), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to create job")
	case job == nil:
		// Ignored create: report the session as it stands.
		writeJSON(w, http.StatusOK, m.Snapshot())
	default:
		writeJSON(w, http.StatusCreated, job)
	}
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

// listLeads returns the session's leads filtered and sorted. An explicit
// sort parameter overrides the user's toggled sort.
func (s *Server) listLeads(w http.ResponseWriter, r *http.Request) {
	q, err := view.ParseQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("sort") == "" {
		q.Sort = s.sortFor(m.UserID())
	}

	snap := m.Snapshot()
	leads := view.Run(snap.Leads, q)
	if leads == nil {
		leads = []model.Lead{}
	}
	writeJSON(w, http.StatusOK, leadsResponse{
		Leads: leads,
		Total: len(snap.Leads),
		Count: len(leads),
		Sort:  q.Sort,
	})
}

func (s *Server) toggleSort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	key, ok := view.ParseSortKey(req.Key)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_sort", "unknown sort key")
		return
	}
	writeJSON(w, http.StatusOK, s.toggle(userFrom(r.Context()), key))
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	m.Reset(r.Context())
	s.clearSort(m.UserID())
	writeJSON(w, http.StatusOK, m.Snapshot())
}
