package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/store"
)

// hookCreateJob creates a job row on behalf of the pipeline.
func (s *Server) hookCreateJob(w http.ResponseWriter, r *http.Request) {
	var job model.Job
	if err := decodeBody(w, r, &job); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if strings.TrimSpace(job.UserID) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "user_id is required")
		return
	}
	if job.Status != "" {
		job.Status = model.ParseJobStatus(string(job.Status))
		if !job.Status.Valid() {
			writeError(w, r, http.StatusBadRequest, "invalid_status", "unknown job status")
			return
		}
	}

	created, err := s.store.CreateJob(r.Context(), &job)
	if err != nil {
		zap.L().Error("api: hook create job", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// hookUpdateJob applies a partial update to a job row.
func (s *Server) hookUpdateJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch model.JobPatch
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	patch.ID = id
	if patch.Status != nil && !patch.Status.Valid() {
		writeError(w, r, http.StatusBadRequest, "invalid_status", "unknown job status")
		return
	}

	job, err := s.store.UpdateJob(r.Context(), id, patch)
	if store.IsNotFound(err) {
		writeError(w, r, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err != nil {
		zap.L().Error("api: hook update job", zap.String("job_id", id), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to update job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// hookInsertLeads appends one lead or an array of leads to a job. Every
// lead is assigned to the job in the path.
func (s *Server) hookInsertLeads(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var raw json.RawMessage
	if err := decodeBody(w, r, &raw); err != nil || len(raw) == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	var leads []model.Lead
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &leads); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid lead array")
			return
		}
	} else {
		var l model.Lead
		if err := json.Unmarshal(trimmed, &l); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid lead")
			return
		}
		leads = []model.Lead{l}
	}

	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		if store.IsNotFound(err) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		zap.L().Error("api: hook get job", zap.String("job_id", id), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to insert leads")
		return
	}

	for i := range leads {
		leads[i].JobID = id
		if strings.TrimSpace(leads[i].Name) == "" {
			writeError(w, r, http.StatusBadRequest, "invalid_lead", "lead name is required")
			return
		}
	}

	n, err := s.store.InsertLeads(r.Context(), leads)
	if err != nil {
		zap.L().Error("api: hook insert leads", zap.String("job_id", id), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to insert leads")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{
		"received": int64(len(leads)),
		"inserted": n,
	})
}
