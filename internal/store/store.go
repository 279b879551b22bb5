// Package store persists jobs and leads, the system of record the dashboard
// reads back from and the pipeline writes into.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/model"
)

// ErrNotFound is returned when a job or lead row does not exist (yet).
var ErrNotFound = eris.New("store: not found")

// LeadFilter narrows ListLeads.
type LeadFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Store defines the persistence interface for jobs and their leads.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.Job) (*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	UpdateJob(ctx context.Context, id string, patch model.JobPatch) (*model.Job, error)

	// Leads are append-only. Inserting an existing id is a no-op.
	InsertLead(ctx context.Context, lead model.Lead) (bool, error)
	InsertLeads(ctx context.Context, leads []model.Lead) (int64, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	ListLeads(ctx context.Context, jobID string, filter LeadFilter) ([]model.Lead, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// IsNotFound reports whether err means the row is missing.
func IsNotFound(err error) bool {
	return eris.Is(err, ErrNotFound)
}

const defaultListLimit = 1000

func listLimit(f LeadFilter) int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}
