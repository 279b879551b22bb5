package store

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
)

// Publisher receives row changes after they are committed.
type Publisher interface {
	PublishJob(ctx context.Context, jobID string, patch model.JobPatch) error
	PublishLead(ctx context.Context, lead model.Lead) error
}

// Publishing wraps a Store and forwards job updates and new leads to a
// Publisher. It stands in for database triggers on backends without
// LISTEN/NOTIFY.
type Publishing struct {
	Store
	pub Publisher
}

// NewPublishing wraps s so that writes are published to pub.
func NewPublishing(s Store, pub Publisher) *Publishing {
	return &Publishing{Store: s, pub: pub}
}

// UpdateJob stores the patch and publishes it as received, so subscribers
// see only the fields the writer set.
func (p *Publishing) UpdateJob(ctx context.Context, id string, patch model.JobPatch) (*model.Job, error) {
	j, err := p.Store.UpdateJob(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	patch.ID = id
	if err := p.pub.PublishJob(ctx, id, patch); err != nil {
		zap.L().Warn("store: publish job update", zap.String("job_id", id), zap.Error(err))
	}
	return j, nil
}

// InsertLead stores the lead and publishes it if it was new.
func (p *Publishing) InsertLead(ctx context.Context, lead model.Lead) (bool, error) {
	// Assign the id here so the published copy matches the stored row.
	if _, err := leadValues(&lead); err != nil {
		return false, eris.Wrap(err, "store: insert lead")
	}
	inserted, err := p.Store.InsertLead(ctx, lead)
	if err != nil || !inserted {
		return inserted, err
	}
	if err := p.pub.PublishLead(ctx, lead); err != nil {
		zap.L().Warn("store: publish lead", zap.String("job_id", lead.JobID), zap.String("lead_id", lead.ID), zap.Error(err))
	}
	return true, nil
}

// InsertLeads inserts one lead at a time so that only new rows are published.
func (p *Publishing) InsertLeads(ctx context.Context, leads []model.Lead) (int64, error) {
	var n int64
	for i := range leads {
		inserted, err := p.InsertLead(ctx, leads[i])
		if err != nil {
			return n, err
		}
		if inserted {
			n++
		}
	}
	return n, nil
}
