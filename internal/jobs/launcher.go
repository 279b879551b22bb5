package jobs

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/model"
)

// JobCreator inserts a job row.
type JobCreator interface {
	CreateJob(ctx context.Context, job *model.Job) (*model.Job, error)
}

// StoreLauncher creates jobs directly in the store. It is used when no
// remote pipeline endpoint is configured; the pipeline is then expected to
// pick pending jobs up and report back through the hooks.
type StoreLauncher struct {
	Store JobCreator
}

func (l StoreLauncher) Launch(ctx context.Context, userID string, criteria json.RawMessage) (string, error) {
	j, err := l.Store.CreateJob(ctx, &model.Job{
		UserID:   userID,
		Status:   model.JobStatusPending,
		Criteria: criteria,
	})
	if err != nil {
		return "", eris.Wrap(err, "jobs: create job row")
	}
	return j.ID, nil
}
