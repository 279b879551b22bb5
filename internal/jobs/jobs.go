// Package jobs tracks the lifecycle of one user's lead generation job: it
// creates the job remotely, reads the row back, follows the job-update and
// lead-insert channels and keeps a restorable copy of the state.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/realtime"
)

var (
	// ErrNotAuthenticated is returned when a job is requested without a user id.
	ErrNotAuthenticated = eris.New("must be authenticated")

	// ErrReadbackExhausted is returned when the job was created remotely but
	// its row never became readable.
	ErrReadbackExhausted = eris.New("job created but not retrievable")
)

// RemoteError wraps a failure of the create-job call itself.
type RemoteError struct {
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("failed to start lead generation: %v", e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Launcher issues the create-job call and returns the new job id.
type Launcher interface {
	Launch(ctx context.Context, userID string, criteria json.RawMessage) (string, error)
}

// JobReader reads a job row by id. A row that is not visible yet must
// produce an error for which store.IsNotFound is true.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*model.Job, error)
}

// Realtime opens the two per-job push channels.
type Realtime interface {
	SubscribeJob(jobID string, fn func(model.JobPatch)) (realtime.Subscription, error)
	SubscribeLeads(jobID string, fn func(model.Lead)) (realtime.Subscription, error)
}

// Persister is a durable key/value store for session state. Load returns
// nil, nil for a missing key.
type Persister interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}

// Notifier tells the user about job milestones.
type Notifier interface {
	Notify(ctx context.Context, userID string, n Notice)
}

// NoticeKind classifies a Notice.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
	NoticeInfo    NoticeKind = "info"
)

// Notice is one user-facing message.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Keys names the two persisted values of a session.
type Keys struct {
	Job   string
	Leads string
}

// Snapshot is a consistent copy of a session's state.
type Snapshot struct {
	Job            *model.Job   `json:"job"`
	Leads          []model.Lead `json:"leads"`
	Loading        bool         `json:"loading"`
	ShowingResults bool         `json:"showing_results"`
}
