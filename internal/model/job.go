// Package model defines the job and lead rows exchanged with the enrichment pipeline.
package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// JobStatus represents the current stage of a lead generation job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSearching  JobStatus = "searching"
	JobStatusEnriching  JobStatus = "enriching"
	JobStatusValidating JobStatus = "validating"
	JobStatusFinalizing JobStatus = "finalizing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// statusRank orders the normal progression. Failed sorts after everything
// so it is always reachable from a non-terminal state.
var statusRank = map[JobStatus]int{
	JobStatusPending:    0,
	JobStatusProcessing: 1,
	JobStatusSearching:  2,
	JobStatusEnriching:  3,
	JobStatusValidating: 4,
	JobStatusFinalizing: 5,
	JobStatusCompleted:  6,
	JobStatusFailed:     7,
}

var defaultProgress = map[JobStatus]int{
	JobStatusProcessing: 10,
	JobStatusSearching:  40,
	JobStatusEnriching:  60,
	JobStatusValidating: 70,
	JobStatusFinalizing: 90,
	JobStatusCompleted:  100,
}

// ParseJobStatus normalizes a status string from the remote side.
func ParseJobStatus(s string) JobStatus {
	return JobStatus(strings.ToLower(strings.TrimSpace(s)))
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Rank returns the position of s in the normal progression, or -1 if unknown.
func (s JobStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// DefaultProgress returns the progress implied by a status when the update
// carries no explicit value.
func (s JobStatus) DefaultProgress() (int, bool) {
	p, ok := defaultProgress[s]
	return p, ok
}

// Job is a single user-initiated lead discovery request.
type Job struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id,omitempty"`
	Status          JobStatus       `json:"status"`
	Progress        int             `json:"progress"`
	Criteria        json.RawMessage `json:"job_criteria,omitempty"`
	TotalLeadsFound int             `json:"total_leads_found"`
	ErrorMessage    *string         `json:"error_message"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at"`
}

// Error returns the failure message, or "" when none is set.
func (j *Job) Error() string {
	if j == nil || j.ErrorMessage == nil {
		return ""
	}
	return *j.ErrorMessage
}

// Active reports whether the job is still expected to change.
func (j *Job) Active() bool {
	return j != nil && !j.Status.IsTerminal()
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Criteria != nil {
		c.Criteria = append(json.RawMessage(nil), j.Criteria...)
	}
	if j.ErrorMessage != nil {
		msg := *j.ErrorMessage
		c.ErrorMessage = &msg
	}
	if j.CompletedAt != nil {
		at := *j.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Apply copies every field set in p onto j. No transition rules are
// enforced here; callers decide what is allowed.
func (j *Job) Apply(p JobPatch) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Progress != nil {
		j.Progress = *p.Progress
	}
	if p.Criteria != nil {
		j.Criteria = p.Criteria
	}
	if p.TotalLeadsFound != nil {
		j.TotalLeadsFound = *p.TotalLeadsFound
	}
	if p.ErrorMessage != nil {
		msg := *p.ErrorMessage
		j.ErrorMessage = &msg
	}
	if p.UpdatedAt != nil {
		j.UpdatedAt = *p.UpdatedAt
	}
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		j.CompletedAt = &at
	}
}

// JobPatch is a partial job row delivered by an update event. Nil fields
// were absent from the event.
type JobPatch struct {
	ID              string          `json:"id"`
	Status          *JobStatus      `json:"status,omitempty"`
	Progress        *int            `json:"progress,omitempty"`
	Criteria        json.RawMessage `json:"job_criteria,omitempty"`
	TotalLeadsFound *int            `json:"total_leads_found,omitempty"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	UpdatedAt       *time.Time      `json:"updated_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// UnmarshalJSON decodes a loosely typed job row. Status strings are
// normalized, numeric fields may arrive as numbers or numeric strings, and
// unparseable values are dropped rather than failing the whole patch.
func (p *JobPatch) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return eris.Wrap(err, "model: decode job patch")
	}

	*p = JobPatch{ID: AsString(raw["id"])}
	if v, ok := raw["status"]; ok && v != nil {
		if s := ParseJobStatus(AsString(v)); s != "" {
			p.Status = &s
		}
	}
	if n, ok := AsNumber(raw["progress"]); ok {
		v := int(n)
		p.Progress = &v
	}
	if v, ok := raw["job_criteria"]; ok && v != nil {
		if b, err := json.Marshal(v); err == nil {
			p.Criteria = b
		}
	}
	if n, ok := AsNumber(raw["total_leads_found"]); ok {
		v := int(n)
		p.TotalLeadsFound = &v
	}
	if v, ok := raw["error_message"]; ok && v != nil {
		msg := AsString(v)
		p.ErrorMessage = &msg
	}
	p.UpdatedAt = parseTime(raw["updated_at"])
	p.CompletedAt = parseTime(raw["completed_at"])
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseTime(v any) *time.Time {
	s := AsString(v)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
