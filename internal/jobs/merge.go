package jobs

import (
	"github.com/sells-group/prospect-cli/internal/model"
)

// mergePatch applies an update event to j under the lifecycle rules and
// reports whether anything changed:
//
//   - a terminal job ignores further updates,
//   - unknown statuses and backward transitions are dropped,
//   - a status without progress takes the default progress for that status,
//   - progress never decreases and stays within [0, 100],
//   - an error message is kept only on a failed job.
func mergePatch(j *model.Job, p model.JobPatch) bool {
	if j.Status.IsTerminal() {
		return false
	}
	before := j.Clone()

	status := j.Status
	statusSet := false
	if p.Status != nil {
		s := model.ParseJobStatus(string(*p.Status))
		if s.Valid() && s.Rank() >= j.Status.Rank() {
			status = s
			statusSet = true
		}
	}

	progress := j.Progress
	switch {
	case p.Progress != nil:
		progress = max(progress, clampProgress(*p.Progress))
	case statusSet:
		if d, ok := status.DefaultProgress(); ok {
			progress = max(progress, d)
		}
	}

	next := model.JobPatch{
		Criteria:        p.Criteria,
		TotalLeadsFound: p.TotalLeadsFound,
		UpdatedAt:       p.UpdatedAt,
		CompletedAt:     p.CompletedAt,
	}
	if status == model.JobStatusFailed {
		next.ErrorMessage = p.ErrorMessage
	}
	if p.TotalLeadsFound != nil && *p.TotalLeadsFound < 0 {
		next.TotalLeadsFound = nil
	}
	j.Apply(next)
	j.Status = status
	j.Progress = progress

	return !sameJob(before, j)
}

// adoptRow merges a full row read back from the store with whatever the
// update channel has already delivered, keeping the more advanced state.
func adoptRow(cur, row *model.Job) *model.Job {
	next := row.Clone()
	next.Status = model.ParseJobStatus(string(next.Status))
	next.Progress = clampProgress(next.Progress)
	if cur == nil {
		return next
	}
	if cur.Status.Rank() > next.Status.Rank() {
		next.Status = cur.Status
		next.ErrorMessage = cur.ErrorMessage
		next.CompletedAt = cur.CompletedAt
	}
	next.Progress = max(next.Progress, cur.Progress)
	next.TotalLeadsFound = max(next.TotalLeadsFound, cur.TotalLeadsFound)
	return next
}

func clampProgress(p int) int {
	return min(max(p, 0), 100)
}

func sameJob(a, b *model.Job) bool {
	if a.Status != b.Status || a.Progress != b.Progress || a.TotalLeadsFound != b.TotalLeadsFound {
		return false
	}
	if a.Error() != b.Error() || string(a.Criteria) != string(b.Criteria) {
		return false
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	switch {
	case a.CompletedAt == nil && b.CompletedAt == nil:
		return true
	case a.CompletedAt == nil || b.CompletedAt == nil:
		return false
	default:
		return a.CompletedAt.Equal(*b.CompletedAt)
	}
}
