package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/config"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/realtime"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/internal/scorer"
	"github.com/sells-group/prospect-cli/internal/store"
)

const eventBuffer = 256

// Deps are the collaborators of a Manager. Launcher, Reader and Realtime
// are required.
type Deps struct {
	Launcher  Launcher
	Reader    JobReader
	Realtime  Realtime
	Persister Persister
	Notifier  Notifier
	Scorer    *scorer.LeadScorer

	// Readback controls the polling for a just-created row. The zero value
	// polls 10 times starting at 200ms and doubling.
	Readback resilience.RetryConfig
}

// DefaultReadback returns the readback schedule from the default config.
func DefaultReadback() resilience.RetryConfig {
	return resilience.FromReadback(config.ReadbackConfig{
		MaxAttempts:      10,
		InitialBackoffMs: 200,
		MaxBackoffMs:     120000,
		Multiplier:       2,
	})
}

// event is one delivery from a realtime channel, tagged with the epoch of
// the subscription that produced it.
type event struct {
	epoch uint64
	patch *model.JobPatch
	lead  *model.Lead
}

// Manager owns the job state of one user session. Realtime deliveries are
// applied by a single dispatcher goroutine; every other access goes
// through mu.
type Manager struct {
	userID string
	keys   Keys
	deps   Deps
	log    *zap.Logger

	// creating is the single-flight guard for Create. attempt identifies
	// the Create that holds it and is guarded by mu.
	creating atomic.Bool
	attempt  uint64

	events   chan event
	quit     chan struct{}
	wg       sync.WaitGroup
	closeOne sync.Once

	mu       sync.RWMutex
	job      *model.Job
	leads    []model.Lead
	seen     map[string]struct{}
	jobID    string
	loading  bool
	showing  bool
	epoch    uint64
	subs     []realtime.Subscription
	cancelRB context.CancelFunc

	wmu      sync.Mutex
	watchers map[chan Snapshot]struct{}
	closed   bool
}

// NewManager creates a Manager for userID and starts its dispatcher. Call
// Restore to load persisted state and Close when done.
func NewManager(userID string, keys Keys, deps Deps) *Manager {
	if deps.Notifier == nil {
		deps.Notifier = LogNotifier{}
	}
	if deps.Scorer == nil {
		deps.Scorer = scorer.New(scorer.DefaultScoringConfig())
	}
	if deps.Readback.MaxAttempts == 0 {
		rb := DefaultReadback()
		rb.Sleep = deps.Readback.Sleep
		deps.Readback = rb
	}
	deps.Readback.ShouldRetry = func(err error) bool {
		return store.IsNotFound(err) || resilience.IsTransient(err)
	}
	if deps.Readback.OnRetry == nil {
		deps.Readback.OnRetry = resilience.RetryLogger("store", "read back job")
	}

	m := &Manager{
		userID:   userID,
		keys:     keys,
		deps:     deps,
		log:      zap.L().With(zap.String("user_id", userID)),
		events:   make(chan event, eventBuffer),
		quit:     make(chan struct{}),
		seen:     make(map[string]struct{}),
		watchers: make(map[chan Snapshot]struct{}),
	}
	m.wg.Add(1)
	go m.dispatch()
	return m
}

// UserID returns the session owner.
func (m *Manager) UserID() string { return m.userID }

// Create starts a new job for criteria. It returns nil, nil without doing
// anything when a creation is already running or the current job is still
// active. Previously shown leads are cleared before the remote call.
// Cancelling ctx does not abandon a launched job; Close during readback
// keeps it as pending and returns the cancellation.
func (m *Manager) Create(ctx context.Context, criteria json.RawMessage) (*model.Job, error) {
	if strings.TrimSpace(m.userID) == "" {
		return nil, ErrNotAuthenticated
	}

	m.mu.Lock()
	if m.loading || m.job.Active() || !m.creating.CompareAndSwap(false, true) {
		m.mu.Unlock()
		m.log.Debug("jobs: create ignored, job already in progress")
		return nil, nil
	}
	m.loading = true
	m.clearLocked()
	m.attempt++
	attempt, epoch := m.attempt, m.epoch
	// Only Reset and Close stop the remote call and readback.
	ctx = context.WithoutCancel(ctx)
	opCtx, cancel := context.WithCancel(ctx)
	m.cancelRB = cancel
	m.persistLocked(ctx, true, true)
	m.broadcastLocked()
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		if m.attempt == attempt {
			m.loading = false
			m.cancelRB = nil
			m.creating.Store(false)
		}
		m.broadcastLocked()
		m.mu.Unlock()
	}()

	jobID, err := m.deps.Launcher.Launch(opCtx, m.userID, criteria)
	if err == nil && jobID == "" {
		err = eris.New("jobs: launcher returned no job id")
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.log.Info("jobs: session reset during create")
		return nil, nil
	}
	if err != nil {
		m.mu.Unlock()
		m.log.Error("jobs: create job", zap.Error(err))
		m.deps.Notifier.Notify(ctx, m.userID, failedToStartNotice(err))
		return nil, &RemoteError{Err: err}
	}
	log := m.log.With(zap.String("job_id", jobID))
	m.jobID = jobID
	m.subscribeLocked(epoch, jobID)
	m.mu.Unlock()

	row, err := resilience.DoVal(opCtx, m.deps.Readback, func(ctx context.Context) (*model.Job, error) {
		return m.deps.Reader.GetJob(ctx, jobID)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		log.Info("jobs: session reset during readback")
		return nil, nil
	}
	if err != nil && opCtx.Err() != nil {
		// Closed mid-readback. Keep a placeholder so Restore picks the job up again.
		log.Warn("jobs: readback interrupted", zap.Error(opCtx.Err()))
		m.job = &model.Job{ID: jobID, UserID: m.userID, Status: model.JobStatusPending}
		m.persistLocked(ctx, true, false)
		return nil, eris.Wrapf(opCtx.Err(), "jobs: read back job %s", jobID)
	}
	if err != nil {
		if store.IsNotFound(err) {
			log.Error("jobs: job never became readable", zap.Int("attempts", m.deps.Readback.MaxAttempts))
			err = ErrReadbackExhausted
		} else {
			log.Error("jobs: read back job", zap.Error(err))
			err = eris.Wrapf(err, "jobs: read back job %s", jobID)
		}
		m.clearLocked()
		m.persistLocked(ctx, true, true)
		m.deps.Notifier.Notify(ctx, m.userID, failedToStartNotice(err))
		return nil, err
	}

	m.job = adoptRow(m.job, row)
	m.afterJobChangeLocked(ctx)
	m.deps.Notifier.Notify(ctx, m.userID, startedNotice())
	log.Info("jobs: job started", zap.String("status", string(m.job.Status)))
	return m.job.Clone(), nil
}

// Restore loads persisted state. A job that finished successfully is
// shown straight away; a job still running is subscribed to again and
// refreshed from the store. Failures leave the session empty.
func (m *Manager) Restore(ctx context.Context) {
	if m.deps.Persister == nil {
		return
	}
	job, leads := m.load(ctx)
	if job == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job != nil || m.loading {
		return
	}
	m.job = job
	m.jobID = job.ID
	for _, l := range leads {
		if l.JobID != "" && l.JobID != job.ID {
			continue
		}
		if _, dup := m.seen[l.ID]; dup {
			continue
		}
		m.seen[l.ID] = struct{}{}
		m.leads = append(m.leads, l)
	}
	m.showing = job.Status == model.JobStatusCompleted
	m.log.Info("jobs: restored session",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.Int("leads", len(m.leads)),
	)

	if job.Status.IsTerminal() {
		m.broadcastLocked()
		return
	}
	m.subscribeLocked(m.epoch, job.ID)
	if row, err := m.deps.Reader.GetJob(ctx, job.ID); err != nil {
		m.log.Warn("jobs: refresh restored job", zap.String("job_id", job.ID), zap.Error(err))
	} else {
		m.job = adoptRow(m.job, row)
		m.afterJobChangeLocked(ctx)
		return
	}
	m.broadcastLocked()
}

// Reset returns the session to its initial empty state. It stops listening
// to the current job but does not stop the remote pipeline.
func (m *Manager) Reset(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
	m.loading = false
	m.creating.Store(false)
	if m.deps.Persister != nil {
		if err := m.deps.Persister.Delete(ctx, m.keys.Job, m.keys.Leads); err != nil {
			m.log.Warn("jobs: clear persisted session", zap.Error(err))
		}
	}
	m.broadcastLocked()
	m.log.Info("jobs: session reset")
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Watch streams snapshots, starting with the current one. Only the latest
// snapshot is kept for a slow reader. The channel is closed when ctx ends
// or the manager is closed.
func (m *Manager) Watch(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, 1)

	m.wmu.Lock()
	if m.closed {
		m.wmu.Unlock()
		close(ch)
		return ch
	}
	m.watchers[ch] = struct{}{}
	m.wmu.Unlock()

	snap := m.Snapshot()
	m.wmu.Lock()
	if _, ok := m.watchers[ch]; ok {
		offer(ch, snap)
	}
	m.wmu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-m.quit:
		}
		m.wmu.Lock()
		defer m.wmu.Unlock()
		if _, ok := m.watchers[ch]; ok {
			delete(m.watchers, ch)
			close(ch)
		}
	}()
	return ch
}

// Close unsubscribes, stops the dispatcher and closes every watcher.
func (m *Manager) Close() {
	m.closeOne.Do(func() {
		m.mu.Lock()
		m.teardownLocked()
		if m.cancelRB != nil {
			m.cancelRB()
		}
		m.mu.Unlock()

		close(m.quit)
		m.wg.Wait()

		m.wmu.Lock()
		defer m.wmu.Unlock()
		m.closed = true
		for ch := range m.watchers {
			delete(m.watchers, ch)
			close(ch)
		}
	})
}

// clearLocked drops the job, its leads and its subscriptions, and bumps
// the epoch so that anything still in flight for them is ignored.
func (m *Manager) clearLocked() {
	m.teardownLocked()
	if m.cancelRB != nil {
		m.cancelRB()
		m.cancelRB = nil
	}
	m.job = nil
	m.leads = nil
	m.seen = make(map[string]struct{})
	m.jobID = ""
	m.showing = false
	m.epoch++
}

func (m *Manager) teardownLocked() {
	for _, s := range m.subs {
		s.Unsubscribe()
	}
	m.subs = nil
}

// subscribeLocked opens both channels for jobID. A channel that cannot be
// opened is logged; the session carries on without it.
func (m *Manager) subscribeLocked(epoch uint64, jobID string) {
	log := m.log.With(zap.String("job_id", jobID))

	jobSub, err := m.deps.Realtime.SubscribeJob(jobID, func(p model.JobPatch) {
		m.enqueue(event{epoch: epoch, patch: &p})
	})
	if err != nil {
		log.Warn("jobs: subscribe to job updates", zap.Error(err))
	} else {
		m.subs = append(m.subs, jobSub)
	}

	leadSub, err := m.deps.Realtime.SubscribeLeads(jobID, func(l model.Lead) {
		m.enqueue(event{epoch: epoch, lead: &l})
	})
	if err != nil {
		log.Warn("jobs: subscribe to lead inserts", zap.Error(err))
	} else {
		m.subs = append(m.subs, leadSub)
	}
}

func (m *Manager) enqueue(ev event) {
	select {
	case m.events <- ev:
	case <-m.quit:
	}
}

func (m *Manager) dispatch() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.events:
			m.apply(ev)
		case <-m.quit:
			return
		}
	}
}

func (m *Manager) apply(ev event) {
	ctx := context.Background()

	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.epoch != m.epoch {
		return
	}

	switch {
	case ev.patch != nil:
		p := *ev.patch
		if p.ID != "" && p.ID != m.jobID {
			return
		}
		if m.job == nil {
			m.job = &model.Job{ID: m.jobID, UserID: m.userID, Status: model.JobStatusPending}
		}
		wasTerminal := m.job.Status.IsTerminal()
		if !mergePatch(m.job, p) {
			if wasTerminal {
				m.log.Debug("jobs: ignoring update for finished job", zap.String("job_id", m.jobID))
			}
			return
		}
		if m.job.UpdatedAt.IsZero() || p.UpdatedAt == nil {
			m.job.UpdatedAt = time.Now().UTC()
		}
		m.afterJobChangeLocked(ctx)

	case ev.lead != nil:
		if m.addLeadLocked(*ev.lead) {
			m.persistLocked(ctx, false, true)
			m.broadcastLocked()
		}
	}
}

// afterJobChangeLocked persists the job, raises terminal notices and
// publishes a snapshot.
func (m *Manager) afterJobChangeLocked(ctx context.Context) {
	switch m.job.Status {
	case model.JobStatusCompleted:
		if !m.showing {
			m.showing = true
			m.deps.Notifier.Notify(ctx, m.userID, completedNotice(max(m.job.TotalLeadsFound, len(m.leads))))
		}
	case model.JobStatusFailed:
		m.deps.Notifier.Notify(ctx, m.userID, jobFailedNotice(m.job.Error()))
	}
	m.persistLocked(ctx, true, false)
	m.broadcastLocked()
}

// addLeadLocked scores and appends l if it belongs to the current job and
// has not been seen before.
func (m *Manager) addLeadLocked(l model.Lead) bool {
	if m.jobID == "" || l.JobID != m.jobID {
		return false
	}
	if l.ID != "" {
		if _, dup := m.seen[l.ID]; dup {
			return false
		}
		m.seen[l.ID] = struct{}{}
	}
	scored := l.WithScore(m.deps.Scorer.Score(&l).Score)
	m.leads = append(m.leads, scored)
	return true
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{
		Job:            m.job.Clone(),
		Leads:          make([]model.Lead, len(m.leads)),
		Loading:        m.loading,
		ShowingResults: m.showing,
	}
	copy(s.Leads, m.leads)
	return s
}

func (m *Manager) broadcastLocked() {
	snap := m.snapshotLocked()
	m.wmu.Lock()
	defer m.wmu.Unlock()
	for ch := range m.watchers {
		offer(ch, snap)
	}
}

// offer replaces whatever is buffered in ch with s.
func offer(ch chan Snapshot, s Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// persistLocked writes the job and/or leads, deleting a key whose value
// is empty. Failures are logged only.
func (m *Manager) persistLocked(ctx context.Context, job, leads bool) {
	if m.deps.Persister == nil {
		return
	}
	if job {
		if m.job == nil {
			m.drop(ctx, m.keys.Job)
		} else {
			m.save(ctx, m.keys.Job, m.job)
		}
	}
	if leads {
		if len(m.leads) == 0 {
			m.drop(ctx, m.keys.Leads)
		} else {
			m.save(ctx, m.keys.Leads, m.leads)
		}
	}
}

func (m *Manager) save(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		m.log.Warn("jobs: encode persisted value", zap.String("key", key), zap.Error(err))
		return
	}
	if err := m.deps.Persister.Save(ctx, key, b); err != nil {
		m.log.Warn("jobs: persist session", zap.String("key", key), zap.Error(err))
	}
}

func (m *Manager) drop(ctx context.Context, key string) {
	if err := m.deps.Persister.Delete(ctx, key); err != nil {
		m.log.Warn("jobs: clear persisted value", zap.String("key", key), zap.Error(err))
	}
}

// load reads the persisted job and leads. Anything unreadable is logged
// and treated as absent.
func (m *Manager) load(ctx context.Context) (*model.Job, []model.Lead) {
	p := m.deps.Persister
	raw, err := p.Load(ctx, m.keys.Job)
	if err != nil {
		m.log.Warn("jobs: load persisted job", zap.Error(err))
		return nil, nil
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil || job.ID == "" {
		m.log.Warn("jobs: discard corrupt persisted job", zap.Error(err))
		return nil, nil
	}
	job.Status = model.ParseJobStatus(string(job.Status))

	raw, err = p.Load(ctx, m.keys.Leads)
	if err != nil {
		m.log.Warn("jobs: load persisted leads", zap.Error(err))
		return &job, nil
	}
	var leads []model.Lead
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &leads); err != nil {
			m.log.Warn("jobs: discard corrupt persisted leads", zap.Error(err))
			leads = nil
		}
	}
	return &job, leads
}
