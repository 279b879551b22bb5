package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/prospect-cli/internal/model"
)

// --- Launcher Mock ---

type mockLauncher struct {
	mock.Mock
}

func (m *mockLauncher) Launch(ctx context.Context, userID string, criteria json.RawMessage) (string, error) {
	args := m.Called(ctx, userID, criteria)
	return args.String(0), args.Error(1)
}

// --- JobReader Mock ---

type mockReader struct {
	mock.Mock
}

func (m *mockReader) GetJob(ctx context.Context, id string) (*model.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

// --- Persister fake ---

type memPersister struct {
	mu      sync.Mutex
	data    map[string][]byte
	saves   int
	saveErr error
	loadErr error
}

func newMemPersister() *memPersister {
	return &memPersister{data: make(map[string][]byte)}
}

func (p *memPersister) Load(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	return p.data[key], nil
}

func (p *memPersister) Save(_ context.Context, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	if p.saveErr != nil {
		return p.saveErr
	}
	p.data[key] = append([]byte(nil), value...)
	return nil
}

func (p *memPersister) Delete(_ context.Context, keys ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		delete(p.data, k)
	}
	return nil
}

func (p *memPersister) get(key string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data[key]
}

// --- Notifier fake ---

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingNotifier) Notify(_ context.Context, _ string, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingNotifier) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.notices))
	for i, n := range r.notices {
		out[i] = n.Title
	}
	return out
}

// --- Sleep recorder ---

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	hook   func()
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

var errRemote = eris.New("pipeline unavailable")
