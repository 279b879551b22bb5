package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/store"
)

type fakeConn struct {
	mu      sync.Mutex
	execs   []string
	notes   chan *pgconn.Notification
	waitErr error
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{notes: make(chan *pgconn.Notification, 16)}
}

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, sql)
	return pgconn.NewCommandTag("LISTEN"), nil
}

func (c *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n, ok := <-c.notes:
		if !ok {
			return nil, c.waitErr
		}
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeLeads map[string]*model.Lead

func (f fakeLeads) GetLead(_ context.Context, id string) (*model.Lead, error) {
	if l, ok := f[id]; ok {
		return l, nil
	}
	return nil, store.ErrNotFound
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestPGListener_HandleJobUpdate(t *testing.T) {
	h := NewHub(4)
	defer h.Close()
	l := NewPGListener(nil, h, nil)

	var got collector[model.JobPatch]
	_, err := h.SubscribeJob("job-1", got.add)
	require.NoError(t, err)

	ctx := context.Background()
	l.handle(ctx, &pgconn.Notification{Channel: store.ChannelJobUpdates, Payload: `{"id":"job-1","status":"SEARCHING"}`})
	l.handle(ctx, &pgconn.Notification{Channel: store.ChannelJobUpdates, Payload: `not json`})
	l.handle(ctx, &pgconn.Notification{Channel: store.ChannelJobUpdates, Payload: `{"status":"enriching"}`})
	l.handle(ctx, &pgconn.Notification{Channel: "other", Payload: `{}`})

	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
	p := got.items()[0]
	require.NotNil(t, p.Status)
	assert.Equal(t, model.JobStatusSearching, *p.Status)
	assert.Nil(t, p.Progress, "absent progress stays absent")
}

func TestPGListener_HandleLeadInsert(t *testing.T) {
	h := NewHub(4)
	defer h.Close()
	big := &model.Lead{ID: "l2", JobID: "job-1", Name: "Large"}
	l := NewPGListener(nil, h, fakeLeads{"l2": big})

	var got collector[model.Lead]
	_, err := h.SubscribeLeads("job-1", got.add)
	require.NoError(t, err)

	ctx := context.Background()
	l.handle(ctx, &pgconn.Notification{Channel: store.ChannelLeadInserts,
		Payload: `{"id":"l1","job_id":"job-1","name":"Ada","score":70,"seq":4,"additional_data":{"city":"Austin"}}`})
	l.handle(ctx, &pgconn.Notification{Channel: store.ChannelLeadInserts,
		Payload: `{"id":"l2","job_id":"job-1","truncated":true}`})
	l.handle(ctx, &pgconn.Notification{Channel: store.ChannelLeadInserts,
		Payload: `{"id":"missing","job_id":"job-1","truncated":true}`})
	l.handle(ctx, &pgconn.Notification{Channel: store.ChannelLeadInserts,
		Payload: `{"id":"orphan"}`})

	require.Eventually(t, func() bool { return got.len() == 2 }, time.Second, 5*time.Millisecond)
	items := got.items()
	assert.Equal(t, "Ada", items[0].Name)
	require.NotNil(t, items[0].Score)
	assert.Equal(t, 70, *items[0].Score)
	assert.Equal(t, "Austin", items[0].AdditionalData.String("city"))
	assert.Equal(t, "Large", items[1].Name)
}

func TestPGListener_RunListensAndReconnects(t *testing.T) {
	h := NewHub(4)
	defer h.Close()

	first := newFakeConn()
	first.waitErr = errors.New("connection reset by peer")
	second := newFakeConn()

	var dials atomic.Int32
	dial := func(context.Context) (NotifyConn, error) {
		switch dials.Add(1) {
		case 1:
			return first, nil
		case 2:
			return nil, errors.New("connection refused")
		default:
			return second, nil
		}
	}

	l := NewPGListener(dial, h, nil)
	l.retry.Sleep = noSleep

	var got collector[model.JobPatch]
	_, err := h.SubscribeJob("job-1", got.add)
	require.NoError(t, err)

	first.notes <- &pgconn.Notification{Channel: store.ChannelJobUpdates, Payload: `{"id":"job-1","progress":10}`}
	close(first.notes)
	second.notes <- &pgconn.Notification{Channel: store.ChannelJobUpdates, Payload: `{"id":"job-1","progress":40}`}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return got.len() == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}

	assert.GreaterOrEqual(t, dials.Load(), int32(3))
	first.mu.Lock()
	assert.Equal(t, []string{`LISTEN "job_updates"`, `LISTEN "lead_inserts"`}, first.execs)
	assert.True(t, first.closed)
	first.mu.Unlock()
}

func TestPGListener_RunStopsWhileDialing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dial := func(context.Context) (NotifyConn, error) {
		cancel()
		return nil, errors.New("no route to host")
	}
	l := NewPGListener(dial, NewHub(1), nil)
	assert.NoError(t, l.Run(ctx))
}
