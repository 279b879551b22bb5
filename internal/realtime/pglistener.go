package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/internal/store"
)

// NotifyConn is the part of *pgx.Conn the listener uses.
type NotifyConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens a dedicated listening connection.
type Dialer func(ctx context.Context) (NotifyConn, error)

// DialPostgres returns a Dialer for connString.
func DialPostgres(connString string) Dialer {
	return func(ctx context.Context) (NotifyConn, error) {
		conn, err := pgx.Connect(ctx, connString)
		if err != nil {
			return nil, eris.Wrap(err, "realtime: connect")
		}
		return conn, nil
	}
}

// LeadReader fetches a lead whose notification was too large to carry the row.
type LeadReader interface {
	GetLead(ctx context.Context, id string) (*model.Lead, error)
}

// PGListener bridges Postgres trigger notifications into a Publisher.
type PGListener struct {
	dial  Dialer
	pub   store.Publisher
	leads LeadReader
	retry resilience.RetryConfig
	// pause is how long to wait after reconnect attempts are exhausted.
	pause time.Duration
}

// NewPGListener creates a listener that publishes to pub and looks up
// truncated lead payloads through leads.
func NewPGListener(dial Dialer, pub store.Publisher, leads LeadReader) *PGListener {
	return &PGListener{
		dial:  dial,
		pub:   pub,
		leads: leads,
		retry: resilience.RetryConfig{
			MaxAttempts:    8,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2,
			JitterFraction: 0.25,
			ShouldRetry:    func(error) bool { return true },
			OnRetry:        resilience.RetryLogger("postgres", "listen"),
		},
		pause: time.Minute,
	}
}

// Run listens until ctx is cancelled. Connection failures are logged and
// retried; they never end the loop.
func (l *PGListener) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "pg_listener"))
	for {
		conn, err := resilience.DoVal(ctx, l.retry, l.connect)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close(context.Background())
			}
			return nil
		}
		if err != nil {
			log.Error("realtime: listener unavailable", zap.Error(err), zap.Duration("pause", l.pause))
			if l.wait(ctx, l.pause) != nil {
				return nil
			}
			continue
		}

		log.Info("realtime: listening",
			zap.Strings("channels", []string{store.ChannelJobUpdates, store.ChannelLeadInserts}))
		err = l.listen(ctx, conn)
		_ = conn.Close(context.Background())
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("realtime: listener connection lost, reconnecting", zap.Error(err))
	}
}

func (l *PGListener) connect(ctx context.Context) (NotifyConn, error) {
	conn, err := l.dial(ctx)
	if err != nil {
		return nil, err
	}
	for _, ch := range []string{store.ChannelJobUpdates, store.ChannelLeadInserts} {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			_ = conn.Close(context.Background())
			return nil, eris.Wrapf(err, "realtime: listen %s", ch)
		}
	}
	return conn, nil
}

func (l *PGListener) listen(ctx context.Context, conn NotifyConn) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return eris.Wrap(err, "realtime: wait for notification")
		}
		l.handle(ctx, n)
	}
}

func (l *PGListener) wait(ctx context.Context, d time.Duration) error {
	if l.retry.Sleep != nil {
		return l.retry.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// leadRef is the payload sent in place of a lead row that exceeds the
// notification size limit.
type leadRef struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	Truncated bool   `json:"truncated"`
}

func (l *PGListener) handle(ctx context.Context, n *pgconn.Notification) {
	if n == nil {
		return
	}
	log := zap.L().With(zap.String("channel", n.Channel))

	switch n.Channel {
	case store.ChannelJobUpdates:
		var patch model.JobPatch
		if err := json.Unmarshal([]byte(n.Payload), &patch); err != nil {
			log.Warn("realtime: decode job update", zap.Error(err))
			return
		}
		if patch.ID == "" {
			log.Warn("realtime: job update without id")
			return
		}
		if err := l.pub.PublishJob(ctx, patch.ID, patch); err != nil {
			log.Warn("realtime: publish job update", zap.String("job_id", patch.ID), zap.Error(err))
		}

	case store.ChannelLeadInserts:
		lead, err := l.decodeLead(ctx, n.Payload)
		if err != nil {
			log.Warn("realtime: decode lead insert", zap.Error(err))
			return
		}
		if err := l.pub.PublishLead(ctx, *lead); err != nil {
			log.Warn("realtime: publish lead", zap.String("job_id", lead.JobID), zap.String("lead_id", lead.ID), zap.Error(err))
		}

	default:
		log.Debug("realtime: ignoring notification")
	}
}

func (l *PGListener) decodeLead(ctx context.Context, payload string) (*model.Lead, error) {
	var ref leadRef
	if err := json.Unmarshal([]byte(payload), &ref); err != nil {
		return nil, eris.Wrap(err, "realtime: decode lead reference")
	}
	if ref.Truncated {
		if l.leads == nil {
			return nil, eris.Errorf("realtime: lead %s truncated and no reader configured", ref.ID)
		}
		lead, err := l.leads.GetLead(ctx, ref.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "realtime: fetch truncated lead %s", ref.ID)
		}
		return lead, nil
	}

	var lead model.Lead
	if err := json.Unmarshal([]byte(payload), &lead); err != nil {
		return nil, eris.Wrap(err, "realtime: decode lead row")
	}
	if lead.JobID == "" {
		return nil, eris.Errorf("realtime: lead %s has no job_id", lead.ID)
	}
	return &lead, nil
}
