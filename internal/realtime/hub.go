// Package realtime delivers job updates and lead inserts to subscribers
// keyed by job id.
package realtime

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/model"
)

// ErrClosed is returned by a Hub after Close.
var ErrClosed = eris.New("realtime: hub closed")

const defaultBuffer = 64

// Subscription is an active channel subscription.
type Subscription interface {
	// Unsubscribe stops delivery. Events still buffered are discarded.
	// It is safe to call more than once.
	Unsubscribe()
}

// Hub is an in-process pub/sub for job and lead events. Every subscription
// is delivered on its own goroutine in publish order, so a slow consumer
// never sees reordered events and never stalls other consumers beyond its
// buffer. Publishing to a full subscriber blocks until there is room or
// the context ends; events are not dropped.
type Hub struct {
	jobs   *registry[model.JobPatch]
	leads  *registry[model.Lead]
	buffer int
}

// NewHub creates a Hub with the given per-subscription buffer size.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		jobs:   newRegistry[model.JobPatch](),
		leads:  newRegistry[model.Lead](),
		buffer: buffer,
	}
}

// SubscribeJob calls fn with every update published for jobID.
func (h *Hub) SubscribeJob(jobID string, fn func(model.JobPatch)) (Subscription, error) {
	s, err := h.jobs.subscribe(jobID, h.buffer, fn)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SubscribeLeads calls fn with every lead inserted for jobID.
func (h *Hub) SubscribeLeads(jobID string, fn func(model.Lead)) (Subscription, error) {
	s, err := h.leads.subscribe(jobID, h.buffer, fn)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// PublishJob delivers patch to the subscribers of jobID.
func (h *Hub) PublishJob(ctx context.Context, jobID string, patch model.JobPatch) error {
	if patch.ID == "" {
		patch.ID = jobID
	}
	return h.jobs.publish(ctx, jobID, patch)
}

// PublishLead delivers lead to the subscribers of its job.
func (h *Hub) PublishLead(ctx context.Context, lead model.Lead) error {
	return h.leads.publish(ctx, lead.JobID, lead)
}

// Subscribers returns the number of live subscriptions for jobID across
// both channels.
func (h *Hub) Subscribers(jobID string) int {
	return h.jobs.count(jobID) + h.leads.count(jobID)
}

// Close stops every subscription. Later calls fail with ErrClosed.
func (h *Hub) Close() {
	h.jobs.close()
	h.leads.close()
}

type subscriber[T any] struct {
	ch     chan T
	done   chan struct{}
	once   sync.Once
	remove func()
}

func (s *subscriber[T]) Unsubscribe() {
	s.once.Do(func() {
		s.remove()
		close(s.done)
	})
}

func (s *subscriber[T]) run(fn func(T)) {
	for {
		select {
		case v := <-s.ch:
			select {
			case <-s.done:
				return
			default:
			}
			fn(v)
		case <-s.done:
			return
		}
	}
}

type registry[T any] struct {
	mu     sync.RWMutex
	topics map[string]map[*subscriber[T]]struct{}
	closed bool
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{topics: make(map[string]map[*subscriber[T]]struct{})}
}

func (r *registry[T]) subscribe(key string, buffer int, fn func(T)) (*subscriber[T], error) {
	if key == "" {
		return nil, eris.New("realtime: subscribe: empty job id")
	}
	if fn == nil {
		return nil, eris.New("realtime: subscribe: nil handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	s := &subscriber[T]{
		ch:   make(chan T, buffer),
		done: make(chan struct{}),
	}
	s.remove = func() { r.remove(key, s) }
	if r.topics[key] == nil {
		r.topics[key] = make(map[*subscriber[T]]struct{})
	}
	r.topics[key][s] = struct{}{}
	go s.run(fn)
	return s, nil
}

func (r *registry[T]) remove(key string, s *subscriber[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.topics[key]
	delete(subs, s)
	if len(subs) == 0 {
		delete(r.topics, key)
	}
}

func (r *registry[T]) publish(ctx context.Context, key string, v T) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*subscriber[T], 0, len(r.topics[key]))
	for s := range r.topics[key] {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- v:
		case <-s.done:
		case <-ctx.Done():
			return eris.Wrapf(ctx.Err(), "realtime: publish to %s", key)
		}
	}
	return nil
}

func (r *registry[T]) count(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[key])
}

func (r *registry[T]) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var all []*subscriber[T]
	for _, subs := range r.topics {
		for s := range subs {
			all = append(all, s)
		}
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Unsubscribe()
	}
}
