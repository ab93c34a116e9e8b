// Package events carries best-effort notifications about engine state
// changes to an external pub/sub collaborator.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"
)

const (
	QueueJoined          = "queue.joined"
	QueueCalled          = "queue.called"
	QueueLeft            = "queue.left"
	AppointmentCreated   = "appointment.created"
	AppointmentCheckedIn = "appointment.checked_in"
	AppointmentStarted   = "appointment.in_progress"
	AppointmentCancelled = "appointment.cancelled"
	AppointmentNoShow    = "appointment.no_show"
	AppointmentCompleted = "appointment.completed"
)

type Event struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Publisher delivers events. Implementations may fail; callers go through
// Emit, which never propagates the failure.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Emit marshals payload and publishes it, logging instead of returning errors.
// The publish runs on a context detached from ctx's cancellation so a caller
// that goes away after commit does not drop the event.
func Emit(ctx context.Context, p Publisher, eventType string, payload any) {
	if p == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		return
	}
	ev := Event{
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    data,
	}
	if err := p.Publish(context.WithoutCancel(ctx), ev); err != nil {
		log.Printf("failed to publish event %s: %v", eventType, err)
	}
}

const (
	DefaultBufferSize     = 1024
	DefaultPublishTimeout = 5 * time.Second
)

var (
	ErrBufferFull       = errors.New("event buffer full")
	ErrDispatcherClosed = errors.New("event dispatcher closed")
)

// Dispatcher decouples callers from a slow publisher. Publish only enqueues;
// a single worker delivers events in order, each under its own timeout.
// Failed deliveries are logged and dropped.
type Dispatcher struct {
	pub     Publisher
	timeout time.Duration
	queue   chan Event

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
	done    chan struct{}
}

func NewDispatcher(pub Publisher, buffer int, timeout time.Duration) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	d := &Dispatcher{
		pub:     pub,
		timeout: timeout,
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Async returns p wrapped in a Dispatcher unless it already never blocks.
func Async(p Publisher) Publisher {
	switch p.(type) {
	case nil:
		return Nop{}
	case Nop, *Dispatcher:
		return p
	}
	return NewDispatcher(p, DefaultBufferSize, DefaultPublishTimeout)
}

func (d *Dispatcher) Publish(_ context.Context, ev Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.pending.Add(1)
	select {
	case d.queue <- ev:
		return nil
	default:
		d.pending.Done()
		return ErrBufferFull
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.pub.Publish(ctx, ev); err != nil {
			log.Printf("failed to publish event %s: %v", ev.Type, err)
		}
		cancel()
		d.pending.Done()
	}
}

// Flush waits until every event enqueued so far has been handed to the
// publisher, or ctx ends.
func (d *Dispatcher) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	go func() {
		d.pending.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recorder keeps published events in memory. When Err is set every Publish
// fails with it after recording the attempt.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.Err
}

func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
