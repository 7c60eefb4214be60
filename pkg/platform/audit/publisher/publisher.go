// Package publisher delivers audit events to the primary log and any number
// of secondary sinks. Synchronous by default; WithAsyncBuffer moves delivery
// onto a background goroutine so hot paths never block on the audit trail.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	audit "authed/pkg/platform/audit"
)

// ErrBufferFull is returned when async mode cannot accept another event.
var ErrBufferFull = errors.New("audit buffer full")

// Publisher fans audit events out to a primary log plus optional sinks.
type Publisher struct {
	log    audit.Log
	sinks  []audit.Store
	logger *slog.Logger

	inbox chan audit.Event
	done  chan struct{}
	once  sync.Once
}

type Option func(p *Publisher)

// WithAsyncBuffer switches delivery to a buffered background goroutine.
// When the buffer is full, Emit drops the event rather than blocking.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.inbox = make(chan audit.Event, size)
	}
}

// WithSink adds a secondary write-only destination (e.g. a Kafka producer).
// Sink failures are logged and never fail the emit.
func WithSink(sink audit.Store) Option {
	return func(p *Publisher) {
		if sink != nil {
			p.sinks = append(p.sinks, sink)
		}
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a publisher writing to the given log.
func NewPublisher(log audit.Log, opts ...Option) *Publisher {
	p := &Publisher{
		log:    log,
		logger: slog.New(slog.DiscardHandler),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		go p.run()
	}
	return p
}

// Emit records an event. Missing timestamp, category and severity are filled
// from the action. In async mode a full buffer drops the event and returns
// ErrBufferFull; audit loss is preferred over blocking token issuance.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	event.Normalize(time.Now())

	if p.inbox == nil {
		return p.deliver(ctx, event)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.inbox <- event:
		return nil
	default:
		p.logger.Warn("audit event dropped", "action", event.Action)
		return ErrBufferFull
	}
}

// List returns events for an actor from the primary log.
func (p *Publisher) List(ctx context.Context, actorID string) ([]audit.Event, error) {
	return p.log.ListByActor(ctx, actorID)
}

// ListRecent returns the most recent events from the primary log.
func (p *Publisher) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	return p.log.ListRecent(ctx, limit)
}

// Close drains the async buffer and stops the worker. Safe to call more than
// once and in sync mode.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.inbox != nil {
			close(p.inbox)
			<-p.done
		}
	})
}

func (p *Publisher) run() {
	defer close(p.done)
	for event := range p.inbox {
		// Detached context: request contexts are gone by delivery time.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.deliver(ctx, event); err != nil {
			p.logger.Error("audit delivery failed", "action", event.Action, "error", err)
		}
		cancel()
	}
}

func (p *Publisher) deliver(ctx context.Context, event audit.Event) error {
	err := p.log.Append(ctx, event)
	for _, sink := range p.sinks {
		if sinkErr := sink.Append(ctx, event); sinkErr != nil {
			p.logger.Warn("audit sink append failed", "action", event.Action, "error", sinkErr)
		}
	}
	return err
}
