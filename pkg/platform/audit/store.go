package audit

import "context"

// Store is a write-only event sink. Kafka producers and the Postgres store
// both satisfy it.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Log is a queryable event store backing the admin listing endpoints.
type Log interface {
	Store
	ListRecent(ctx context.Context, limit int) ([]Event, error)
	ListByActor(ctx context.Context, actorID string) ([]Event, error)
}
