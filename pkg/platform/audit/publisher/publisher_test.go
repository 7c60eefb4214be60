package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "authed/pkg/platform/audit"
	"authed/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewStore()
	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		Action:  audit.ActionAgentRegistered,
		ActorID: "provider-1",
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), "provider-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionAgentRegistered, events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.Equal(t, audit.SeverityInfo, events[0].Severity)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))

	err := pub.Emit(context.Background(), audit.Event{
		Action:  audit.ActionTokenIssued,
		ActorID: "agent-1",
	})
	require.NoError(t, err)

	pub.Close()

	events, err := store.ListByActor(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.CategoryOperations, events[0].Category)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			Action:  audit.ActionTokenVerified,
			ActorID: "agent-2",
		})
		require.NoError(t, err)
	}

	pub.Close()

	events, err := store.ListByActor(context.Background(), "agent-2")
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := memory.NewStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pub.Emit(context.Background(), audit.Event{
				Action:  audit.ActionTokenIssued,
				ActorID: "agent-3",
			})
		}()
	}
	wg.Wait()
	// Verifies concurrent emits with a tiny buffer neither panic nor block.
}

func TestPublisher_PreservesExplicitFields(t *testing.T) {
	store := memory.NewStore()
	pub := NewPublisher(store)
	defer pub.Close()

	at := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	err := pub.Emit(context.Background(), audit.Event{
		Action:    audit.ActionAuthFailed,
		ActorID:   "agent-4",
		Severity:  audit.SeverityCritical,
		Timestamp: at,
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), "agent-4")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, at, events[0].Timestamp)
	assert.Equal(t, audit.SeverityCritical, events[0].Severity, "explicit severity wins over default")
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
}

func TestPublisher_FansOutToSinks(t *testing.T) {
	primary := memory.NewStore()
	sink := memory.NewStore()
	pub := NewPublisher(primary, WithSink(sink))
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		Action:  audit.ActionDPoPReplay,
		ActorID: "agent-5",
	})
	require.NoError(t, err)

	for _, store := range []*memory.Store{primary, sink} {
		events, err := store.ListByActor(context.Background(), "agent-5")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, audit.SeverityCritical, events[0].Severity)
	}
}

func TestPublisher_ListRecent(t *testing.T) {
	store := memory.NewStore()
	pub := NewPublisher(store)
	defer pub.Close()

	actions := []audit.Action{
		audit.ActionProviderRegistered,
		audit.ActionAgentRegistered,
		audit.ActionTokenIssued,
	}
	for _, action := range actions {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: action}))
	}

	events, err := pub.ListRecent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionTokenIssued, events[0].Action, "newest first")
	assert.Equal(t, audit.ActionAgentRegistered, events[1].Action)
}
