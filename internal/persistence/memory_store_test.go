package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/chatflow/pkg/api"
)

func TestInMemoryStore_ExecutionContract(t *testing.T) {
	testExecutionStoreContract(t, NewInMemoryStore())
}

func TestInMemoryStore_SnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	exec := sampleExecution("exec-1", "flow", api.StatusRunning, testTime)

	require.NoError(t, store.Upsert(ctx, exec))
	exec.Context.Variables["name"] = "changed"

	got, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, "Ana", got.Context.Variables["name"])

	got.Context.Variables["name"] = "also changed"
	again, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, "Ana", again.Context.Variables["name"])
}

func TestInMemoryStore_Graphs(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	_, err := store.GetGraph(ctx, "welcome")
	if !errors.Is(err, ErrGraphNotFound) {
		t.Fatalf("expected ErrGraphNotFound, got %v", err)
	}

	graph := api.GraphDefinition{ID: "welcome", Name: "Welcome", Nodes: []api.Node{
		{ID: "s", Type: api.NodeStart, Connections: []api.Connection{{Target: "e"}}},
		{ID: "e", Type: api.NodeEnd},
	}}
	require.NoError(t, store.SaveGraph(ctx, graph))

	got, err := store.GetGraph(ctx, "welcome")
	require.NoError(t, err)
	require.Equal(t, graph, got)
}

func TestInMemoryStore_Events(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	require.NoError(t, store.AppendEvent(ctx, api.Event{Type: api.EventNodeStarted, ExecutionID: "a"}))
	require.NoError(t, store.AppendEvent(ctx, api.Event{Type: api.EventNodeStarted, ExecutionID: "b"}))
	require.NoError(t, store.AppendEvent(ctx, api.Event{Type: api.EventNodeCompleted, ExecutionID: "a"}))

	events, err := store.ListEvents(ctx, "a")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, api.EventNodeStarted, events[0].Type)
	require.Equal(t, api.EventNodeCompleted, events[1].Type)
}
