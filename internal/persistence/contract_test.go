package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/chatflow/pkg/api"
)

func sampleExecution(id, flowID string, status api.Status, startedAt time.Time) *api.FlowExecution {
	ec := api.NewExecutionContext(flowID, api.InitialContext{
		ExecutionID:    id,
		ConversationID: "conv-" + id,
		Variables:      map[string]any{"name": "Ana", "age": 41},
	}, startedAt)
	ec.CurrentNodeID = "menu"
	ec.Steps = []api.ExecutionStep{{
		NodeID:     "start",
		NodeType:   api.NodeStart,
		Status:     api.StepCompleted,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(time.Millisecond),
		Output:     api.Result{"status": "started"},
		Duration:   time.Millisecond,
	}}
	return &api.FlowExecution{
		ID:        id,
		FlowID:    flowID,
		Status:    status,
		Context:   ec,
		Steps:     ec.Steps,
		StartedAt: startedAt,
	}
}

// testExecutionStoreContract exercises the behaviour every ExecutionStore
// must share. The store must be empty.
func testExecutionStoreContract(t *testing.T, store ExecutionStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Get(ctx, "missing")
	if !errors.Is(err, ErrExecutionNotFound) {
		t.Fatalf("expected ErrExecutionNotFound, got %v", err)
	}
	require.ErrorIs(t, err, api.ErrExecutionNotFound)

	exec := sampleExecution("exec-1", "flow-a", api.StatusRunning, base)
	require.NoError(t, store.Upsert(ctx, exec))
	require.NoError(t, store.Upsert(ctx, exec), "upsert must be idempotent")

	got, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, "flow-a", got.FlowID)
	require.Equal(t, api.StatusRunning, got.Status)
	require.Equal(t, "menu", got.Context.CurrentNodeID)
	require.Equal(t, "conv-exec-1", got.Context.ConversationID)
	require.Equal(t, "Ana", got.Context.Variables["name"])
	require.EqualValues(t, 41, got.Context.Variables["age"])
	require.Len(t, got.Steps, 1)
	require.Equal(t, api.StepCompleted, got.Steps[0].Status)
	require.True(t, got.StartedAt.Equal(base))

	exec.Status = api.StatusCompleted
	exec.Result = map[string]any{"status": "completed"}
	exec.FinishedAt = base.Add(time.Second)
	require.NoError(t, store.Upsert(ctx, exec))

	got, err = store.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, got.Status)
	require.Equal(t, map[string]any{"status": "completed"}, got.Result)

	require.NoError(t, store.Upsert(ctx, sampleExecution("exec-2", "flow-a", api.StatusPaused, base.Add(time.Minute))))
	require.NoError(t, store.Upsert(ctx, sampleExecution("exec-3", "flow-b", api.StatusPaused, base.Add(2*time.Minute))))

	ids := func(list []*api.FlowExecution) []string {
		out := make([]string, 0, len(list))
		for _, e := range list {
			out = append(out, e.ID)
		}
		return out
	}

	all, err := store.List(ctx, api.ExecutionFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"exec-1", "exec-2", "exec-3"}, ids(all))

	byFlow, err := store.List(ctx, api.ExecutionFilter{FlowID: "flow-a"})
	require.NoError(t, err)
	require.Equal(t, []string{"exec-1", "exec-2"}, ids(byFlow))

	byStatus, err := store.List(ctx, api.ExecutionFilter{Status: api.StatusPaused})
	require.NoError(t, err)
	require.Equal(t, []string{"exec-2", "exec-3"}, ids(byStatus))

	both, err := store.List(ctx, api.ExecutionFilter{FlowID: "flow-a", Status: api.StatusCompleted})
	require.NoError(t, err)
	require.Equal(t, []string{"exec-1"}, ids(both))

	// A status change must move the execution out of its old status.
	stale, err := store.List(ctx, api.ExecutionFilter{Status: api.StatusRunning})
	require.NoError(t, err)
	require.Empty(t, stale)

	none, err := store.List(ctx, api.ExecutionFilter{FlowID: "flow-z"})
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)
}
