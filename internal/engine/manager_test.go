package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/chatflow/pkg/api"
)

func blockGraph() api.GraphDefinition {
	return graphOf("block",
		node("start", api.NodeStart, "b"),
		node("b", "block", "end"),
		node("end", api.NodeEnd),
	)
}

func TestStopUnknownExecution(t *testing.T) {
	te := newTestEngine(t, api.Config{}, nil)

	err := te.StopExecution(context.Background(), "nope")
	require.ErrorIs(t, err, api.ErrExecutionNotFound)
	require.Zero(t, te.store.Upserts())
	require.Empty(t, te.observer.Events())
}

func TestStopRunningExecution(t *testing.T) {
	ctx := context.Background()
	entered := make(chan string, 1)
	release := make(chan struct{})
	te := newTestEngine(t, api.Config{}, nil, blockingHandler(entered, release))

	type outcome struct {
		exec *api.FlowExecution
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		exec, err := te.ExecuteFlow(ctx, blockGraph(), api.InitialContext{ExecutionID: "run-1"})
		done <- outcome{exec, err}
	}()
	<-entered

	require.Len(t, te.ActiveExecutions(), 1)
	require.NoError(t, te.StopExecution(ctx, "run-1"))
	require.Empty(t, te.ActiveExecutions())

	// A second stop finds nothing to stop.
	require.ErrorIs(t, te.StopExecution(ctx, "run-1"), api.ErrExecutionNotFound)

	close(release)
	got := <-done
	require.NoError(t, got.err)
	require.Equal(t, api.StatusStopped, got.exec.Status)
	require.Len(t, got.exec.Steps, 2)

	stored, err := te.GetExecution(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, api.StatusStopped, stored.Status)
}

// stopDuringNode starts g, stops the run while its "b" node is in
// flight, then lets the node finish.
func stopDuringNode(t *testing.T, te *testEngine, g api.GraphDefinition, entered <-chan string, release chan<- struct{}) *api.FlowExecution {
	t.Helper()
	ctx := context.Background()

	type outcome struct {
		exec *api.FlowExecution
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		exec, err := te.ExecuteFlow(ctx, g, api.InitialContext{ExecutionID: "run-1"})
		done <- outcome{exec, err}
	}()
	<-entered

	require.NoError(t, te.StopExecution(ctx, "run-1"))
	close(release)

	got := <-done
	require.NoError(t, got.err)
	return got.exec
}

func TestStopWinsOverPauseOfInflightNode(t *testing.T) {
	ctx := context.Background()
	entered := make(chan string, 1)
	release := make(chan struct{})
	waiting := &funcHandler{nodeType: "block", fn: func(ctx context.Context, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
		entered <- ec.ExecutionID
		<-release
		return nil, api.NewWaitForInputError("need a reply")
	}}
	te := newTestEngine(t, api.Config{}, nil, waiting)

	exec := stopDuringNode(t, te, blockGraph(), entered, release)
	require.Equal(t, api.StatusStopped, exec.Status)
	require.Empty(t, te.ActiveExecutions())

	stored, err := te.GetExecution(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, api.StatusStopped, stored.Status)
	require.False(t, stored.FinishedAt.IsZero())

	_, err = te.Resume(ctx, api.ResumeEvent{ExecutionID: "run-1", Type: api.ResumeUserInput, Data: "hi"})
	require.ErrorIs(t, err, api.ErrNotPaused)
}

func TestStopOnLastNodeEndsStopped(t *testing.T) {
	ctx := context.Background()
	entered := make(chan string, 1)
	release := make(chan struct{})
	te := newTestEngine(t, api.Config{}, nil, blockingHandler(entered, release))

	g := graphOf("last",
		node("start", api.NodeStart, "b"),
		node("b", "block"),
	)
	exec := stopDuringNode(t, te, g, entered, release)
	require.Equal(t, api.StatusStopped, exec.Status)

	stored, err := te.GetExecution(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, api.StatusStopped, stored.Status)
	require.Equal(t, "execution:stopped", te.observer.Events()[len(te.observer.Events())-1])
}

func TestStopPausedExecution(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, api.Config{}, nil)

	exec, err := te.ExecuteFlow(ctx, menuGraph(), api.InitialContext{ConversationID: "c"})
	require.NoError(t, err)
	require.Equal(t, api.StatusPaused, exec.Status)

	require.NoError(t, te.StopExecution(ctx, exec.ID))
	require.Empty(t, te.ActiveExecutions())

	stored, err := te.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, api.StatusStopped, stored.Status)
	require.False(t, stored.FinishedAt.IsZero())

	_, err = te.Resume(ctx, api.ResumeEvent{ExecutionID: exec.ID, Type: api.ResumeUserInput, Data: "1"})
	require.ErrorIs(t, err, api.ErrNotPaused)

	require.Equal(t, "execution:stopped", te.observer.Events()[len(te.observer.Events())-1])
}

func TestSweepRemovesStuckRuns(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	entered := make(chan string, 1)
	release := make(chan struct{})
	te := newTestEngine(t, api.DefaultConfig(), clock, blockingHandler(entered, release))

	done := make(chan *api.FlowExecution, 1)
	go func() {
		exec, _ := te.ExecuteFlow(ctx, blockGraph(), api.InitialContext{ExecutionID: "stuck"})
		done <- exec
	}()
	<-entered

	// A paused run is never swept.
	paused, err := te.ExecuteFlow(ctx, menuGraph(), api.InitialContext{ExecutionID: "waiting", ConversationID: "c"})
	require.NoError(t, err)
	require.Equal(t, api.StatusPaused, paused.Status)

	clock.Advance(9 * time.Minute)
	require.Empty(t, te.Sweep())

	clock.Advance(2 * time.Minute)
	require.Equal(t, []string{"stuck"}, te.Sweep())

	active := te.ActiveExecutions()
	require.Len(t, active, 1)
	require.Equal(t, "waiting", active[0].ExecutionID)

	close(release)
	exec := <-done
	require.Equal(t, api.StatusStopped, exec.Status)
}

func TestStartSweeperRunsOnInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := api.DefaultConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	cfg.MaxExecutionTime = time.Millisecond
	entered := make(chan string, 1)
	release := make(chan struct{})
	te := newTestEngine(t, cfg, nil, blockingHandler(entered, release))

	done := make(chan *api.FlowExecution, 1)
	go func() {
		exec, _ := te.ExecuteFlow(ctx, blockGraph(), api.InitialContext{})
		done <- exec
	}()
	<-entered

	te.StartSweeper(ctx)
	require.Eventually(t, func() bool { return len(te.ActiveExecutions()) == 0 }, 2*time.Second, 10*time.Millisecond)

	close(release)
	require.Equal(t, api.StatusStopped, (<-done).Status)
}

func TestShutdownStopsAndWaits(t *testing.T) {
	ctx := context.Background()
	entered := make(chan string, 1)
	release := make(chan struct{})
	te := newTestEngine(t, api.Config{}, nil, blockingHandler(entered, release))

	done := make(chan *api.FlowExecution, 1)
	go func() {
		exec, _ := te.ExecuteFlow(ctx, blockGraph(), api.InitialContext{})
		done <- exec
	}()
	<-entered

	paused, err := te.ExecuteFlow(ctx, menuGraph(), api.InitialContext{ConversationID: "c"})
	require.NoError(t, err)

	shutdown := make(chan error, 1)
	go func() { shutdown <- te.Shutdown(ctx) }()

	select {
	case err := <-shutdown:
		t.Fatalf("Shutdown returned before the in-flight run finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-shutdown)
	require.Equal(t, api.StatusStopped, (<-done).Status)

	stored, err := te.GetExecution(ctx, paused.ID)
	require.NoError(t, err)
	require.Equal(t, api.StatusStopped, stored.Status)

	_, err = te.ExecuteFlow(ctx, blockGraph(), api.InitialContext{})
	require.ErrorIs(t, err, api.ErrEngineShutdown)
}

func TestShutdownHonorsContext(t *testing.T) {
	entered := make(chan string, 1)
	release := make(chan struct{})
	defer close(release)
	te := newTestEngine(t, api.Config{}, nil, blockingHandler(entered, release))

	go func() { _, _ = te.ExecuteFlow(context.Background(), blockGraph(), api.InitialContext{}) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, te.Shutdown(ctx), context.DeadlineExceeded)
}

func TestManagerSnapshotOrder(t *testing.T) {
	m := NewManager(nil)
	t0 := newFakeClock().Now()

	for i, id := range []string{"b", "a", "c"} {
		exec := &api.FlowExecution{ID: id, FlowID: "f", Context: &api.ExecutionContext{}}
		_, err := m.register(exec, t0.Add(time.Duration(i%2)*time.Second))
		require.NoError(t, err)
	}

	snap := m.Snapshot(t0)
	ids := []string{snap[0].ExecutionID, snap[1].ExecutionID, snap[2].ExecutionID}
	require.Equal(t, []string{"b", "c", "a"}, ids)
	require.Equal(t, 3, m.Len())
}
