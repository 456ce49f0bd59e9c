package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/chatflow/pkg/api"
)

func TestStartToEndCompletesWithTwoSteps(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, api.Config{}, nil)

	g := graphOf("hello", node("start", api.NodeStart, "end"), node("end", api.NodeEnd))

	exec, err := te.ExecuteFlow(ctx, g, api.InitialContext{ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("ExecuteFlow failed: %v", err)
	}
	if exec.Status != api.StatusCompleted {
		t.Fatalf("expected completed, got %q", exec.Status)
	}
	if len(exec.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(exec.Steps))
	}
	for _, st := range exec.Steps {
		if st.Status != api.StepCompleted {
			t.Fatalf("step %s: expected completed, got %q", st.NodeID, st.Status)
		}
	}
	if exec.ID == "" || exec.FinishedAt.IsZero() {
		t.Fatalf("expected id and finish time, got %+v", exec)
	}

	stored, err := te.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if stored.Status != api.StatusCompleted || len(stored.Steps) != 2 {
		t.Fatalf("unexpected stored execution: %+v", stored)
	}
	if got := len(te.ActiveExecutions()); got != 0 {
		t.Fatalf("expected empty active table, got %d", got)
	}

	require.Equal(t, []string{
		"started:start", "completed:start",
		"started:end", "completed:end",
		"execution:completed",
	}, te.observer.Events())
}

func TestMissingStartNodeIsGraphError(t *testing.T) {
	te := newTestEngine(t, api.Config{}, nil)

	_, err := te.ExecuteFlow(context.Background(), graphOf("empty", node("end", api.NodeEnd)), api.InitialContext{})
	var ge *api.GraphError
	require.ErrorAs(t, err, &ge)
	require.Equal(t, "empty", ge.FlowID)
	require.Zero(t, te.store.Upserts())
}

func TestStepLimitStopsRun(t *testing.T) {
	ctx := context.Background()
	cfg := api.DefaultConfig()
	cfg.MaxSteps = 5
	te := newTestEngine(t, cfg, nil)

	// "spin" routes to itself forever.
	g := graphOf("spin",
		node("start", api.NodeStart, "spin"),
		node("spin", api.NodeVariable, "spin"),
	)
	g.Nodes[1].Config = map[string]any{"name": "n", "operation": "increment"}

	exec, err := te.ExecuteFlow(ctx, g, api.InitialContext{})
	var sl *api.StepLimitError
	require.ErrorAs(t, err, &sl)
	require.Equal(t, 5, sl.Limit)
	require.Len(t, exec.Steps, 5)
	require.Equal(t, api.StatusError, exec.Status)

	stored, err := te.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, api.StatusError, stored.Status)
	require.LessOrEqual(t, len(stored.Steps), 5)
}

func TestTimeBudgetStopsRun(t *testing.T) {
	clock := newFakeClock()
	tick := &funcHandler{nodeType: "tick", fn: func(ctx context.Context, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
		clock.Advance(2 * time.Minute)
		return api.Result{}, nil
	}}
	te := newTestEngine(t, api.DefaultConfig(), clock, tick)

	g := graphOf("slow", node("start", api.NodeStart, "tick"), node("tick", "tick", "tick"))

	exec, err := te.ExecuteFlow(context.Background(), g, api.InitialContext{})
	var te2 *api.TimeoutError
	require.ErrorAs(t, err, &te2)
	require.Equal(t, 5*time.Minute, te2.Limit)
	require.False(t, api.IsBudgetError(errBoom))
	require.True(t, api.IsBudgetError(err))
	// start, then three ticks take the clock to 6m.
	require.Len(t, exec.Steps, 4)
	require.Equal(t, api.StatusError, exec.Status)
}

func TestRetryBacksOffExponentially(t *testing.T) {
	calls := 0
	flaky := &funcHandler{nodeType: "flaky", fn: func(ctx context.Context, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
		calls++
		if calls <= 2 {
			return nil, errBoom
		}
		return api.Result{"ok": true}, nil
	}}
	cfg := api.DefaultConfig()
	cfg.RetryDelay = 100 * time.Millisecond
	te := newTestEngine(t, cfg, nil, flaky)

	g := graphOf("retry", node("start", api.NodeStart, "flaky"), node("flaky", "flaky", "end"), node("end", api.NodeEnd))

	exec, err := te.ExecuteFlow(context.Background(), g, api.InitialContext{})
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, exec.Status)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, te.sleeps.Delays())
}

func TestNodeRetryAttemptsOverride(t *testing.T) {
	calls := 0
	failing := &funcHandler{nodeType: "failing", fn: func(ctx context.Context, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
		calls++
		return nil, errBoom
	}}
	te := newTestEngine(t, api.Config{}, nil, failing)

	g := graphOf("once", node("start", api.NodeStart, "f"), node("f", "failing"))
	g.Nodes[1].Config["retryAttempts"] = 1

	exec, err := te.ExecuteFlow(context.Background(), g, api.InitialContext{})
	require.ErrorIs(t, err, errBoom)
	var he *api.HandlerError
	require.ErrorAs(t, err, &he)
	require.Equal(t, "f", he.NodeID)
	require.Equal(t, 1, calls)
	require.Empty(t, te.sleeps.Delays())
	require.Equal(t, api.StepError, exec.Steps[1].Status)
}

func TestErrorHandlerAbsorbsFailure(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, api.Config{}, nil)

	// An unknown operator is a configuration error and is never retried.
	cond := node("check", api.NodeCondition, "end")
	cond.Config = map[string]any{"conditions": []any{
		map[string]any{"variable": "x", "operator": "bogus", "value": 1},
	}}
	g := graphOf("recover",
		node("start", api.NodeStart, "check"),
		cond,
		node("end", api.NodeEnd),
		node("oops", api.NodeError, "sorry"),
		node("sorry", api.NodeEnd),
	)

	exec, err := te.ExecuteFlow(ctx, g, api.InitialContext{})
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, exec.Status)
	require.Empty(t, te.sleeps.Delays())

	ids := make([]string, 0, len(exec.Steps))
	for _, st := range exec.Steps {
		ids = append(ids, st.NodeID)
	}
	require.Equal(t, []string{"start", "check", "oops", "sorry"}, ids)
	require.Equal(t, api.StepError, exec.Steps[1].Status)
	require.Equal(t, "check", exec.Context.Variables["lastErrorNodeId"])
	require.Contains(t, exec.Context.Variables["lastError"], "bogus")
	require.Contains(t, te.observer.Events(), "error:check")
}

func TestErrorHandlerFailurePropagates(t *testing.T) {
	failing := &funcHandler{nodeType: "failing", fn: func(ctx context.Context, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
		return nil, api.Permanent(errBoom)
	}}
	te := newTestEngine(t, api.Config{}, nil, failing)

	handler := node("handler", "failing")
	handler.Config["isErrorHandler"] = true
	g := graphOf("double", node("start", api.NodeStart, "f"), node("f", "failing"), handler)

	exec, err := te.ExecuteFlow(context.Background(), g, api.InitialContext{})
	require.ErrorIs(t, err, errBoom)
	var he *api.HandlerError
	require.ErrorAs(t, err, &he)
	require.Equal(t, "handler", he.NodeID)
	require.Equal(t, api.StatusError, exec.Status)
	require.Len(t, exec.Steps, 3)
}

func TestUnknownNodeTypeFails(t *testing.T) {
	te := newTestEngine(t, api.Config{}, nil)
	g := graphOf("mystery", node("start", api.NodeStart, "m"), node("m", "teleport"))

	exec, err := te.ExecuteFlow(context.Background(), g, api.InitialContext{})
	var ue *api.UnknownNodeTypeError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, api.NodeType("teleport"), ue.Type)
	require.Equal(t, api.StatusError, exec.Status)
}

func TestDanglingConnectionIsRoutingError(t *testing.T) {
	te := newTestEngine(t, api.Config{}, nil)
	g := graphOf("dangling", node("start", api.NodeStart, "nowhere"))

	_, err := te.ExecuteFlow(context.Background(), g, api.InitialContext{})
	var re *api.RoutingError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "nowhere", re.Target)
}

func TestPositionalSuccessorWithoutConnections(t *testing.T) {
	te := newTestEngine(t, api.Config{}, nil)
	set := node("set", api.NodeVariable)
	set.Config = map[string]any{"name": "greeting", "value": "hi"}
	g := graphOf("linear", node("start", api.NodeStart), set, node("end", api.NodeEnd))

	exec, err := te.ExecuteFlow(context.Background(), g, api.InitialContext{})
	require.NoError(t, err)
	require.Len(t, exec.Steps, 3)
	require.Equal(t, "hi", exec.Context.Variables["greeting"])

	vars, ok := exec.Result.(api.Result)["variables"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "hi", vars["greeting"])
}

func TestConditionRoutesThroughEngine(t *testing.T) {
	te := newTestEngine(t, api.Config{}, nil)

	cond := node("age", api.NodeCondition)
	cond.Config = map[string]any{"conditions": []any{
		map[string]any{"variable": "age", "operator": "greater_than", "value": 18, "result": map[string]any{"choice": "adult"}},
		map[string]any{"default": true, "result": map[string]any{"choice": "minor"}},
	}}
	cond.Connections = []api.Connection{
		{Target: "adult", Label: "adult"},
		{Target: "fallback"},
	}
	g := graphOf("ages",
		node("start", api.NodeStart, "age"),
		cond,
		node("adult", api.NodeEnd),
		node("fallback", api.NodeEnd),
	)

	for age, want := range map[int]string{25: "adult", 10: "fallback"} {
		exec, err := te.ExecuteFlow(context.Background(), g, api.InitialContext{Variables: map[string]any{"age": age}})
		require.NoError(t, err)
		require.Equal(t, want, exec.Steps[len(exec.Steps)-1].NodeID, "age=%d", age)
	}
}

func TestPersistenceFailureIsSwallowed(t *testing.T) {
	te := newTestEngine(t, api.Config{}, nil)
	te.store.err = errors.New("disk full")

	g := graphOf("hello", node("start", api.NodeStart, "end"), node("end", api.NodeEnd))
	exec, err := te.ExecuteFlow(context.Background(), g, api.InitialContext{})
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, exec.Status)
	require.Equal(t, 2, te.store.Upserts())
}

func TestPersistenceCanBeDisabled(t *testing.T) {
	cfg := api.DefaultConfig()
	cfg.EnablePersistence = false
	te := newTestEngine(t, cfg, nil)

	g := graphOf("hello", node("start", api.NodeStart, "end"), node("end", api.NodeEnd))
	exec, err := te.ExecuteFlow(context.Background(), g, api.InitialContext{})
	require.NoError(t, err)
	require.Zero(t, te.store.Upserts())

	_, err = te.GetExecution(context.Background(), exec.ID)
	require.ErrorIs(t, err, api.ErrExecutionNotFound)
}

func TestPartialConfigWarnsThatPersistenceIsOff(t *testing.T) {
	cases := map[string]struct {
		cfg  api.Config
		warn bool
	}{
		"zero config":    {cfg: api.Config{}, warn: false},
		"defaults":       {cfg: api.DefaultConfig(), warn: false},
		"only max steps": {cfg: api.Config{MaxSteps: 5}, warn: true},
	}
	for name, tc := range cases {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		eng := NewEngineWithConfig(Config{Engine: tc.cfg, Logger: logger, Gateway: &fakeGateway{}})

		require.Equal(t, tc.warn, strings.Contains(buf.String(), "execution_persistence_disabled"), name)
		require.Equal(t, !tc.warn, eng.cfg.EnablePersistence, name)
	}
}

func TestConcurrentRunsAreIsolated(t *testing.T) {
	var barrier sync.WaitGroup
	barrier.Add(2)

	mark := &funcHandler{nodeType: "mark", fn: func(ctx context.Context, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
		ec.Set("owner", ec.Variables["me"])
		barrier.Done()
		barrier.Wait()
		return api.Result{}, nil
	}}
	te := newTestEngine(t, api.Config{}, nil, mark)
	g := graphOf("iso", node("start", api.NodeStart, "mark"), node("mark", "mark", "end"), node("end", api.NodeEnd))

	var (
		wg      sync.WaitGroup
		results = make([]*api.FlowExecution, 2)
		errs    = make([]error, 2)
	)
	for i, me := range []string{"alice", "bob"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = te.ExecuteFlow(context.Background(), g, api.InitialContext{
				ExecutionID: "exec-" + me,
				Variables:   map[string]any{"me": me},
			})
		}()
	}
	wg.Wait()

	for i, me := range []string{"alice", "bob"} {
		require.NoError(t, errs[i])
		require.Equal(t, me, results[i].Context.Variables["owner"])
	}
}

func TestDuplicateActiveExecutionID(t *testing.T) {
	entered := make(chan string, 1)
	release := make(chan struct{})
	te := newTestEngine(t, api.Config{}, nil, blockingHandler(entered, release))
	g := graphOf("block", node("start", api.NodeStart, "b"), node("b", "block"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = te.ExecuteFlow(context.Background(), g, api.InitialContext{ExecutionID: "same"})
	}()
	<-entered

	_, err := te.ExecuteFlow(context.Background(), g, api.InitialContext{ExecutionID: "same"})
	require.ErrorIs(t, err, api.ErrExecutionActive)

	close(release)
	<-done
}

func TestDebugModeRecordsInputs(t *testing.T) {
	cfg := api.DefaultConfig()
	cfg.DebugMode = true
	te := newTestEngine(t, cfg, nil)

	g := graphOf("dbg", node("start", api.NodeStart, "end"), node("end", api.NodeEnd))
	exec, err := te.ExecuteFlow(context.Background(), g, api.InitialContext{Variables: map[string]any{"a": 1}})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": 1}, exec.Steps[0].Input)
}

func TestRegisterFlowValidates(t *testing.T) {
	te := newTestEngine(t, api.Config{}, nil)

	var ge *api.GraphError
	require.ErrorAs(t, te.RegisterFlow(api.GraphDefinition{}), &ge)
	require.ErrorAs(t, te.RegisterFlow(graphOf("dup", node("a", api.NodeStart), node("a", api.NodeEnd))), &ge)
	require.ErrorAs(t, te.RegisterFlow(graphOf("two", node("a", api.NodeStart), node("b", api.NodeStart))), &ge)
	require.NoError(t, te.RegisterFlow(graphOf("ok", node("a", api.NodeStart))))

	_, err := te.graphs.Get(context.Background(), "missing")
	require.ErrorIs(t, err, api.ErrFlowNotFound)
}

func TestDefaultRegistryIsUsedWithoutOne(t *testing.T) {
	eng := NewInMemoryEngine(&fakeGateway{})
	send := node("say", api.NodeSendMessage, "end")
	send.Config = map[string]any{"message": "hi"}
	g := graphOf("say", node("start", api.NodeStart, "say"), send, node("end", api.NodeEnd))

	exec, err := eng.ExecuteFlow(context.Background(), g, api.InitialContext{ConversationID: "c"})
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, exec.Status)

	stored, err := eng.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, exec.ID, stored.ID)
}
