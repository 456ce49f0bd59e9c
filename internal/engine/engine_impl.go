package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/chatflow/internal/expr"
	"github.com/petrijr/chatflow/internal/handlers"
	"github.com/petrijr/chatflow/internal/persistence"
	"github.com/petrijr/chatflow/pkg/api"
)

// Engine is the in-process flow interpreter. Each run is executed
// sequentially by the goroutine that called ExecuteFlow or Resume.
type Engine struct {
	executions persistence.ExecutionStore
	graphs     *graphRegistry
	registry   *handlers.Registry
	observer   api.Observer
	logger     *slog.Logger
	evaluator  *expr.Evaluator
	cfg        api.Config
	manager    *Manager

	sleep SleepFunc
	now   func() time.Time
	newID func() string

	closed atomic.Bool
}

// Ensure Engine implements api.Engine.
var _ api.Engine = (*Engine)(nil)

// Config describes how to construct an Engine. Zero fields get defaults.
type Config struct {
	Persistence persistence.Persistence

	// Registry maps node types to handlers. When nil a default registry
	// is built around Gateway.
	Registry *handlers.Registry
	Gateway  api.MessagingGateway

	Observer api.Observer
	Logger   *slog.Logger

	// Engine holds budgets and retry defaults. The zero value means
	// api.DefaultConfig(). Any other value is taken field by field:
	// zero budgets are defaulted, but EnablePersistence is used as given,
	// so a partial Config that leaves it false runs without snapshots
	// and paused runs cannot be resumed after a restart. Start from
	// api.DefaultConfig() to keep persistence on.
	Engine api.Config

	// Sleep is used for retry backoff and delay nodes.
	Sleep SleepFunc
	Now   func() time.Time
	NewID func() string
}

// NewInMemoryEngine returns an engine whose stores live in memory.
func NewInMemoryEngine(gateway api.MessagingGateway) *Engine {
	return NewEngineWithConfig(Config{
		Persistence: persistence.NewInMemory(),
		Gateway:     gateway,
	})
}

// NewSQLiteEngine persists executions and event history in db. Graph
// definitions remain in memory.
func NewSQLiteEngine(db *sql.DB, gateway api.MessagingGateway) (*Engine, error) {
	execs, err := persistence.NewSQLiteExecutionStore(db)
	if err != nil {
		return nil, err
	}
	events, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Executions: execs,
			Graphs:     persistence.NewInMemoryStore(),
			Events:     events,
		},
		Gateway: gateway,
	}), nil
}

// NewPostgresEngine persists executions in PostgreSQL.
func NewPostgresEngine(db *sql.DB, gateway api.MessagingGateway) (*Engine, error) {
	execs, err := persistence.NewPostgresExecutionStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Executions: execs,
			Graphs:     persistence.NewInMemoryStore(),
		},
		Gateway: gateway,
	}), nil
}

// NewRedisEngine persists executions in Redis under the "chatflow:" prefix.
func NewRedisEngine(client *redis.Client, gateway api.MessagingGateway) *Engine {
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Executions: persistence.NewRedisExecutionStore(client, "chatflow:"),
			Graphs:     persistence.NewInMemoryStore(),
		},
		Gateway: gateway,
	})
}

// NewMongoEngine persists executions in the "chatflow" database.
func NewMongoEngine(client *mongo.Client, gateway api.MessagingGateway) *Engine {
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Executions: persistence.NewMongoExecutionStore(client, "", ""),
			Graphs:     persistence.NewInMemoryStore(),
		},
		Gateway: gateway,
	})
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = handlers.SleepContext
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	engineCfg := cfg.Engine
	if engineCfg == (api.Config{}) {
		engineCfg = api.DefaultConfig()
	}

	if !engineCfg.EnablePersistence {
		logger.Warn("execution_persistence_disabled",
			slog.String("reason", "engine config has enable_persistence=false"),
		)
	}

	execs := cfg.Persistence.Executions
	if execs == nil {
		execs = persistence.NewInMemoryStore()
	}

	evaluator := expr.NewEvaluator(logger)
	reg := cfg.Registry
	if reg == nil {
		reg = handlers.NewDefaultRegistry(handlers.Deps{
			Gateway:   cfg.Gateway,
			Logger:    logger,
			Evaluator: evaluator,
			Sleep:     sleep,
		})
	}

	var observers []api.Observer
	if cfg.Observer != nil {
		observers = append(observers, cfg.Observer)
	}
	if cfg.Persistence.Events != nil {
		observers = append(observers, persistence.NewHistoryObserver(cfg.Persistence.Events, logger))
	}
	obs := api.NewCompositeObserver(observers...)

	return &Engine{
		executions: execs,
		graphs:     newGraphRegistry(cfg.Persistence.Graphs),
		registry:   reg,
		observer:   obs,
		logger:     logger,
		evaluator:  evaluator,
		cfg:        engineCfg.WithDefaults(),
		manager:    NewManager(logger),
		sleep:      sleep,
		now:        now,
		newID:      newID,
	}
}

// NewEngine returns an Engine with default budgets over p.
func NewEngine(p persistence.Persistence, gateway api.MessagingGateway) *Engine {
	return NewEngineWithConfig(Config{
		Persistence: p,
		Gateway:     gateway,
	})
}

// Manager exposes the active-run table.
func (e *Engine) Manager() *Manager { return e.manager }

// Flow returns a registered graph. It wraps api.ErrFlowNotFound.
func (e *Engine) Flow(ctx context.Context, flowID string) (api.GraphDefinition, error) {
	return e.graphs.Get(ctx, flowID)
}

func (e *Engine) RegisterFlow(graph api.GraphDefinition) error {
	return e.graphs.Register(context.Background(), graph)
}

func (e *Engine) ExecuteFlow(ctx context.Context, graph api.GraphDefinition, init api.InitialContext) (*api.FlowExecution, error) {
	if e.closed.Load() {
		return nil, api.ErrEngineShutdown
	}
	start := graph.StartNode()
	if start == nil {
		return nil, &api.GraphError{FlowID: graph.ID, Reason: "no start node"}
	}

	if err := e.graphs.save(ctx, graph); err != nil {
		e.logger.WarnContext(ctx, "graph_store_failed",
			slog.String("flow_id", graph.ID),
			slog.Any("error", err),
		)
	}

	if init.ExecutionID == "" {
		init.ExecutionID = e.newID()
	}
	startedAt := e.now()
	ec := api.NewExecutionContext(graph.ID, init, startedAt)
	exec := &api.FlowExecution{
		ID:        ec.ExecutionID,
		FlowID:    graph.ID,
		Status:    api.StatusRunning,
		Context:   ec,
		StartedAt: startedAt,
	}

	entry, err := e.manager.register(exec, startedAt)
	if err != nil {
		return nil, fmt.Errorf("execution %s: %w", exec.ID, err)
	}

	e.logger.DebugContext(ctx, "execution_started",
		slog.String("execution_id", exec.ID),
		slog.String("flow_id", exec.FlowID),
	)
	e.persist(ctx, exec)

	return e.run(ctx, &graph, entry, exec, start)
}

// run drives exec from node until the run ends, pauses or fails.
func (e *Engine) run(ctx context.Context, graph *api.GraphDefinition, entry *runEntry, exec *api.FlowExecution, node *api.Node) (*api.FlowExecution, error) {
	e.manager.inflight.Add(1)
	defer e.manager.inflight.Done()

	ec := exec.Context
	var last api.Result

	for node != nil {
		if e.manager.isStopped(entry) {
			return e.finalize(ctx, entry, exec, api.StatusStopped, last, nil)
		}
		if err := ctx.Err(); err != nil {
			return e.finalize(ctx, entry, exec, api.StatusError, nil, err)
		}
		if elapsed := e.now().Sub(ec.StartedAt); elapsed > e.cfg.MaxExecutionTime {
			return e.finalize(ctx, entry, exec, api.StatusError, nil, &api.TimeoutError{
				ExecutionID: exec.ID,
				Elapsed:     elapsed,
				Limit:       e.cfg.MaxExecutionTime,
			})
		}
		if len(ec.Steps) >= e.cfg.MaxSteps {
			return e.finalize(ctx, entry, exec, api.StatusError, nil, &api.StepLimitError{
				ExecutionID: exec.ID,
				Limit:       e.cfg.MaxSteps,
			})
		}

		ec.CurrentNodeID = node.ID
		step := api.ExecutionStep{
			NodeID:    node.ID,
			NodeType:  node.Type,
			Status:    api.StepRunning,
			StartedAt: e.now(),
		}
		if e.cfg.DebugMode {
			step.Input = maps.Clone(ec.Variables)
		}
		ec.Steps = append(ec.Steps, step)
		idx := len(ec.Steps) - 1
		e.manager.progress(entry, node.ID, len(ec.Steps))

		e.observer.OnNodeStarted(ctx, e.nodeEvent(exec, node, idx, nil, nil))

		res, err := e.dispatch(ctx, graph, node, ec)
		ec.Resume = nil

		st := &ec.Steps[idx]
		st.FinishedAt = e.now()
		st.Duration = st.FinishedAt.Sub(st.StartedAt)

		if err != nil {
			if reason, ok := api.IsWaitForInputError(err); ok {
				st.Status = api.StepPaused
				st.Output = res
				e.logger.DebugContext(ctx, "execution_paused",
					slog.String("execution_id", exec.ID),
					slog.String("node_id", node.ID),
					slog.String("reason", reason),
				)
				return e.finalize(ctx, entry, exec, api.StatusPaused, nil, nil)
			}

			st.Status = api.StepError
			st.Error = err.Error()
			e.observer.OnNodeError(ctx, e.nodeEvent(exec, node, idx, nil, err))

			if ctx.Err() != nil {
				return e.finalize(ctx, entry, exec, api.StatusError, nil, err)
			}

			handler := graph.ErrorHandlerNode()
			if handler == nil || handler.ID == node.ID {
				return e.finalize(ctx, entry, exec, api.StatusError, nil, err)
			}

			e.logger.WarnContext(ctx, "node_failed_rerouted",
				slog.String("execution_id", exec.ID),
				slog.String("node_id", node.ID),
				slog.String("handler_node_id", handler.ID),
				slog.Any("error", err),
			)
			ec.Set("lastError", err.Error())
			ec.Set("lastErrorNodeId", node.ID)
			node = handler
			continue
		}

		st.Status = api.StepCompleted
		st.Output = res
		e.observer.OnNodeCompleted(ctx, e.nodeEvent(exec, node, idx, res, nil))
		last = res

		next, err := nextNode(e.evaluator, graph, node, res, ec.Variables)
		if err != nil {
			return e.finalize(ctx, entry, exec, api.StatusError, nil, err)
		}
		node = next
	}

	return e.finalize(ctx, entry, exec, api.StatusCompleted, last, nil)
}

// dispatch resolves the handler for node and invokes it through the retry
// executor.
func (e *Engine) dispatch(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	h, ok := e.registry.Get(node.Type)
	if !ok {
		return nil, &api.UnknownNodeTypeError{NodeID: node.ID, Type: node.Type}
	}

	policy := RetryPolicy{
		MaxAttempts: e.cfg.RetryAttempts,
		BaseDelay:   e.cfg.RetryDelay,
	}
	if n, ok := expr.ToNumber(node.Config["retryAttempts"]); ok && n >= 1 {
		policy.MaxAttempts = int(n)
	}

	res, err := ExecuteWithRetry(ctx, policy, e.sleep, func(ctx context.Context, attempt int) (api.Result, error) {
		if attempt > 1 {
			e.logger.DebugContext(ctx, "node_retry",
				slog.String("execution_id", ec.ExecutionID),
				slog.String("node_id", node.ID),
				slog.Int("attempt", attempt),
			)
		}
		return h.Execute(ctx, graph, node, ec)
	})
	if err != nil {
		if _, waiting := api.IsWaitForInputError(err); waiting {
			return res, err
		}
		return nil, &api.HandlerError{NodeID: node.ID, Type: node.Type, Err: err}
	}
	return res, nil
}

// finalize persists and announces the outcome of a run, then updates the
// active-run table. Paused runs stay registered unless they were flagged
// stopped.
func (e *Engine) finalize(ctx context.Context, entry *runEntry, exec *api.FlowExecution, status api.Status, result api.Result, runErr error) (*api.FlowExecution, error) {
	// A stop acknowledged while the last node was in flight wins over the
	// pause or completion that node produced.
	if (status == api.StatusPaused || status == api.StatusCompleted) && e.manager.isStopped(entry) {
		status = api.StatusStopped
	}

	ec := exec.Context
	exec.Status = status
	exec.Steps = ec.Steps
	exec.Error = ""
	exec.FinishedAt = time.Time{}
	if result != nil {
		exec.Result = result
	}
	if runErr != nil {
		exec.Error = runErr.Error()
	}
	if status.Terminal() {
		exec.FinishedAt = e.now()
	}

	e.persist(ctx, exec)

	end := exec.FinishedAt
	if end.IsZero() {
		end = e.now()
	}
	e.observer.OnExecutionCompleted(ctx, api.ExecutionEvent{
		ExecutionID: exec.ID,
		FlowID:      exec.FlowID,
		Status:      status,
		Duration:    end.Sub(ec.StartedAt),
		Steps:       len(ec.Steps),
		Context:     ec,
		Result:      exec.Result,
		Error:       exec.Error,
		At:          end,
	})

	if status == api.StatusPaused {
		e.manager.park(entry, exec)
	} else {
		e.manager.remove(entry)
	}

	lvl := slog.LevelDebug
	if status == api.StatusError {
		lvl = slog.LevelWarn
	}
	e.logger.Log(ctx, lvl, "execution_finished",
		slog.String("execution_id", exec.ID),
		slog.String("flow_id", exec.FlowID),
		slog.String("status", string(status)),
		slog.Int("steps", len(ec.Steps)),
	)
	return exec, runErr
}

// persist writes a snapshot when persistence is enabled. Failures are
// logged and swallowed.
func (e *Engine) persist(ctx context.Context, exec *api.FlowExecution) {
	if !e.cfg.EnablePersistence {
		return
	}
	if err := e.executions.Upsert(context.WithoutCancel(ctx), exec); err != nil {
		e.logger.ErrorContext(ctx, "execution_persist_failed",
			slog.String("execution_id", exec.ID),
			slog.String("status", string(exec.Status)),
			slog.Any("error", err),
		)
	}
}

func (e *Engine) nodeEvent(exec *api.FlowExecution, node *api.Node, idx int, res api.Result, err error) api.NodeEvent {
	st := exec.Context.Steps[idx]
	ev := api.NodeEvent{
		ExecutionID: exec.ID,
		FlowID:      exec.FlowID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		StepIndex:   idx,
		At:          e.now(),
		Output:      res,
		Duration:    st.Duration,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

func (e *Engine) StopExecution(ctx context.Context, executionID string) error {
	entry, ok := e.manager.lookup(executionID)
	if !ok {
		return fmt.Errorf("%w: %s", api.ErrExecutionNotFound, executionID)
	}

	if e.manager.flagStop(entry) {
		e.logger.InfoContext(ctx, "execution_stop_requested",
			slog.String("execution_id", executionID),
		)
		return nil
	}

	exec, ok := e.manager.takePaused(entry)
	if !ok {
		// The run finished or changed state between lookup and stop.
		return fmt.Errorf("%w: %s", api.ErrExecutionNotFound, executionID)
	}
	e.logger.InfoContext(ctx, "paused_execution_stopped",
		slog.String("execution_id", executionID),
	)
	_, err := e.finalize(ctx, entry, exec, api.StatusStopped, nil, nil)
	return err
}

func (e *Engine) GetExecution(ctx context.Context, executionID string) (*api.FlowExecution, error) {
	exec, err := e.executions.Get(ctx, executionID)
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotFound) {
			return nil, fmt.Errorf("%w: %s", api.ErrExecutionNotFound, executionID)
		}
		return nil, err
	}
	return exec, nil
}

func (e *Engine) ListExecutions(ctx context.Context, filter api.ExecutionFilter) ([]*api.FlowExecution, error) {
	return e.executions.List(ctx, filter)
}

func (e *Engine) ActiveExecutions() []api.ActiveExecution {
	return e.manager.Snapshot(e.now())
}

// StartSweeper removes runs that have been running for more than twice
// the time budget, every SweepInterval, until ctx is done.
func (e *Engine) StartSweeper(ctx context.Context) {
	go func() {
		t := time.NewTicker(e.cfg.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				e.Sweep()
			}
		}
	}()
}

// Sweep runs one pass of the stuck-run sweep and returns the swept ids.
func (e *Engine) Sweep() []string {
	return e.manager.Sweep(e.now(), 2*e.cfg.MaxExecutionTime)
}

func (e *Engine) Shutdown(ctx context.Context) error {
	e.closed.Store(true)

	for _, run := range e.manager.Snapshot(e.now()) {
		if err := e.StopExecution(ctx, run.ExecutionID); err != nil {
			e.logger.WarnContext(ctx, "shutdown_stop_failed",
				slog.String("execution_id", run.ExecutionID),
				slog.Any("error", err),
			)
		}
	}

	done := make(chan struct{})
	go func() {
		e.manager.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
