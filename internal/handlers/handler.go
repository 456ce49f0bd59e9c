// Package handlers contains the node handlers executed by the engine and
// the registry that maps node types to them.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"time"

	"github.com/petrijr/chatflow/internal/expr"
	"github.com/petrijr/chatflow/pkg/api"
)

// Handler executes one node type.
//
// A handler may read and write ec's variables. It must not touch ec's
// step history, which belongs to the engine. To suspend the run it
// returns api.NewWaitForInputError.
type Handler interface {
	Type() api.NodeType
	Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error)
}

// Registry maps node types to handlers. It is not safe to Register
// concurrently with Get; build it once at startup.
type Registry struct {
	handlers map[api.NodeType]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[api.NodeType]Handler)}
}

// Register adds a handler keyed by its Type. Registering a type twice
// replaces the previous handler.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Type()] = h
}

// Get returns the handler for t, if any.
func (r *Registry) Get(t api.NodeType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns the registered node types, sorted.
func (r *Registry) Types() []api.NodeType {
	out := make([]api.NodeType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Deps are the collaborators handlers need.
type Deps struct {
	// Gateway delivers messages. Messaging nodes fail without one.
	Gateway api.MessagingGateway

	// HTTPClient is used by apiCall and webhook nodes.
	HTTPClient *http.Client

	Logger    *slog.Logger
	Evaluator *expr.Evaluator

	// Random returns a number in [0, 1). Defaults to math/rand.
	Random func() float64

	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if d.Evaluator == nil {
		d.Evaluator = expr.NewEvaluator(d.Logger)
	}
	if d.Random == nil {
		d.Random = rand.Float64
	}
	if d.Sleep == nil {
		d.Sleep = SleepContext
	}
	return d
}

// SleepContext waits for d, returning early with ctx.Err() if ctx ends.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewDefaultRegistry creates a registry with every built-in handler.
func NewDefaultRegistry(deps Deps) *Registry {
	deps = deps.withDefaults()

	reg := NewRegistry()
	reg.Register(&StartHandler{})
	reg.Register(&EndHandler{Logger: deps.Logger})
	reg.Register(&ErrorNodeHandler{})
	reg.Register(&SendMessageHandler{Gateway: deps.Gateway})
	reg.Register(&SendMediaHandler{Gateway: deps.Gateway})
	reg.Register(&ConditionHandler{})
	reg.Register(&MenuHandler{Gateway: deps.Gateway})
	reg.Register(&DelayHandler{Sleep: deps.Sleep})
	reg.Register(&APICallHandler{Client: deps.HTTPClient})
	reg.Register(&WebhookHandler{Client: deps.HTTPClient})
	reg.Register(&VariableHandler{})
	reg.Register(&LoopHandler{Evaluator: deps.Evaluator})
	reg.Register(&RandomHandler{Random: deps.Random})
	reg.Register(&AssignmentHandler{})
	reg.Register(&ValidationHandler{})
	for _, t := range placeholderTypes {
		reg.Register(&PlaceholderHandler{NodeType: t})
	}
	return reg
}

func configError(node *api.Node, format string, args ...any) error {
	return api.Permanent(fmt.Errorf("node %s: "+format, append([]any{node.ID}, args...)...))
}
