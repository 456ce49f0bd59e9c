package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/chatflow/pkg/api"
)

type fakeGateway struct {
	mu       sync.Mutex
	messages []api.OutboundMessage
	media    []api.OutboundMedia
	err      error
}

func (g *fakeGateway) SendMessage(ctx context.Context, msg api.OutboundMessage) (api.DeliveryReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return api.DeliveryReceipt{}, g.err
	}
	g.messages = append(g.messages, msg)
	return api.DeliveryReceipt{ID: "msg-1", Status: "sent"}, nil
}

func (g *fakeGateway) SendMedia(ctx context.Context, msg api.OutboundMedia) (api.DeliveryReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return api.DeliveryReceipt{}, g.err
	}
	g.media = append(g.media, msg)
	return api.DeliveryReceipt{ID: "media-1", Status: "sent"}, nil
}

func newContext(vars map[string]any) *api.ExecutionContext {
	return api.NewExecutionContext("flow-1", api.InitialContext{
		ExecutionID:    "exec-1",
		ConversationID: "conv-1",
		Variables:      vars,
	}, time.Now())
}

func run(t *testing.T, h Handler, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	t.Helper()
	graph := &api.GraphDefinition{ID: "flow-1", Nodes: []api.Node{*node}}
	return h.Execute(context.Background(), graph, node, ec)
}

func TestDefaultRegistryCoversEveryNodeType(t *testing.T) {
	reg := NewDefaultRegistry(Deps{})

	for _, nt := range []api.NodeType{
		api.NodeStart, api.NodeEnd, api.NodeError, api.NodeSendMessage, api.NodeSendMedia,
		api.NodeCondition, api.NodeMenu, api.NodeDelay, api.NodeAPICall, api.NodeWebhook,
		api.NodeVariable, api.NodeLoop, api.NodeRandom, api.NodeAssignment, api.NodeValidation,
		api.NodeDatabase, api.NodeTag, api.NodeQueue, api.NodeHumanHandoff, api.NodeAnalytics,
		api.NodeIntegration,
	} {
		h, ok := reg.Get(nt)
		require.True(t, ok, "missing handler for %s", nt)
		require.Equal(t, nt, h.Type())
	}

	_, ok := reg.Get("teleport")
	require.False(t, ok)
	require.Len(t, reg.Types(), 21)
}

func TestStartSeedsVariables(t *testing.T) {
	ec := newContext(map[string]any{"name": "Ana"})
	node := &api.Node{ID: "s", Type: api.NodeStart, Config: map[string]any{
		"variables": map[string]any{"greeting": "hi {{name}}"},
		"initialVariables": []any{
			map[string]any{"name": "count", "value": 0},
			map[string]any{"value": "ignored"},
		},
	}}

	res, err := run(t, &StartHandler{}, node, ec)
	require.NoError(t, err)
	require.Equal(t, 2, res["seeded"])
	require.Equal(t, "hi Ana", ec.Variables["greeting"])
	require.Equal(t, 0, ec.Variables["count"])
}

func TestEndReturnsVariableSnapshot(t *testing.T) {
	ec := newContext(map[string]any{"a": 1})
	res, err := run(t, &EndHandler{}, &api.Node{ID: "e", Type: api.NodeEnd, Config: map[string]any{"message": "bye"}}, ec)
	require.NoError(t, err)
	require.Equal(t, "completed", res["status"])
	require.Equal(t, "bye", res["message"])

	ec.Set("a", 2)
	require.Equal(t, 1, res["variables"].(map[string]any)["a"])
}

func TestErrorNodeReportsAbsorbedFailure(t *testing.T) {
	ec := newContext(map[string]any{"lastError": "boom", "lastErrorNodeId": "n2"})
	res, err := run(t, &ErrorNodeHandler{}, &api.Node{ID: "err", Type: api.NodeError}, ec)
	require.NoError(t, err)
	require.Equal(t, true, res["handled"])
	require.Equal(t, "boom", res["error"])
	require.Equal(t, "n2", res["failedNodeId"])
}

func TestSendMessageInterpolatesAndRecordsReceipt(t *testing.T) {
	gw := &fakeGateway{}
	ec := newContext(map[string]any{"user": map[string]any{"name": "Ana"}})
	node := &api.Node{ID: "m", Type: api.NodeSendMessage, Config: map[string]any{
		"message":        "Hello {{user.name}}, {{missing}}",
		"outputVariable": "delivery",
	}}

	res, err := run(t, &SendMessageHandler{Gateway: gw}, node, ec)
	require.NoError(t, err)
	require.Equal(t, "msg-1", res["messageId"])
	require.Len(t, gw.messages, 1)
	require.Equal(t, "Hello Ana, {{missing}}", gw.messages[0].Body)
	require.Equal(t, "conv-1", gw.messages[0].TargetID)
	require.Equal(t, "msg-1", ec.Variables["lastMessageId"])
	require.Equal(t, map[string]any{"id": "msg-1", "status": "sent"}, ec.Variables["delivery"])
}

func TestSendMessageFailures(t *testing.T) {
	node := &api.Node{ID: "m", Type: api.NodeSendMessage, Config: map[string]any{"message": "x"}}

	_, err := run(t, &SendMessageHandler{}, node, newContext(nil))
	require.ErrorIs(t, err, errNoGateway)

	gw := &fakeGateway{err: errors.New("offline")}
	_, err = run(t, &SendMessageHandler{Gateway: gw}, node, newContext(nil))
	require.ErrorContains(t, err, "offline")

	node.Config["continueOnError"] = true
	res, err := run(t, &SendMessageHandler{Gateway: gw}, node, newContext(nil))
	require.NoError(t, err)
	require.Equal(t, "error", res["status"])

	empty := &api.Node{ID: "m", Type: api.NodeSendMessage}
	_, err = run(t, &SendMessageHandler{Gateway: &fakeGateway{}}, empty, newContext(nil))
	require.True(t, api.IsPermanent(err))
}

func TestSendMediaDefaultsToImage(t *testing.T) {
	gw := &fakeGateway{}
	node := &api.Node{ID: "md", Type: api.NodeSendMedia, Config: map[string]any{
		"mediaUrl": "https://cdn.example.com/{{file}}",
		"caption":  "look",
		"targetId": "contact-9",
	}}
	_, err := run(t, &SendMediaHandler{Gateway: gw}, node, newContext(map[string]any{"file": "a.png"}))
	require.NoError(t, err)
	require.Len(t, gw.media, 1)
	require.Equal(t, "https://cdn.example.com/a.png", gw.media[0].MediaURL)
	require.Equal(t, "image", gw.media[0].MediaType)
	require.Equal(t, "contact-9", gw.media[0].TargetID)
}

func TestDelayUsesInjectedSleep(t *testing.T) {
	var slept time.Duration
	h := &DelayHandler{Sleep: func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}}
	res, err := run(t, h, &api.Node{ID: "d", Type: api.NodeDelay, Config: map[string]any{"duration": 2, "unit": "minutes"}}, newContext(nil))
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, slept)
	require.Equal(t, int64(120000), res["delayedMs"])

	require.Equal(t, 1500*time.Millisecond, DelayDuration(1.5, ""))
	require.Equal(t, time.Duration(0), DelayDuration(-3, "ms"))
}

func TestSleepContextHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	require.NoError(t, SleepContext(context.Background(), 0))
}

func TestVariableOperations(t *testing.T) {
	ec := newContext(map[string]any{"n": 1, "s": "ab"})
	h := &VariableHandler{}
	exec := func(cfg map[string]any) (api.Result, error) {
		return run(t, h, &api.Node{ID: "v", Type: api.NodeVariable, Config: cfg}, ec)
	}

	_, err := exec(map[string]any{"name": "n", "operation": "increment", "value": 4})
	require.NoError(t, err)
	require.Equal(t, 5.0, ec.Variables["n"])

	_, err = exec(map[string]any{"name": "n", "operation": "decrement"})
	require.NoError(t, err)
	require.Equal(t, 4.0, ec.Variables["n"])

	_, err = exec(map[string]any{"name": "fresh", "operation": "increment"})
	require.NoError(t, err)
	require.Equal(t, 1.0, ec.Variables["fresh"])

	_, err = exec(map[string]any{"name": "s", "operation": "append", "value": "c"})
	require.NoError(t, err)
	require.Equal(t, "abc", ec.Variables["s"])

	_, err = exec(map[string]any{"name": "s", "operation": "delete"})
	require.NoError(t, err)
	require.NotContains(t, ec.Variables, "s")

	_, err = exec(map[string]any{"name": "x", "value": "{{n}}"})
	require.NoError(t, err)
	require.Equal(t, "4", ec.Variables["x"])

	_, err = exec(map[string]any{"name": "x", "operation": "explode"})
	require.True(t, api.IsPermanent(err))
}

func TestLoopSeedsBookkeeping(t *testing.T) {
	ec := newContext(map[string]any{"items": []any{"a", "b", "c"}, "retry": true})
	h := &LoopHandler{}

	res, err := run(t, h, &api.Node{ID: "l", Type: api.NodeLoop, Config: map[string]any{"loopType": "array", "arrayVariable": "items", "variableName": "i"}}, ec)
	require.NoError(t, err)
	require.Equal(t, 3, res["iterations"])
	require.Equal(t, 0, ec.Variables["i"])
	require.Equal(t, 3, ec.Variables["iTotal"])
	require.Equal(t, "array", ec.Variables["iType"])
	require.Equal(t, "a", ec.Variables["iItem"])

	res, err = run(t, h, &api.Node{ID: "l", Type: api.NodeLoop, Config: map[string]any{"loopType": "conditional", "condition": "retry == true"}}, ec)
	require.NoError(t, err)
	require.Equal(t, 1, res["iterations"])
	require.Equal(t, 1, ec.Variables["loopTotal"])

	res, err = run(t, h, &api.Node{ID: "l", Type: api.NodeLoop, Config: map[string]any{"count": 4}}, ec)
	require.NoError(t, err)
	require.Equal(t, 4, res["iterations"])

	_, err = run(t, h, &api.Node{ID: "l", Type: api.NodeLoop, Config: map[string]any{"loopType": "forever"}}, ec)
	var lt *api.UnknownLoopTypeError
	require.ErrorAs(t, err, &lt)
	require.True(t, api.IsPermanent(err))
}

func TestRandomSelection(t *testing.T) {
	node := &api.Node{ID: "r", Type: api.NodeRandom, Config: map[string]any{
		"options": []any{"a", "b", "c", "d"},
	}}
	ec := newContext(nil)
	res, err := run(t, &RandomHandler{Random: func() float64 { return 0.6 }}, node, ec)
	require.NoError(t, err)
	require.Equal(t, "c", res["choice"])
	require.Equal(t, 2, res["index"])
	require.Equal(t, "c", ec.Variables["randomChoice"])

	res, err = run(t, &RandomHandler{Random: func() float64 { return 0.9999999 }}, node, ec)
	require.NoError(t, err)
	require.Equal(t, "d", res["choice"])

	weighted := &api.Node{ID: "r", Type: api.NodeRandom, Config: map[string]any{
		"weighted": true,
		"variable": "bucket",
		"options": []any{
			map[string]any{"value": "rare", "weight": 1},
			map[string]any{"value": "never", "weight": 0},
			map[string]any{"value": "common", "weight": 9},
		},
	}}
	res, err = run(t, &RandomHandler{Random: func() float64 { return 0.05 }}, weighted, ec)
	require.NoError(t, err)
	require.Equal(t, "rare", res["choice"])

	res, err = run(t, &RandomHandler{Random: func() float64 { return 0.5 }}, weighted, ec)
	require.NoError(t, err)
	require.Equal(t, "common", res["choice"])
	require.Equal(t, "common", ec.Variables["bucket"])
}

func TestPickWeightedNeverSelectsZeroWeight(t *testing.T) {
	weights := []float64{0, 2, 0, 1}
	for r := 0.0; r < 1; r += 0.01 {
		idx := pickWeighted(weights, r)
		require.NotEqual(t, 0, idx)
		require.NotEqual(t, 2, idx)
	}
	require.Equal(t, 0, pickWeighted([]float64{0, 0}, 0.5))
}

func TestAssignment(t *testing.T) {
	ec := newContext(map[string]any{"first": "  ana  ", "age": "41", "raw": `{"k":1}`})
	node := &api.Node{ID: "as", Type: api.NodeAssignment, Config: map[string]any{
		"assignments": []any{
			map[string]any{"target": "name", "source": "first", "transform": "trim"},
			map[string]any{"target": "shout", "source": "name", "transform": "upper"},
			map[string]any{"target": "years", "source": "age", "transform": "number"},
			map[string]any{"target": "nextAge", "expression": "years + 1"},
			map[string]any{"target": "obj", "source": "raw", "transform": "json"},
			map[string]any{"target": "label", "value": "hi {{shout}}"},
		},
	}}
	res, err := run(t, &AssignmentHandler{}, node, ec)
	require.NoError(t, err)
	require.Equal(t, "ana", ec.Variables["name"])
	require.Equal(t, "ANA", ec.Variables["shout"])
	require.Equal(t, 41.0, ec.Variables["years"])
	require.Equal(t, 42.0, ec.Variables["nextAge"])
	require.Equal(t, "hi ANA", ec.Variables["label"])
	require.Equal(t, map[string]any{"k": float64(1)}, ec.Variables["obj"])
	require.Len(t, res["assigned"], 6)

	bad := &api.Node{ID: "as", Type: api.NodeAssignment, Config: map[string]any{"target": "x", "value": 1, "transform": "rot13"}}
	_, err = run(t, &AssignmentHandler{}, bad, ec)
	require.True(t, api.IsPermanent(err))
}

func TestValidation(t *testing.T) {
	ec := newContext(map[string]any{"email": "ana@example", "phone": "+55 11 99999-0000", "name": "Al"})
	rules := []any{
		map[string]any{"variable": "name", "type": "required"},
		map[string]any{"variable": "email", "type": "email", "message": "bad email"},
		map[string]any{"variable": "phone", "type": "phone"},
		map[string]any{"variable": "name", "type": "minLength", "value": 3},
		map[string]any{"variable": "name", "type": "regex", "value": "^[A-Z]"},
	}
	node := &api.Node{ID: "val", Type: api.NodeValidation, Config: map[string]any{"rules": rules}}

	res, err := run(t, &ValidationHandler{}, node, ec)
	require.NoError(t, err)
	require.Equal(t, false, res["valid"])
	require.Len(t, res["errors"], 2)
	require.Equal(t, "bad email", res["errors"].([]any)[0])
	require.Equal(t, false, ec.Variables["validationResult"].(map[string]any)["valid"])

	node.Config["stopOnFirstError"] = true
	res, err = run(t, &ValidationHandler{}, node, ec)
	require.NoError(t, err)
	require.Len(t, res["errors"], 1)

	node.Config["failOnError"] = true
	_, err = run(t, &ValidationHandler{}, node, ec)
	require.ErrorContains(t, err, "bad email")
	require.False(t, api.IsPermanent(err))

	unknown := &api.Node{ID: "val", Type: api.NodeValidation, Config: map[string]any{
		"rules": []any{map[string]any{"variable": "name", "type": "cpf"}},
	}}
	_, err = run(t, &ValidationHandler{}, unknown, ec)
	require.True(t, api.IsPermanent(err))
}

func TestPlaceholderPassesThrough(t *testing.T) {
	h := &PlaceholderHandler{NodeType: api.NodeTag}
	res, err := run(t, h, &api.Node{ID: "t", Type: api.NodeTag}, newContext(nil))
	require.NoError(t, err)
	require.Equal(t, "not_implemented", res["status"])
	require.Equal(t, "tag", res["nodeType"])
}
