package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/petrijr/chatflow/pkg/api"
)

// DelayHandler waits for a configured duration.
//
// Config: duration (or delay), unit: milliseconds | seconds | minutes |
// hours (default seconds).
type DelayHandler struct {
	Sleep func(ctx context.Context, d time.Duration) error
}

func (*DelayHandler) Type() api.NodeType { return api.NodeDelay }

func (h *DelayHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	c := configOf(node)
	amount, ok := c.number("duration")
	if !ok {
		amount, _ = c.number("delay")
	}
	d := DelayDuration(amount, c.str("unit"))

	sleep := h.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	if err := sleep(ctx, d); err != nil {
		return nil, err
	}
	return api.Result{"delayedMs": d.Milliseconds()}, nil
}

// DelayDuration converts an amount in the given unit to a duration.
// Negative amounts are treated as zero.
func DelayDuration(amount float64, unit string) time.Duration {
	if amount <= 0 {
		return 0
	}
	var base time.Duration
	switch strings.ToLower(unit) {
	case "ms", "millisecond", "milliseconds":
		base = time.Millisecond
	case "m", "min", "minute", "minutes":
		base = time.Minute
	case "h", "hour", "hours":
		base = time.Hour
	default:
		base = time.Second
	}
	return time.Duration(amount * float64(base))
}
