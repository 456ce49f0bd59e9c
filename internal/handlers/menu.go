package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/petrijr/chatflow/internal/expr"
	"github.com/petrijr/chatflow/pkg/api"
)

// MenuHandler sends a numbered list of options.
//
// Config: message (or title), options [{text, value}], footer, targetId,
// waitForResponse, invalidMessage.
//
// Without waitForResponse the handler returns right after sending. With
// it, the run is paused; when it resumes at this node the reply is
// matched to an option by number or text and returned as {choice: text}.
type MenuHandler struct {
	Gateway api.MessagingGateway
}

func (*MenuHandler) Type() api.NodeType { return api.NodeMenu }

type menuOption struct {
	Text  string
	Value any
}

func (h *MenuHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	c := configOf(node)
	options := menuOptions(c)
	if len(options) == 0 {
		return nil, configError(node, "menu has no options")
	}

	if ec.ResumingAt(node.ID) {
		reply := expr.Stringify(replyText(ec.Resume.Data))
		if idx := matchOption(options, reply); idx >= 0 {
			ec.Set("menuChoice", options[idx].Text)
			res := api.Result{"choice": options[idx].Text, "optionIndex": idx + 1, "reply": reply}
			if options[idx].Value != nil {
				res["value"] = options[idx].Value
			}
			return res, nil
		}
		if invalid := c.str("invalidMessage"); invalid != "" {
			if _, err := h.send(ctx, c, ec, Interpolate(invalid, ec.Variables)); err != nil {
				return nil, err
			}
			return nil, api.NewWaitForInputError("menu " + node.ID + ": invalid reply")
		}
		return api.Result{"choice": nil, "invalid": true, "reply": reply}, nil
	}

	body := composeMenu(Interpolate(c.str("message", "title", "text"), ec.Variables), options, Interpolate(c.str("footer"), ec.Variables))
	receipt, err := h.send(ctx, c, ec, body)
	if err != nil {
		return nil, err
	}

	if c.boolean("waitForResponse") {
		return nil, api.NewWaitForInputError("menu " + node.ID)
	}
	return api.Result{"messageId": receipt.ID, "status": receipt.Status, "options": len(options)}, nil
}

func (h *MenuHandler) send(ctx context.Context, c cfg, ec *api.ExecutionContext, body string) (api.DeliveryReceipt, error) {
	if h.Gateway == nil {
		return api.DeliveryReceipt{}, errNoGateway
	}
	receipt, err := h.Gateway.SendMessage(ctx, api.OutboundMessage{Body: body, TargetID: targetOf(c, ec)})
	if err != nil {
		return receipt, fmt.Errorf("deliver menu: %w", err)
	}
	ec.Set("lastMessageId", receipt.ID)
	ec.Set("lastMessageStatus", receipt.Status)
	return receipt, nil
}

func menuOptions(c cfg) []menuOption {
	var out []menuOption
	for _, raw := range c.list("options") {
		switch o := raw.(type) {
		case string:
			out = append(out, menuOption{Text: o})
		default:
			m := asMap(o)
			if m == nil {
				continue
			}
			text := expr.Stringify(m["text"])
			if text == "" {
				text = expr.Stringify(m["label"])
			}
			if text == "" {
				continue
			}
			out = append(out, menuOption{Text: text, Value: m["value"]})
		}
	}
	return out
}

func composeMenu(title string, options []menuOption, footer string) string {
	var sb strings.Builder
	if title != "" {
		sb.WriteString(title)
		sb.WriteString("\n\n")
	}
	for i, o := range options {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, o.Text)
	}
	if footer != "" {
		sb.WriteString("\n\n")
		sb.WriteString(footer)
	}
	return sb.String()
}

// replyText extracts the user's text from a resume payload.
func replyText(data any) any {
	if m := asMap(data); m != nil {
		for _, k := range []string{"text", "body", "message", "input", "value"} {
			if v, ok := m[k]; ok {
				return v
			}
		}
	}
	return data
}

// matchOption returns the index of the option selected by reply, or -1.
func matchOption(options []menuOption, reply string) int {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return -1
	}
	if n, err := strconv.Atoi(reply); err == nil && n >= 1 && n <= len(options) {
		return n - 1
	}
	for i, o := range options {
		if o.Text == reply || (o.Value != nil && expr.Stringify(o.Value) == reply) {
			return i
		}
	}
	for i, o := range options {
		if strings.EqualFold(o.Text, reply) {
			return i
		}
	}
	return -1
}
