package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/chatflow/pkg/api"
)

var errNoGateway = errors.New("no messaging gateway configured")

// SendMessageHandler delivers an interpolated text message.
//
// Config: message (or text), targetId, quotedMessageId, outputVariable,
// continueOnError.
type SendMessageHandler struct {
	Gateway api.MessagingGateway
}

func (*SendMessageHandler) Type() api.NodeType { return api.NodeSendMessage }

func (h *SendMessageHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	c := configOf(node)
	msg := api.OutboundMessage{
		Body:            Interpolate(c.str("message", "text", "body"), ec.Variables),
		TargetID:        targetOf(c, ec),
		QuotedMessageID: Interpolate(c.str("quotedMessageId"), ec.Variables),
	}
	if msg.Body == "" {
		return nil, configError(node, "message text is empty")
	}

	var (
		receipt api.DeliveryReceipt
		err     = errNoGateway
	)
	if h.Gateway != nil {
		receipt, err = h.Gateway.SendMessage(ctx, msg)
	}
	return deliveryResult(c, ec, receipt, err)
}

// SendMediaHandler delivers a media message with an optional caption.
//
// Config: mediaUrl, mediaType, caption (or message), targetId,
// quotedMessageId, outputVariable, continueOnError.
type SendMediaHandler struct {
	Gateway api.MessagingGateway
}

func (*SendMediaHandler) Type() api.NodeType { return api.NodeSendMedia }

func (h *SendMediaHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	c := configOf(node)
	msg := api.OutboundMedia{
		Body:            Interpolate(c.str("caption", "message", "body"), ec.Variables),
		MediaURL:        Interpolate(c.str("mediaUrl", "url"), ec.Variables),
		MediaType:       c.str("mediaType"),
		TargetID:        targetOf(c, ec),
		QuotedMessageID: Interpolate(c.str("quotedMessageId"), ec.Variables),
	}
	if msg.MediaURL == "" {
		return nil, configError(node, "mediaUrl is empty")
	}
	if msg.MediaType == "" {
		msg.MediaType = "image"
	}

	var (
		receipt api.DeliveryReceipt
		err     = errNoGateway
	)
	if h.Gateway != nil {
		receipt, err = h.Gateway.SendMedia(ctx, msg)
	}
	return deliveryResult(c, ec, receipt, err)
}

func deliveryResult(c cfg, ec *api.ExecutionContext, receipt api.DeliveryReceipt, err error) (api.Result, error) {
	if err != nil {
		if c.boolean("continueOnError") {
			return api.Result{"status": "error", "error": err.Error()}, nil
		}
		return nil, fmt.Errorf("deliver message: %w", err)
	}
	ec.Set("lastMessageId", receipt.ID)
	ec.Set("lastMessageStatus", receipt.Status)
	if out := c.str("outputVariable"); out != "" {
		ec.Set(out, map[string]any{"id": receipt.ID, "status": receipt.Status})
	}
	return api.Result{"messageId": receipt.ID, "status": receipt.Status}, nil
}
