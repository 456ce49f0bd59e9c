package api

import "context"

// OutboundMessage is a text message to deliver to a conversation.
type OutboundMessage struct {
	Body            string `json:"body"`
	TargetID        string `json:"targetId"`
	QuotedMessageID string `json:"quotedMessageId,omitempty"`
}

// OutboundMedia is a media message to deliver to a conversation.
type OutboundMedia struct {
	Body            string `json:"body,omitempty"`
	MediaURL        string `json:"mediaUrl"`
	MediaType       string `json:"mediaType"`
	TargetID        string `json:"targetId"`
	QuotedMessageID string `json:"quotedMessageId,omitempty"`
}

// DeliveryReceipt is what the gateway reports for a delivered message.
type DeliveryReceipt struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// MessagingGateway delivers messages to the underlying chat channel. Which
// channel or provider is used is entirely up to the implementation.
type MessagingGateway interface {
	SendMessage(ctx context.Context, msg OutboundMessage) (DeliveryReceipt, error)
	SendMedia(ctx context.Context, msg OutboundMedia) (DeliveryReceipt, error)
}
