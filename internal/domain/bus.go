package domain

import "context"

// MessageBus routes events between transports and the receiver.
type MessageBus interface {
	Publish(event InboundEvent)
	Subscribe() <-chan InboundEvent
	SendOutbound(ctx context.Context, reply OutboundReply) error
	OnOutbound(channelName string, handler ReplyHandler)
	Close()
}

// ReplyHandler delivers a reply through a transport.
type ReplyHandler func(ctx context.Context, reply OutboundReply) error
