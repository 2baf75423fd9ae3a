package domain

import "context"

// Channel is the interface for a messaging transport (Telegram, CLI, Webhook).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
