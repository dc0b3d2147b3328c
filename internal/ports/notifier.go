package ports

import (
	"context"

	"cryptoSignalBot/internal/domain"
)

// Notifier delivers an outbound event to one sink (chat bot, event stream).
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// EventPublisher accepts notifications without blocking. Delivery is best effort.
type EventPublisher interface {
	Publish(n domain.Notification)
}
