package notify

import (
	"context"
	"fmt"
)

// Action tells the delivery channel why a notification fires.
type Action string

const (
	// ActionFire is a reminder firing at its scheduled instant.
	ActionFire Action = "fire"
	// ActionOverdue is a catch-up for an occurrence that passed while
	// nothing could fire, delivered on the next reconciliation.
	ActionOverdue Action = "overdue"
)

// Payload carries everything a channel needs to render a notification.
type Payload struct {
	ReminderID int64
	UserID     int64
	Title      string
	Category   string
	AudioRef   string
	Action     Action
}

// Delivery sends a notification through some host channel. Implementations
// must be safe for concurrent use.
type Delivery interface {
	Deliver(ctx context.Context, p Payload) error
}

// DeliveryFunc adapts a plain function to the Delivery interface.
type DeliveryFunc func(ctx context.Context, p Payload) error

func (f DeliveryFunc) Deliver(ctx context.Context, p Payload) error { return f(ctx, p) }

// FormatMessage renders a payload as the HTML message body used by chat
// channels.
func FormatMessage(p Payload) string {
	header := "🔔 <b>Reminder</b>"
	if p.Action == ActionOverdue {
		header = "⏰ <b>Missed reminder</b>"
	}
	text := fmt.Sprintf("%s\n\n%s", header, p.Title)
	if p.Category != "" {
		text += fmt.Sprintf("\n<i>%s</i>", p.Category)
	}
	return text
}
