package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
	"github.com/angelmondragon/forestcarbon-backend/pkg/logger"
)

// Notification is published whenever a tracked entity changes state.
type Notification struct {
	Type        enums.NotificationType `json:"type"`
	EntityType  string                 `json:"entity_type"`
	EntityID    uuid.UUID              `json:"entity_id"`
	RecipientID *uuid.UUID             `json:"recipient_id,omitempty"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Data        map[string]any         `json:"data,omitempty"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

// Dispatcher delivers a notification to its transport.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Notifier sends notifications without propagating delivery failures.
type Notifier struct {
	dispatcher Dispatcher
	logg       *logger.Logger
	now        func() time.Time
}

func NewNotifier(dispatcher Dispatcher, logg *logger.Logger) *Notifier {
	return &Notifier{dispatcher: dispatcher, logg: logg, now: time.Now}
}

// Notify dispatches n and logs any failure.
func (n *Notifier) Notify(ctx context.Context, note Notification) {
	if n == nil || n.dispatcher == nil {
		return
	}
	if note.OccurredAt.IsZero() {
		note.OccurredAt = n.now().UTC()
	}
	if err := n.dispatcher.Dispatch(ctx, note); err != nil && n.logg != nil {
		ctx = n.logg.WithFields(ctx, map[string]any{
			"notification_type": string(note.Type),
			"entity_type":       note.EntityType,
			"entity_id":         note.EntityID.String(),
		})
		n.logg.Warn(ctx, "notification dispatch failed: "+err.Error())
	}
}
