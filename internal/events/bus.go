// Package events wraps the store's at-least-once event queue with a
// small push-aware API: realtime consumers and the Context Builder's
// events layer both read the same undelivered rows, and whichever side
// renders an event first marks it delivered so the other dedupes by
// event_id rather than double-showing it.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/graphbot-ai/graphbot/internal/store"
	"github.com/graphbot-ai/graphbot/pkg/models"
)

// Pusher delivers an event to a live, connected client for a user; a
// Bus with no Pusher configured simply leaves every event for the
// Context Builder to pick up on the user's next turn.
type Pusher interface {
	Push(ctx context.Context, userID string, event *models.SystemEvent) error
}

// Bus is the Event Bus: a thin layer over the store's event table that
// adds best-effort realtime delivery on top of the Context Builder's
// pull-based consumption.
type Bus struct {
	store  store.Store
	pusher Pusher
}

func New(st store.Store, pusher Pusher) *Bus {
	return &Bus{store: st, pusher: pusher}
}

// Publish enqueues event for userID. Producers never delete their own
// events; only a consumer marks one delivered.
func (b *Bus) Publish(ctx context.Context, userID, kind string, payload map[string]any) (*models.SystemEvent, error) {
	event := &models.SystemEvent{
		EventID:   uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := b.store.EnqueueEvent(ctx, event); err != nil {
		return nil, err
	}
	b.tryPush(ctx, userID, event)
	return event, nil
}

// tryPush attempts a realtime delivery and marks the event delivered on
// success; a push failure (no connected client, transport error) is not
// an error for the caller — the Context Builder will still pick the
// event up on the next turn.
func (b *Bus) tryPush(ctx context.Context, userID string, event *models.SystemEvent) {
	if b.pusher == nil {
		return
	}
	if err := b.pusher.Push(ctx, userID, event); err != nil {
		return
	}
	_ = b.store.MarkEventsDelivered(ctx, []string{event.EventID})
}

// DrainForContext returns userID's undelivered events and marks them
// delivered, for the Context Builder's events layer: rendering the
// event into the prompt counts as delivery, so a duplicate realtime
// push racing with it is deduped by event_id on the consumer side
// rather than by the producer holding a lock.
func (b *Bus) DrainForContext(ctx context.Context, userID string) ([]*models.SystemEvent, error) {
	events, err := b.store.UndeliveredEvents(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return events, nil
	}
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.EventID)
	}
	if err := b.store.MarkEventsDelivered(ctx, ids); err != nil {
		return events, err
	}
	return events, nil
}
