package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/google/uuid"

	"github.com/scribehub/scribe/internal/pkg/messages"
	"github.com/scribehub/scribe/internal/pkg/persistence"
	"github.com/scribehub/scribe/internal/pkg/status"
)

// SubscriptionDB loads subscriptions and records deliveries
type SubscriptionDB interface {
	LoadActiveSubscriptions(ctx context.Context, userID string) ([]persistence.WebhookSubscription, error)
	InsertDelivery(ctx context.Context, d *persistence.WebhookDelivery) error
}

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(ctx context.Context, message any, queue, jobType string) error
}

// Service fans job events out to the user's webhook subscriptions
type Service struct {
	db     SubscriptionDB
	sender MsgSender
}

// NewService creates webhook fan-out service
func NewService(db SubscriptionDB, sender MsgSender) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("no db")
	}
	if sender == nil {
		return nil, fmt.Errorf("no sender")
	}
	return &Service{db: db, sender: sender}, nil
}

type envelope struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	CreatedAt time.Time `json:"createdAt"`
	Data      any       `json:"data"`
}

// Publish creates one pending delivery per matching subscription and
// queues the first attempt for each. No subscriptions is not an error.
func (s *Service) Publish(ctx context.Context, userID, event string, payload any) error {
	subs, err := s.db.LoadActiveSubscriptions(ctx, userID)
	if err != nil {
		return fmt.Errorf("can't load subscriptions: %w", err)
	}
	for _, sub := range subs {
		if !wantsEvent(&sub, event) {
			continue
		}
		id := uuid.NewString()
		body, err := json.Marshal(envelope{ID: id, Event: event, CreatedAt: time.Now().UTC(), Data: payload})
		if err != nil {
			return fmt.Errorf("can't marshal payload: %w", err)
		}
		d := &persistence.WebhookDelivery{ID: id, SubscriptionID: sub.ID, Event: event,
			Payload: string(body), Status: status.DeliveryPending, Created: time.Now()}
		if err := s.db.InsertDelivery(ctx, d); err != nil {
			return fmt.Errorf("can't insert delivery: %w", err)
		}
		msg := &messages.WebhookMessage{}
		msg.ID = id
		if err := s.sender.SendMessage(ctx, msg, messages.Events, messages.JobWebhook); err != nil {
			return fmt.Errorf("can't send message: %w", err)
		}
		goapp.Log.Info().Str("ID", id).Str("event", event).Str("url", sub.URL).Msg("delivery queued")
	}
	return nil
}

// wantsEvent: an empty event list subscribes to everything
func wantsEvent(sub *persistence.WebhookSubscription, event string) bool {
	if len(sub.Events) == 0 {
		return true
	}
	for _, e := range sub.Events {
		if e == event {
			return true
		}
	}
	return false
}
