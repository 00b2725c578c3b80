package autorecharge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/relaycrm-backend/pkg/enums"
)

const (
	EventRechargeCharged = "credits.recharge.charged"
	EventRechargeFailed  = "credits.recharge.failed"

	defaultPublishTimeout = 10 * time.Second
)

// RechargeEvent is published for every charge attempt so the notification
// dispatcher can email receipts and failure notices.
type RechargeEvent struct {
	Version     int                   `json:"version"`
	EventID     string                `json:"eventId"`
	EventType   string                `json:"eventType"`
	OccurredAt  time.Time             `json:"occurredAt"`
	TenantID    uuid.UUID             `json:"tenantId"`
	Source      enums.RechargeSource  `json:"source"`
	Outcome     enums.RechargeOutcome `json:"outcome"`
	Credits     int64                 `json:"credits"`
	AmountCents int64                 `json:"amountCents"`
	ChargeID    string                `json:"chargeId,omitempty"`
	Balance     int64                 `json:"balance"`
	Error       string                `json:"error,omitempty"`
}

// EventPublisher delivers recharge events. Failures are logged by the caller and
// never change the evaluation outcome.
type EventPublisher interface {
	PublishRecharge(ctx context.Context, event RechargeEvent) error
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// PubSubPublisher publishes recharge events to a Pub/Sub topic.
type PubSubPublisher struct {
	pub publisher
}

func NewPubSubPublisher(p *gcppubsub.Publisher) (*PubSubPublisher, error) {
	if p == nil {
		return nil, errors.New("pubsub publisher required")
	}
	return &PubSubPublisher{pub: &gcpPublisher{Publisher: p}}, nil
}

func (p *PubSubPublisher) PublishRecharge(ctx context.Context, event RechargeEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Version == 0 {
		event.Version = 1
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal recharge event: %w", err)
	}
	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_id":    event.EventID,
			"event_type":  event.EventType,
			"tenant_id":   event.TenantID.String(),
			"outcome":     string(event.Outcome),
			"occurred_at": event.OccurredAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := p.pub.Publish(publishCtx, msg)
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish recharge event: %w", err)
	}
	return nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}
