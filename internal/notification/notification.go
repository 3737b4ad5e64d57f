// Package notification fans out payment events to buyers and sellers.
// Delivery is fire-and-forget: failures are logged and never returned to the
// monetary code paths that trigger them.
package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const Channel = "contentmarket:notifications"

type EventType string

const (
	EventPaymentCompleted EventType = "PAYMENT_COMPLETED"
	EventPaymentFailed    EventType = "PAYMENT_FAILED"
	EventPaymentCancelled EventType = "PAYMENT_CANCELLED"
	EventNewSale          EventType = "NEW_SALE"
	EventSaleCancelled    EventType = "SALE_CANCELLED"
	EventBillingKeyIssued EventType = "BILLING_KEY_ISSUED"
)

type Notification struct {
	UserID    snowflake.ID   `json:"user_id"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, userID snowflake.ID, eventType EventType, payload map[string]any)
}

var Module = fx.Module("notification",
	fx.Provide(NewDispatcher),
)

type Params struct {
	fx.In

	Client *redis.Client `optional:"true"`
	Log    *zap.Logger
}

type dispatcher struct {
	client *redis.Client
	log    *zap.Logger
}

// NewDispatcher publishes to redis when available and only logs otherwise.
func NewDispatcher(p Params) Dispatcher {
	return &dispatcher{client: p.Client, log: p.Log.Named("notification")}
}

func (d *dispatcher) Dispatch(ctx context.Context, userID snowflake.ID, eventType EventType, payload map[string]any) {
	if userID == 0 {
		return
	}
	msg := Notification{
		UserID:    userID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	if d.client == nil {
		d.log.Info("notification",
			zap.String("user_id", userID.String()),
			zap.String("type", string(eventType)),
			zap.Any("payload", payload),
		)
		return
	}

	body, err := json.Marshal(msg)
	if err != nil {
		d.log.Warn("failed to encode notification", zap.String("type", string(eventType)), zap.Error(err))
		return
	}
	if err := d.client.Publish(ctx, Channel, body).Err(); err != nil {
		d.log.Warn("failed to publish notification",
			zap.String("user_id", userID.String()),
			zap.String("type", string(eventType)),
			zap.Error(err),
		)
	}
}
