package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertSnapshot(ctx context.Context, db *gorm.DB, snapshot *GatewayAuthSnapshot) error
	FindSnapshotByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*GatewayAuthSnapshot, error)
	// UpdateSnapshotApproval writes approval fields only while approved_at is
	// still empty. It returns ErrSnapshotAlreadyApproved otherwise.
	UpdateSnapshotApproval(ctx context.Context, db *gorm.DB, snapshot *GatewayAuthSnapshot) error

	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindPaymentByOrderID(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Payment, error)
	MarkPaymentCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, refundAmount int64, reason string, at time.Time) (bool, error)

	// InsertWebhookEvent reports false when the same event was already stored.
	InsertWebhookEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
}

// SettlementRecorder feeds completed and refunded purchases to the
// settlement engine.
type SettlementRecorder interface {
	RecordPurchase(ctx context.Context, purchaseID snowflake.ID) error
	RefundPurchase(ctx context.Context, purchaseID snowflake.ID) error
}
