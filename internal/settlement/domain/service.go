package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	RecordPurchase(ctx context.Context, purchaseID snowflake.ID) error
	RefundPurchase(ctx context.Context, purchaseID snowflake.ID) error
	CancelRefund(ctx context.Context, purchaseID snowflake.ID) error
	ApplyFeePolicy(ctx context.Context, settlementID, policyID snowflake.ID) (Settlement, error)
	UpdateBankAccount(ctx context.Context, settlementID snowflake.ID, account BankAccount) (Settlement, error)

	StartProcessing(ctx context.Context, settlementID snowflake.ID) (Settlement, error)
	Complete(ctx context.Context, settlementID snowflake.ID) (Settlement, error)
	Hold(ctx context.Context, settlementID snowflake.ID, reason string) (Settlement, error)
	Resume(ctx context.Context, settlementID snowflake.ID) (Settlement, error)
	Cancel(ctx context.Context, settlementID snowflake.ID, reason string) (Settlement, error)

	Get(ctx context.Context, settlementID snowflake.ID) (Settlement, error)
	GetItem(ctx context.Context, itemID snowflake.ID) (SettlementItem, error)
	ListItems(ctx context.Context, settlementID snowflake.ID) ([]SettlementItem, error)
	// SyncPending backfills items for active purchases that have none and
	// returns how many were recorded.
	SyncPending(ctx context.Context, limit int) (int, error)
}
