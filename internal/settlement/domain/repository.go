package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertSettlement(ctx context.Context, db *gorm.DB, settlement *Settlement) error
	FindSettlementByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Settlement, error)
	FindSettlementForPeriod(ctx context.Context, db *gorm.DB, sellerID snowflake.ID, periodStart time.Time) (*Settlement, error)
	// UpdateSettlement writes the settlement if its version is unchanged and
	// bumps the version. A stale version yields ErrVersionConflict.
	UpdateSettlement(ctx context.Context, db *gorm.DB, settlement *Settlement) error

	InsertItem(ctx context.Context, db *gorm.DB, item *SettlementItem) error
	FindItemByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SettlementItem, error)
	FindItemByPurchaseID(ctx context.Context, db *gorm.DB, purchaseID snowflake.ID) (*SettlementItem, error)
	ListItems(ctx context.Context, db *gorm.DB, settlementID snowflake.ID) ([]SettlementItem, error)
	UpdateItem(ctx context.Context, db *gorm.DB, item *SettlementItem) error

	// ListUnsettledPurchaseIDs returns active purchases without an item, in id
	// order after the given id. Purchases falling in a COMPLETED or CANCELLED
	// settlement period of their seller are left out.
	ListUnsettledPurchaseIDs(ctx context.Context, db *gorm.DB, after snowflake.ID, limit int) ([]snowflake.ID, error)
	// CountClosedPeriodPurchases counts active purchases without an item whose
	// seller's settlement period is already COMPLETED or CANCELLED.
	CountClosedPeriodPurchases(ctx context.Context, db *gorm.DB) (int64, error)
}
