package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("purchase_not_found")

// Purchase is the buyer's entitlement for a paid order. It snapshots the
// price, option and seller as they were at payment time.
type Purchase struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrderID        snowflake.ID `gorm:"not null;uniqueIndex" json:"order_id"`
	PaymentID      snowflake.ID `gorm:"not null;index" json:"payment_id"`
	MerchantUID    string       `gorm:"type:varchar(64);not null" json:"merchant_uid"`
	BuyerID        snowflake.ID `gorm:"not null;index" json:"buyer_id"`
	SellerID       snowflake.ID `gorm:"not null;index" json:"seller_id"`
	ContentID      snowflake.ID `gorm:"not null" json:"content_id"`
	OptionID       snowflake.ID `gorm:"not null" json:"option_id"`
	ContentTitle   string       `gorm:"not null" json:"content_title"`
	OptionName     string       `json:"option_name"`
	ContentType    string       `gorm:"type:varchar(16);not null" json:"content_type"`
	OriginalPrice  int64        `gorm:"not null" json:"original_price"`
	DiscountAmount int64        `gorm:"not null;default:0" json:"discount_amount"`
	Price          int64        `gorm:"not null" json:"price"`
	PurchasedAt    time.Time    `gorm:"not null" json:"purchased_at"`
	CancelledAt    *time.Time   `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (Purchase) TableName() string { return "purchases" }

func (p *Purchase) Cancelled() bool {
	return p.CancelledAt != nil
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, purchase *Purchase) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Purchase, error)
	FindByOrderID(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Purchase, error)
	// MarkCancelled sets cancelled_at once; it reports whether a row changed.
	MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
}
