package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	feepolicydomain "github.com/smallbiznis/contentmarket/internal/feepolicy/domain"
	"github.com/smallbiznis/contentmarket/pkg/money"
	"gorm.io/datatypes"
)

// SettlementItem is the fee breakdown of one purchase. Every amount is a
// whole currency unit rounded half up. Applied fees are what the seller is
// charged; display fees are what the seller is shown as the normal price and
// baseline fees are what would apply without any promotion.
type SettlementItem struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	SettlementID snowflake.ID `gorm:"not null;index" json:"settlement_id"`
	PurchaseID   snowflake.ID `gorm:"not null;uniqueIndex" json:"purchase_id"`
	OrderID      snowflake.ID `gorm:"not null" json:"order_id"`
	SellerID     snowflake.ID `gorm:"not null;index" json:"seller_id"`
	BuyerID      snowflake.ID `gorm:"not null" json:"buyer_id"`
	ContentTitle string       `json:"content_title"`
	PurchasedAt  time.Time    `gorm:"not null" json:"purchased_at"`

	SalesAmount int64 `gorm:"not null" json:"sales_amount"`

	PlatformFee         int64 `gorm:"not null" json:"platform_fee"`
	PlatformFeeDisplay  int64 `gorm:"not null" json:"platform_fee_display"`
	PlatformFeeBaseline int64 `gorm:"not null" json:"platform_fee_baseline"`
	PlatformFeeForgone  int64 `gorm:"not null" json:"platform_fee_forgone"`

	GatewayFee         int64 `gorm:"not null" json:"gateway_fee"`
	GatewayFeeDisplay  int64 `gorm:"not null" json:"gateway_fee_display"`
	GatewayFeeBaseline int64 `gorm:"not null" json:"gateway_fee_baseline"`
	GatewayFeeForgone  int64 `gorm:"not null" json:"gateway_fee_forgone"`

	FeeVat                   int64 `gorm:"not null" json:"fee_vat"`
	FeeVatDisplay            int64 `gorm:"not null" json:"fee_vat_display"`
	GatewayFeeRefundExpected int64 `gorm:"not null" json:"gateway_fee_refund_expected"`

	TotalFee                int64 `gorm:"not null" json:"total_fee"`
	TotalFeeDisplay         int64 `gorm:"not null" json:"total_fee_display"`
	SettlementAmount        int64 `gorm:"not null" json:"settlement_amount"`
	SettlementAmountDisplay int64 `gorm:"not null" json:"settlement_amount_display"`

	FeePolicy datatypes.JSONType[feepolicydomain.Snapshot] `json:"fee_policy"`

	IsRefunded bool       `gorm:"not null;default:false" json:"is_refunded"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`

	Version   int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (SettlementItem) TableName() string { return "settlement_items" }

// ItemSource is the purchase data an item is built from.
type ItemSource struct {
	PurchaseID   snowflake.ID
	OrderID      snowflake.ID
	SellerID     snowflake.ID
	BuyerID      snowflake.ID
	ContentTitle string
	Price        int64
	PurchasedAt  time.Time
}

// NewItem builds the fee breakdown for one purchase against a frozen policy.
func NewItem(id, settlementID snowflake.ID, src ItemSource, policy feepolicydomain.Snapshot, at time.Time) SettlementItem {
	item := SettlementItem{
		ID:           id,
		SettlementID: settlementID,
		PurchaseID:   src.PurchaseID,
		OrderID:      src.OrderID,
		SellerID:     src.SellerID,
		BuyerID:      src.BuyerID,
		ContentTitle: src.ContentTitle,
		PurchasedAt:  src.PurchasedAt,
		SalesAmount:  src.Price,
		FeePolicy:    datatypes.NewJSONType(policy),
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	item.calculate()
	return item
}

func (i *SettlementItem) Policy() feepolicydomain.Snapshot {
	return i.FeePolicy.Data()
}

func (i *SettlementItem) calculate() {
	p := i.FeePolicy.Data()
	sales := i.SalesAmount

	i.PlatformFee = money.ApplyRate(sales, p.PlatformFeeRate)
	i.PlatformFeeDisplay = money.ApplyRate(sales, p.PlatformFeeDisplayRate)
	i.PlatformFeeBaseline = money.ApplyRate(sales, p.PlatformFeeBaselineRate)
	i.PlatformFeeForgone = money.NonNegative(i.PlatformFeeBaseline - i.PlatformFee)

	i.GatewayFee = money.ApplyRate(sales, p.GatewayFeeRate)
	i.GatewayFeeDisplay = money.ApplyRate(sales, p.GatewayFeeDisplayRate)
	i.GatewayFeeBaseline = money.ApplyRate(sales, p.GatewayFeeBaselineRate)
	i.GatewayFeeForgone = money.NonNegative(i.GatewayFeeBaseline - i.GatewayFee)

	i.FeeVat = money.ApplyRate(i.PlatformFee+i.GatewayFee, p.VatRate)
	i.FeeVatDisplay = money.ApplyRate(i.PlatformFeeDisplay+i.GatewayFeeDisplay, p.VatRate)

	i.GatewayFeeRefundExpected = money.NonNegative(i.GatewayFee-i.GatewayFeeDisplay) +
		money.NonNegative(i.FeeVat-i.FeeVatDisplay)

	i.TotalFee = i.PlatformFee + i.GatewayFee + i.FeeVat
	i.TotalFeeDisplay = i.PlatformFeeDisplay + i.GatewayFeeDisplay + i.FeeVatDisplay
	i.SettlementAmountDisplay = sales - i.TotalFeeDisplay
	if i.IsRefunded {
		i.SettlementAmount = 0
		return
	}
	i.SettlementAmount = sales - i.TotalFee
}

// ForgoneFee is the fee the platform waived on this item.
func (i *SettlementItem) ForgoneFee() int64 {
	return i.PlatformFeeForgone + i.GatewayFeeForgone
}

// ProcessRefund zeroes the item's contribution. Fee fields are kept for audit.
func (i *SettlementItem) ProcessRefund(at time.Time) error {
	if i.IsRefunded {
		return ErrItemAlreadyRefunded
	}
	i.IsRefunded = true
	i.RefundedAt = &at
	i.SettlementAmount = 0
	i.UpdatedAt = at
	return nil
}

// CancelRefund restores the contribution computed from the stored fees.
func (i *SettlementItem) CancelRefund(at time.Time) error {
	if !i.IsRefunded {
		return ErrItemNotRefunded
	}
	i.IsRefunded = false
	i.RefundedAt = nil
	i.SettlementAmount = i.SalesAmount - i.TotalFee
	i.UpdatedAt = at
	return nil
}

// RecalculateWithNewFeeRates reruns the breakdown against another policy.
func (i *SettlementItem) RecalculateWithNewFeeRates(policy feepolicydomain.Snapshot, at time.Time) error {
	if i.IsRefunded {
		return ErrItemAlreadyRefunded
	}
	i.FeePolicy = datatypes.NewJSONType(policy)
	i.calculate()
	i.UpdatedAt = at
	return nil
}

// Totals is the aggregate of a set of items at settlement precision.
type Totals struct {
	SalesAmount              decimal.Decimal
	PlatformFee              decimal.Decimal
	GatewayFee               decimal.Decimal
	FeeVat                   decimal.Decimal
	TotalFee                 decimal.Decimal
	ForgoneFee               decimal.Decimal
	GatewayFeeRefundExpected decimal.Decimal
	SettlementAmount         decimal.Decimal
	RefundAmount             decimal.Decimal
	RefundCount              int
	ItemCount                int
}

// SumItems walks every item from scratch. Refunded items count only towards
// the refund totals.
func SumItems(items []SettlementItem) Totals {
	var sales, platform, gateway, vat, total, forgone, refundExpected, net, refunds int64
	refundCount := 0
	for _, item := range items {
		if item.IsRefunded {
			refunds += item.SalesAmount
			refundCount++
			continue
		}
		sales += item.SalesAmount
		platform += item.PlatformFee
		gateway += item.GatewayFee
		vat += item.FeeVat
		total += item.TotalFee
		forgone += item.ForgoneFee()
		refundExpected += item.GatewayFeeRefundExpected
		net += item.SettlementAmount
	}
	agg := func(v int64) decimal.Decimal { return money.RoundAggregate(decimal.NewFromInt(v)) }
	return Totals{
		SalesAmount:              agg(sales),
		PlatformFee:              agg(platform),
		GatewayFee:               agg(gateway),
		FeeVat:                   agg(vat),
		TotalFee:                 agg(total),
		ForgoneFee:               agg(forgone),
		GatewayFeeRefundExpected: agg(refundExpected),
		SettlementAmount:         agg(net),
		RefundAmount:             agg(refunds),
		RefundCount:              refundCount,
		ItemCount:                len(items),
	}
}
