package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	settlementdomain "github.com/smallbiznis/contentmarket/internal/settlement/domain"
	"github.com/smallbiznis/contentmarket/pkg/money"
	"gorm.io/gorm"
)

type Kind string

const (
	// KindMonthly covers the fees of a whole settlement.
	KindMonthly Kind = "MONTHLY"
	// KindTransaction covers the fees of a single settlement item.
	KindTransaction Kind = "TRANSACTION"
)

type Status string

const (
	StatusIssued    Status = "ISSUED"
	StatusCancelled Status = "CANCELLED"
)

var (
	ErrNotFound             = errors.New("tax_invoice_not_found")
	ErrAlreadyIssued        = errors.New("tax_invoice_already_issued")
	ErrAlreadyCancelled     = errors.New("tax_invoice_already_cancelled")
	ErrSettlementNotClosing = errors.New("settlement_not_processing_or_completed")
	ErrItemRefunded         = errors.New("settlement_item_refunded")
	ErrCoveredByMonthly     = errors.New("settlement_has_monthly_tax_invoice")
	ErrCoveredByTransaction = errors.New("settlement_item_has_tax_invoice")
	ErrIssueConflict        = errors.New("tax_invoice_issue_conflict")
)

// TaxInvoice bills the platform's fees to a seller. It targets either a
// settlement or a single settlement item, never both.
type TaxInvoice struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	InvoiceNumber string        `gorm:"type:varchar(64);not null;uniqueIndex" json:"invoice_number"`
	Kind          Kind          `gorm:"type:varchar(16);not null" json:"kind"`
	SellerID      snowflake.ID  `gorm:"not null;index" json:"seller_id"`
	SettlementID  snowflake.ID  `gorm:"not null;index" json:"settlement_id"`
	ItemID        *snowflake.ID `gorm:"index" json:"item_id,omitempty"`
	// IssuedKey is unique while the invoice is ISSUED and cleared on cancel.
	IssuedKey *string `gorm:"type:varchar(64);uniqueIndex" json:"-"`

	SupplyAmount decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"supply_amount"`
	VatAmount    decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"vat_amount"`
	TotalAmount  decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total_amount"`

	PeriodStart time.Time `gorm:"not null" json:"period_start"`
	PeriodEnd   time.Time `gorm:"not null" json:"period_end"`

	Status       Status     `gorm:"type:varchar(16);not null" json:"status"`
	IssuedAt     time.Time  `gorm:"not null" json:"issued_at"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (TaxInvoice) TableName() string { return "tax_invoices" }

func MonthlyKey(settlementID snowflake.ID) string { return "S:" + settlementID.String() }

func TransactionKey(itemID snowflake.ID) string { return "I:" + itemID.String() }

// NewMonthly bills the fee totals of a settlement.
func NewMonthly(id snowflake.ID, s settlementdomain.Settlement, at time.Time) TaxInvoice {
	supply := money.RoundAggregate(s.TotalPlatformFee.Add(s.TotalGatewayFee))
	vat := money.RoundAggregate(s.TotalFeeVat)
	key := MonthlyKey(s.ID)
	return TaxInvoice{
		ID:            id,
		InvoiceNumber: invoiceNumber("TIM", s.PeriodStart, id),
		Kind:          KindMonthly,
		SellerID:      s.SellerID,
		SettlementID:  s.ID,
		IssuedKey:     &key,
		SupplyAmount:  supply,
		VatAmount:     vat,
		TotalAmount:   supply.Add(vat),
		PeriodStart:   s.PeriodStart,
		PeriodEnd:     s.PeriodEnd,
		Status:        StatusIssued,
		IssuedAt:      at,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

// NewTransaction bills the fees of one settlement item.
func NewTransaction(id snowflake.ID, item settlementdomain.SettlementItem, at time.Time) TaxInvoice {
	supply := money.RoundAggregate(decimal.NewFromInt(item.PlatformFee + item.GatewayFee))
	vat := money.RoundAggregate(decimal.NewFromInt(item.FeeVat))
	key := TransactionKey(item.ID)
	itemID := item.ID
	return TaxInvoice{
		ID:            id,
		InvoiceNumber: invoiceNumber("TIT", item.PurchasedAt, id),
		Kind:          KindTransaction,
		SellerID:      item.SellerID,
		SettlementID:  item.SettlementID,
		ItemID:        &itemID,
		IssuedKey:     &key,
		SupplyAmount:  supply,
		VatAmount:     vat,
		TotalAmount:   supply.Add(vat),
		PeriodStart:   item.PurchasedAt,
		PeriodEnd:     item.PurchasedAt,
		Status:        StatusIssued,
		IssuedAt:      at,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func (t *TaxInvoice) Cancel(reason string, at time.Time) error {
	if t.Status == StatusCancelled {
		return ErrAlreadyCancelled
	}
	t.Status = StatusCancelled
	t.IssuedKey = nil
	t.CancelReason = reason
	t.CancelledAt = &at
	t.UpdatedAt = at
	return nil
}

// FileName is the download name of the rendered invoice.
func (t TaxInvoice) FileName() string {
	return slug.Make("tax invoice "+t.InvoiceNumber) + ".pdf"
}

func invoiceNumber(prefix string, period time.Time, id snowflake.ID) string {
	return fmt.Sprintf("%s-%s-%s", prefix, period.UTC().Format("200601"), id.String())
}

// IssueGuard is written by every transaction that issues an invoice for a
// settlement, so monthly and per-item issuance of the same settlement
// serialize on one row.
type IssueGuard struct {
	SettlementID snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"settlement_id"`
	Version      int64        `gorm:"not null;default:0" json:"version"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

func (IssueGuard) TableName() string { return "tax_invoice_guards" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *TaxInvoice) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*TaxInvoice, error)
	FindIssuedByKey(ctx context.Context, db *gorm.DB, key string) (*TaxInvoice, error)
	// CountIssuedTransactions counts ISSUED per-item invoices of a settlement.
	CountIssuedTransactions(ctx context.Context, db *gorm.DB, settlementID snowflake.ID) (int64, error)
	MarkCancelled(ctx context.Context, db *gorm.DB, invoice *TaxInvoice) (bool, error)

	FindGuard(ctx context.Context, db *gorm.DB, settlementID snowflake.ID) (*IssueGuard, error)
	// InsertGuard and BumpGuard yield ErrIssueConflict when another
	// transaction wrote the guard first.
	InsertGuard(ctx context.Context, db *gorm.DB, guard *IssueGuard) error
	BumpGuard(ctx context.Context, db *gorm.DB, guard *IssueGuard, at time.Time) error
}
