package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusOnHold     Status = "ON_HOLD"
	StatusCancelled  Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

var (
	ErrNotFound            = errors.New("settlement_not_found")
	ErrItemNotFound        = errors.New("settlement_item_not_found")
	ErrItemExists          = errors.New("settlement_item_exists")
	ErrSettlementExists    = errors.New("settlement_exists")
	ErrVersionConflict     = errors.New("settlement_version_conflict")
	ErrIllegalState        = errors.New("settlement_illegal_state")
	ErrTerminal            = wrapIllegal("settlement_terminal")
	ErrInvalidTransition   = wrapIllegal("invalid_settlement_transition")
	ErrBankAccountMissing  = wrapIllegal("settlement_bank_account_missing")
	ErrItemAlreadyRefunded = wrapIllegal("settlement_item_already_refunded")
	ErrItemNotRefunded     = wrapIllegal("settlement_item_not_refunded")
	ErrInvalidBankAccount  = errors.New("invalid_bank_account")
	ErrBankAccountRejected = errors.New("bank_account_rejected")
	ErrPurchaseNotFound    = errors.New("purchase_not_found")
	ErrPurchaseCancelled   = errors.New("purchase_cancelled")
)

type illegalState struct{ code string }

func wrapIllegal(code string) error { return &illegalState{code: code} }

func (e *illegalState) Error() string        { return e.code }
func (e *illegalState) Is(target error) bool { return target == ErrIllegalState }

// Settlement is what one seller is owed for one calendar month. Totals are
// derived from the items by RecalcFromItems and carry two decimal places.
type Settlement struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	SellerID    snowflake.ID `gorm:"not null;uniqueIndex:ux_settlements_seller_period" json:"seller_id"`
	PeriodStart time.Time    `gorm:"not null;uniqueIndex:ux_settlements_seller_period" json:"period_start"`
	PeriodEnd   time.Time    `gorm:"not null" json:"period_end"`
	Status      Status       `gorm:"type:varchar(16);not null;index" json:"status"`

	TotalSalesAmount              decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total_sales_amount"`
	TotalPlatformFee              decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total_platform_fee"`
	TotalGatewayFee               decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total_gateway_fee"`
	TotalFeeVat                   decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total_fee_vat"`
	TotalFee                      decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total_fee"`
	TotalForgoneFee               decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total_forgone_fee"`
	TotalGatewayFeeRefundExpected decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total_gateway_fee_refund_expected"`
	SettlementAmount              decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"settlement_amount"`
	TotalRefundAmount             decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total_refund_amount"`
	RefundCount                   int             `gorm:"not null;default:0" json:"refund_count"`
	ItemCount                     int             `gorm:"not null;default:0" json:"item_count"`

	BankName       string     `json:"bank_name,omitempty"`
	BankCode       string     `json:"bank_code,omitempty"`
	AccountNumber  string     `json:"account_number,omitempty"`
	AccountHolder  string     `json:"account_holder,omitempty"`
	BankVerifiedAt *time.Time `json:"bank_verified_at,omitempty"`

	HoldReason   string     `json:"hold_reason,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`

	Version   int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Settlement) TableName() string { return "settlements" }

// MonthPeriod returns the calendar month in loc containing t, as [start, end)
// expressed in UTC. A nil loc means UTC.
func MonthPeriod(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return start.UTC(), start.AddDate(0, 1, 0).UTC()
}

// NewSettlement opens an empty PENDING settlement for a seller and month.
func NewSettlement(id, sellerID snowflake.ID, periodStart, periodEnd, at time.Time) Settlement {
	s := Settlement{
		ID:          id,
		SellerID:    sellerID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Status:      StatusPending,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	s.applyTotals(SumItems(nil))
	return s
}

// EnsureMutable rejects item changes once the settlement is terminal.
func (s *Settlement) EnsureMutable() error {
	if s.Status.Terminal() {
		return ErrTerminal
	}
	return nil
}

// RecalcFromItems recomputes every total from the given items. It never
// adds to the previous totals.
func (s *Settlement) RecalcFromItems(items []SettlementItem, at time.Time) {
	s.applyTotals(SumItems(items))
	s.UpdatedAt = at
}

func (s *Settlement) applyTotals(t Totals) {
	s.TotalSalesAmount = t.SalesAmount
	s.TotalPlatformFee = t.PlatformFee
	s.TotalGatewayFee = t.GatewayFee
	s.TotalFeeVat = t.FeeVat
	s.TotalFee = t.TotalFee
	s.TotalForgoneFee = t.ForgoneFee
	s.TotalGatewayFeeRefundExpected = t.GatewayFeeRefundExpected
	s.SettlementAmount = t.SettlementAmount
	s.TotalRefundAmount = t.RefundAmount
	s.RefundCount = t.RefundCount
	s.ItemCount = t.ItemCount
}

func (s *Settlement) HasBankAccount() bool {
	return strings.TrimSpace(s.BankName) != "" &&
		strings.TrimSpace(s.AccountNumber) != "" &&
		strings.TrimSpace(s.AccountHolder) != ""
}

func (s *Settlement) UpdateBankAccount(account BankAccount, verifiedAt, at time.Time) error {
	if err := s.EnsureMutable(); err != nil {
		return err
	}
	if s.Status == StatusProcessing {
		return ErrInvalidTransition
	}
	s.BankName = strings.TrimSpace(account.BankName)
	s.BankCode = strings.TrimSpace(account.BankCode)
	s.AccountNumber = strings.TrimSpace(account.AccountNumber)
	s.AccountHolder = strings.TrimSpace(account.HolderName)
	s.BankVerifiedAt = &verifiedAt
	s.UpdatedAt = at
	return nil
}

func (s *Settlement) StartProcessing(at time.Time) error {
	if s.Status != StatusPending {
		return ErrInvalidTransition
	}
	if !s.HasBankAccount() {
		return ErrBankAccountMissing
	}
	s.Status = StatusProcessing
	s.StartedAt = &at
	s.UpdatedAt = at
	return nil
}

func (s *Settlement) Complete(at time.Time) error {
	if s.Status != StatusProcessing {
		return ErrInvalidTransition
	}
	s.Status = StatusCompleted
	s.CompletedAt = &at
	s.UpdatedAt = at
	return nil
}

func (s *Settlement) Hold(reason string, at time.Time) error {
	if s.Status != StatusPending && s.Status != StatusProcessing {
		return ErrInvalidTransition
	}
	s.Status = StatusOnHold
	s.HoldReason = strings.TrimSpace(reason)
	s.UpdatedAt = at
	return nil
}

func (s *Settlement) Resume(at time.Time) error {
	if s.Status != StatusOnHold {
		return ErrInvalidTransition
	}
	s.Status = StatusPending
	s.HoldReason = ""
	s.UpdatedAt = at
	return nil
}

func (s *Settlement) Cancel(reason string, at time.Time) error {
	if s.Status.Terminal() {
		return ErrTerminal
	}
	s.Status = StatusCancelled
	s.CancelReason = strings.TrimSpace(reason)
	s.CancelledAt = &at
	s.UpdatedAt = at
	return nil
}

// BankAccount is the payout destination checked against the gateway before
// it is stored.
type BankAccount struct {
	BankName      string `validate:"required"`
	BankCode      string `validate:"required"`
	AccountNumber string `validate:"required,numeric,min=6,max=20"`
	HolderName    string `validate:"required"`
}

var ErrPolicyScopeMismatch = errors.New("fee_policy_scope_mismatch")
