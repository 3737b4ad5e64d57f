package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending       Status = "PENDING"
	StatusPaid          Status = "PAID"
	StatusFailed        Status = "FAILED"
	StatusCancelRequest Status = "CANCEL_REQUEST"
	StatusCancelled     Status = "CANCELLED"
)

type ContentType string

const (
	ContentTypeCoaching ContentType = "COACHING"
	ContentTypeDocument ContentType = "DOCUMENT"
)

// LineItem is one priced entry of an order as shown at checkout.
type LineItem struct {
	ContentID snowflake.ID `json:"content_id"`
	OptionID  snowflake.ID `json:"option_id"`
	Title     string       `json:"title"`
	Option    string       `json:"option"`
	Price     int64        `json:"price"`
}

// Order is one checkout attempt. Amounts are whole currency units.
type Order struct {
	ID             snowflake.ID                   `gorm:"primaryKey" json:"id"`
	MerchantUID    string                         `gorm:"type:varchar(64);not null;uniqueIndex" json:"merchant_uid"`
	BuyerID        snowflake.ID                   `gorm:"not null;index" json:"buyer_id"`
	SellerID       snowflake.ID                   `gorm:"not null;index" json:"seller_id"`
	ContentID      snowflake.ID                   `gorm:"not null" json:"content_id"`
	OptionID       snowflake.ID                   `gorm:"not null" json:"option_id"`
	ContentTitle   string                         `gorm:"not null" json:"content_title"`
	OptionName     string                         `json:"option_name"`
	ContentType    ContentType                    `gorm:"type:varchar(16);not null" json:"content_type"`
	OriginalPrice  int64                          `gorm:"not null" json:"original_price"`
	DiscountAmount int64                          `gorm:"not null;default:0" json:"discount_amount"`
	FinalPrice     int64                          `gorm:"not null" json:"final_price"`
	Items          datatypes.JSONType[[]LineItem] `json:"items"`
	Status         Status                         `gorm:"type:varchar(32);not null;index" json:"status"`
	FailureReason  string                         `json:"failure_reason,omitempty"`
	CancelReason   string                         `json:"cancel_reason,omitempty"`
	PaidAt         *time.Time                     `json:"paid_at,omitempty"`
	CancelledAt    *time.Time                     `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time                      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time                      `gorm:"not null" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) OwnedBy(buyerID snowflake.ID) bool {
	return o != nil && buyerID != 0 && o.BuyerID == buyerID
}

// Goods is the description sent to the gateway for this order.
func (o *Order) Goods() string {
	if o.OptionName == "" {
		return o.ContentTitle
	}
	return o.ContentTitle + " - " + o.OptionName
}

func (o *Order) MarkPaid(at time.Time) error {
	if o.Status != StatusPending {
		return ErrInvalidTransition
	}
	o.Status = StatusPaid
	o.PaidAt = &at
	o.UpdatedAt = at
	return nil
}

func (o *Order) MarkFailed(reason string, at time.Time) error {
	if o.Status != StatusPending {
		return ErrInvalidTransition
	}
	o.Status = StatusFailed
	o.FailureReason = reason
	o.UpdatedAt = at
	return nil
}

// RequestCancel moves a paid order into CANCEL_REQUEST. An order already
// waiting on its refund stays there so the refund can be retried.
func (o *Order) RequestCancel(reason string, at time.Time) error {
	switch o.Status {
	case StatusPaid, StatusCancelRequest:
	default:
		return ErrInvalidTransition
	}
	o.Status = StatusCancelRequest
	o.CancelReason = reason
	o.UpdatedAt = at
	return nil
}

func (o *Order) MarkCancelled(reason string, at time.Time) error {
	if o.Status != StatusCancelRequest {
		return ErrInvalidTransition
	}
	o.Status = StatusCancelled
	if reason != "" {
		o.CancelReason = reason
	}
	o.FailureReason = ""
	o.CancelledAt = &at
	o.UpdatedAt = at
	return nil
}

// RecordRefundRejection keeps the order in CANCEL_REQUEST and remembers why
// the gateway refused the refund.
func (o *Order) RecordRefundRejection(reason string, at time.Time) error {
	if o.Status != StatusCancelRequest {
		return ErrInvalidTransition
	}
	o.FailureReason = reason
	o.UpdatedAt = at
	return nil
}
