package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type SnapshotStatus string

const (
	SnapshotStatusAuthorized SnapshotStatus = "AUTHORIZED"
	SnapshotStatusApproved   SnapshotStatus = "APPROVED"
)

// GatewayAuthSnapshot records what the gateway reported at authorization.
// It is written once and updated exactly once with approval fields.
type GatewayAuthSnapshot struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrderID     snowflake.ID   `gorm:"not null;index" json:"order_id"`
	MerchantUID string         `gorm:"type:varchar(64);not null;index" json:"merchant_uid"`
	UserID      snowflake.ID   `gorm:"not null" json:"user_id"`
	Status      SnapshotStatus `gorm:"type:varchar(16);not null" json:"status"`

	PayResult        string         `json:"pay_result"`
	PayCode          string         `json:"pay_code"`
	PayMessage       string         `json:"pay_message"`
	PayType          string         `json:"pay_type"`
	PayWork          string         `json:"pay_work"`
	PayReqKey        string         `json:"pay_req_key"`
	PayerID          string         `json:"payer_id"`
	PayerName        string         `json:"payer_name"`
	PayerPhone       string         `json:"payer_phone"`
	PayerEmail       string         `json:"payer_email"`
	Goods            string         `json:"goods"`
	PayTotal         string         `gorm:"not null" json:"pay_total"`
	TaxTotal         string         `json:"tax_total"`
	IsTax            string         `json:"is_tax"`
	CardInstallments string         `json:"card_installments"`
	SimpleFlag       string         `json:"simple_flag"`
	AuthPayload      datatypes.JSON `json:"auth_payload"`

	ApprovalResult   string         `json:"approval_result,omitempty"`
	ApprovalCode     string         `json:"approval_code,omitempty"`
	ApprovalMessage  string         `json:"approval_message,omitempty"`
	PayTime          string         `json:"pay_time,omitempty"`
	CardName         string         `json:"card_name,omitempty"`
	CardNumberMasked string         `json:"card_number_masked,omitempty"`
	CardTradeNum     string         `json:"card_trade_num,omitempty"`
	CardAuthNo       string         `json:"card_auth_no,omitempty"`
	ReceiptURL       string         `json:"receipt_url,omitempty"`
	ApprovalPayload  datatypes.JSON `json:"approval_payload,omitempty"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (GatewayAuthSnapshot) TableName() string { return "gateway_auth_snapshots" }

// PayDate is the gateway's yyyymmdd payment date, required for refunds.
func (s *GatewayAuthSnapshot) PayDate() string {
	if len(s.PayTime) < 8 {
		return ""
	}
	return s.PayTime[:8]
}

type Method string

const (
	MethodCard       Method = "CARD"
	MethodBillingKey Method = "BILLING_KEY"
)

// Payment is the authoritative record that money was captured for an order.
// The unique order_id index keeps a second capture from being recorded.
type Payment struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	OrderID      snowflake.ID `gorm:"not null;uniqueIndex" json:"order_id"`
	SnapshotID   snowflake.ID `gorm:"not null" json:"snapshot_id"`
	MerchantUID  string       `gorm:"type:varchar(64);not null" json:"merchant_uid"`
	BuyerID      snowflake.ID `gorm:"not null;index" json:"buyer_id"`
	Amount       int64        `gorm:"not null" json:"amount"`
	Method       Method       `gorm:"type:varchar(16);not null" json:"method"`
	ExternalRef  string       `json:"external_ref"`
	PaidAt       time.Time    `gorm:"not null" json:"paid_at"`
	Cancelled    bool         `gorm:"not null;default:false" json:"cancelled"`
	CancelReason string       `json:"cancel_reason,omitempty"`
	RefundAmount int64        `gorm:"not null;default:0" json:"refund_amount"`
	CancelledAt  *time.Time   `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// WebhookEvent is one accepted gateway callback.
type WebhookEvent struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	MerchantUID string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_gateway_webhook_events_key" json:"merchant_uid"`
	Result      string         `gorm:"type:varchar(32);not null;uniqueIndex:ux_gateway_webhook_events_key" json:"result"`
	PayTime     string         `gorm:"type:varchar(32);not null;uniqueIndex:ux_gateway_webhook_events_key" json:"pay_time"`
	Cancelled   bool           `gorm:"not null;default:false" json:"cancelled"`
	Payload     datatypes.JSON `gorm:"not null" json:"payload"`
	ReceivedAt  time.Time      `gorm:"not null" json:"received_at"`
}

func (WebhookEvent) TableName() string { return "gateway_webhook_events" }

// PaymentAuthInfo is handed from SaveAuthAndValidate to CompletePayment
// across the external approval call.
type PaymentAuthInfo struct {
	OrderID     snowflake.ID
	MerchantUID string
	SnapshotID  snowflake.ID
	UserID      snowflake.ID
	Amount      int64
}

type CompletionResult struct {
	OrderID     snowflake.ID
	MerchantUID string
	PaymentID   snowflake.ID
	PurchaseID  snowflake.ID
	BuyerID     snowflake.ID
	SellerID    snowflake.ID
	Amount      int64
	Goods       string
	Method      Method
}

// CancelInfo is handed from ValidateCancellation to CompleteCancel across the
// external refund call.
type CancelInfo struct {
	OrderID     snowflake.ID
	MerchantUID string
	PaymentID   snowflake.ID
	PurchaseID  snowflake.ID
	UserID      snowflake.ID
	SellerID    snowflake.ID
	Amount      int64
	PayDate     string
	Reason      string
}

type CancelResult struct {
	OrderID      snowflake.ID
	MerchantUID  string
	PaymentID    snowflake.ID
	PurchaseID   snowflake.ID
	RefundAmount int64
}
