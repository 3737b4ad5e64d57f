package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

var (
	ErrNoActiveKey           = errors.New("billing_key_not_active")
	ErrNotFound              = errors.New("billing_key_not_found")
	ErrInvalidKey            = errors.New("invalid_billing_key")
	ErrInvalidUser           = errors.New("invalid_user")
	ErrEncryptionUnavailable = errors.New("billing_key_encryption_not_configured")
	ErrDecrypt               = errors.New("billing_key_decrypt_failed")
)

// BillingKey is a stored card credential issued by the gateway. The
// credential itself is kept encrypted; only a short hint is readable.
type BillingKey struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID           snowflake.ID `gorm:"not null;index:ix_billing_keys_user_status" json:"user_id"`
	Status           Status       `gorm:"type:varchar(16);not null;index:ix_billing_keys_user_status" json:"status"`
	EncryptedKey     string       `gorm:"type:text;not null" json:"-"`
	KeyHint          string       `gorm:"type:varchar(8)" json:"key_hint"`
	CardName         string       `json:"card_name,omitempty"`
	CardNumberMasked string       `json:"card_number_masked,omitempty"`
	PayerName        string       `json:"payer_name,omitempty"`
	PayerPhone       string       `json:"payer_phone,omitempty"`
	PayerEmail       string       `json:"payer_email,omitempty"`
	ActivatedAt      time.Time    `gorm:"not null" json:"activated_at"`
	DeactivatedAt    *time.Time   `json:"deactivated_at,omitempty"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null" json:"updated_at"`
}

func (BillingKey) TableName() string { return "billing_keys" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *BillingKey) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingKey, error)
	// FindActive returns the most recently activated ACTIVE key of a user.
	FindActive(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*BillingKey, error)
	DeactivateAll(ctx context.Context, db *gorm.DB, userID snowflake.ID, at time.Time) (int64, error)
	Deactivate(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, at time.Time) (bool, error)
}

type RegisterRequest struct {
	BillingKey       string
	CardName         string
	CardNumberMasked string
	PayerName        string
	PayerPhone       string
	PayerEmail       string
}
