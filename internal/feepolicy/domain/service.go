package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("fee_policy_not_found")
	ErrInvalidScope  = errors.New("invalid_fee_policy_scope")
	ErrInvalidRate   = errors.New("invalid_fee_rate")
	ErrInvalidPeriod = errors.New("invalid_fee_policy_period")
	ErrInvalidName   = errors.New("invalid_fee_policy_name")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, policy *FeePolicy) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*FeePolicy, error)
	// FindEffective returns the active policy for the scope in force at the
	// given instant. When windows overlap the latest EffectiveFrom wins.
	FindEffective(ctx context.Context, db *gorm.DB, scope ScopeType, ref snowflake.ID, at time.Time) (*FeePolicy, error)
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
}

// CreateRequest carries rates as decimal strings.
type CreateRequest struct {
	Name                    string       `validate:"required,max=128"`
	ScopeType               ScopeType    `validate:"required,oneof=GLOBAL SELLER"`
	ScopeRef                snowflake.ID `validate:"required_if=ScopeType SELLER"`
	PlatformFeeRate         string       `validate:"required,numeric"`
	PlatformFeeDisplayRate  string       `validate:"omitempty,numeric"`
	PlatformFeeBaselineRate string       `validate:"omitempty,numeric"`
	GatewayFeeRate          string       `validate:"required,numeric"`
	GatewayFeeDisplayRate   string       `validate:"omitempty,numeric"`
	GatewayFeeBaselineRate  string       `validate:"omitempty,numeric"`
	VatRate                 string       `validate:"omitempty,numeric"`
	EffectiveFrom           time.Time    `validate:"required"`
	EffectiveTo             *time.Time
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (FeePolicy, error)
	Get(ctx context.Context, id snowflake.ID) (FeePolicy, error)
	Deactivate(ctx context.Context, id snowflake.ID) error
	FindEffectivePolicy(ctx context.Context, scope ScopeType, ref snowflake.ID, at time.Time) (*FeePolicy, error)
	// SnapshotOf freezes a specific policy regardless of its effective window.
	SnapshotOf(ctx context.Context, id snowflake.ID) (FeePolicy, Snapshot, error)
	// ResolveSnapshot picks the seller's policy, then the global policy, then
	// the configured defaults, and resolves every blank rate.
	ResolveSnapshot(ctx context.Context, sellerID snowflake.ID, at time.Time) (Snapshot, error)
}
