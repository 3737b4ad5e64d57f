package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type ScopeType string

const (
	ScopeGlobal ScopeType = "GLOBAL"
	ScopeSeller ScopeType = "SELLER"
)

// Source names where a resolved snapshot came from.
type Source string

const (
	SourceSeller   Source = "SELLER"
	SourceGlobal   Source = "GLOBAL"
	SourceDefaults Source = "DEFAULTS"
)

// FeePolicy is a time-bounded set of fee rates for every seller (GLOBAL) or
// one seller (SELLER). Rates are fractions, 0.015 meaning 1.5%.
// Display and baseline rates are optional and fall back to the applied rate.
type FeePolicy struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	ScopeType ScopeType    `gorm:"type:varchar(16);not null;index:ix_fee_policies_scope" json:"scope_type"`
	ScopeRef  snowflake.ID `gorm:"not null;default:0;index:ix_fee_policies_scope" json:"scope_ref,omitempty"`

	PlatformFeeRate         decimal.Decimal  `gorm:"type:numeric(8,6);not null" json:"platform_fee_rate"`
	PlatformFeeDisplayRate  *decimal.Decimal `gorm:"type:numeric(8,6)" json:"platform_fee_display_rate,omitempty"`
	PlatformFeeBaselineRate *decimal.Decimal `gorm:"type:numeric(8,6)" json:"platform_fee_baseline_rate,omitempty"`
	GatewayFeeRate          decimal.Decimal  `gorm:"type:numeric(8,6);not null" json:"gateway_fee_rate"`
	GatewayFeeDisplayRate   *decimal.Decimal `gorm:"type:numeric(8,6)" json:"gateway_fee_display_rate,omitempty"`
	GatewayFeeBaselineRate  *decimal.Decimal `gorm:"type:numeric(8,6)" json:"gateway_fee_baseline_rate,omitempty"`
	VatRate                 *decimal.Decimal `gorm:"type:numeric(8,6)" json:"vat_rate,omitempty"`

	EffectiveFrom time.Time  `gorm:"not null" json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	Active        bool       `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (FeePolicy) TableName() string { return "fee_policies" }

// CoversAt reports whether the policy is active and in force at t.
// The effective window is half open: [EffectiveFrom, EffectiveTo).
func (p *FeePolicy) CoversAt(t time.Time) bool {
	if !p.Active || t.Before(p.EffectiveFrom) {
		return false
	}
	return p.EffectiveTo == nil || t.Before(*p.EffectiveTo)
}

// Snapshot freezes the policy's rates. Blank rates resolve against the
// applied rate, and a blank VAT rate against the configured default.
func (p *FeePolicy) Snapshot(defaultVat decimal.Decimal) Snapshot {
	id := p.ID
	source := SourceGlobal
	if p.ScopeType == ScopeSeller {
		source = SourceSeller
	}
	return Snapshot{
		PolicyID:                &id,
		Source:                  source,
		PlatformFeeRate:         p.PlatformFeeRate,
		PlatformFeeDisplayRate:  ResolveRate(p.PlatformFeeDisplayRate, p.PlatformFeeRate),
		PlatformFeeBaselineRate: ResolveRate(p.PlatformFeeBaselineRate, p.PlatformFeeRate),
		GatewayFeeRate:          p.GatewayFeeRate,
		GatewayFeeDisplayRate:   ResolveRate(p.GatewayFeeDisplayRate, p.GatewayFeeRate),
		GatewayFeeBaselineRate:  ResolveRate(p.GatewayFeeBaselineRate, p.GatewayFeeRate),
		VatRate:                 ResolveRate(p.VatRate, defaultVat),
	}
}

// Snapshot is the fully resolved set of rates captured by a settlement item.
// Every rate is present; later policy changes never alter a stored snapshot.
type Snapshot struct {
	PolicyID *snowflake.ID `json:"policy_id,omitempty"`
	Source   Source        `json:"source"`

	PlatformFeeRate         decimal.Decimal `json:"platform_fee_rate"`
	PlatformFeeDisplayRate  decimal.Decimal `json:"platform_fee_display_rate"`
	PlatformFeeBaselineRate decimal.Decimal `json:"platform_fee_baseline_rate"`
	GatewayFeeRate          decimal.Decimal `json:"gateway_fee_rate"`
	GatewayFeeDisplayRate   decimal.Decimal `json:"gateway_fee_display_rate"`
	GatewayFeeBaselineRate  decimal.Decimal `json:"gateway_fee_baseline_rate"`
	VatRate                 decimal.Decimal `json:"vat_rate"`
}

// DefaultSnapshot builds a snapshot from flat rates with display and
// baseline equal to the applied rate.
func DefaultSnapshot(platform, gateway, vat decimal.Decimal) Snapshot {
	return Snapshot{
		Source:                  SourceDefaults,
		PlatformFeeRate:         platform,
		PlatformFeeDisplayRate:  platform,
		PlatformFeeBaselineRate: platform,
		GatewayFeeRate:          gateway,
		GatewayFeeDisplayRate:   gateway,
		GatewayFeeBaselineRate:  gateway,
		VatRate:                 vat,
	}
}

// ResolveRate returns *value, or fallback when value is nil.
func ResolveRate(value *decimal.Decimal, fallback decimal.Decimal) decimal.Decimal {
	if value == nil {
		return fallback
	}
	return *value
}
