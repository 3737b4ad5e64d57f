package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// FeeDefaults are the rates used when no fee policy covers a purchase and the
// fallbacks for policy rates left blank.
type FeeDefaults struct {
	PlatformFeeRate decimal.Decimal
	GatewayFeeRate  decimal.Decimal
	VatRate         decimal.Decimal
}

type feeFile struct {
	PlatformFeeRate string `mapstructure:"platformFeeRate"`
	GatewayFeeRate  string `mapstructure:"gatewayFeeRate"`
	VatRate         string `mapstructure:"vatRate"`
}

func DefaultFeeDefaults() FeeDefaults {
	return FeeDefaults{
		PlatformFeeRate: decimal.RequireFromString("0.015"),
		GatewayFeeRate:  decimal.RequireFromString("0.017"),
		VatRate:         decimal.RequireFromString("0.10"),
	}
}

type FeeDefaultsHolder struct {
	current atomic.Value // holds FeeDefaults
}

// NewStaticFeeDefaults returns a holder that never reloads.
func NewStaticFeeDefaults(defaults FeeDefaults) *FeeDefaultsHolder {
	holder := &FeeDefaultsHolder{}
	holder.current.Store(defaults)
	return holder
}

// NewFeeDefaultsHolder reads fee.yml and keeps watching it.
func NewFeeDefaultsHolder(cfg Config, log *zap.Logger) (*FeeDefaultsHolder, error) {
	log = log.Named("config.fee")
	v := viper.New()

	if cfg.FeeConfigPath != "" {
		v.SetConfigFile(cfg.FeeConfigPath)
	} else {
		v.SetConfigName("fee")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/contentmarket")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CONTENTMARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultFeeDefaults()
	v.SetDefault("fee.platformFeeRate", defaults.PlatformFeeRate.String())
	v.SetDefault("fee.gatewayFeeRate", defaults.GatewayFeeRate.String())
	v.SetDefault("fee.vatRate", defaults.VatRate.String())

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
		log.Info("fee config not found, using defaults")
	}

	current, err := decodeFeeDefaults(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticFeeDefaults(current)
	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeFeeDefaults(v)
		if err != nil {
			log.Warn("invalid fee config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("fee config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *FeeDefaultsHolder) Get() FeeDefaults {
	return h.current.Load().(FeeDefaults)
}

func decodeFeeDefaults(v *viper.Viper) (FeeDefaults, error) {
	var raw feeFile
	if err := v.UnmarshalKey("fee", &raw); err != nil {
		return FeeDefaults{}, err
	}
	platform, err := parseRate(raw.PlatformFeeRate)
	if err != nil {
		return FeeDefaults{}, errors.New("fee.platformFeeRate: " + err.Error())
	}
	gateway, err := parseRate(raw.GatewayFeeRate)
	if err != nil {
		return FeeDefaults{}, errors.New("fee.gatewayFeeRate: " + err.Error())
	}
	vat, err := parseRate(raw.VatRate)
	if err != nil {
		return FeeDefaults{}, errors.New("fee.vatRate: " + err.Error())
	}
	return FeeDefaults{PlatformFeeRate: platform, GatewayFeeRate: gateway, VatRate: vat}, nil
}

func parseRate(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, errors.New("not a decimal")
	}
	if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, errors.New("rate must be in [0, 1)")
	}
	return d, nil
}
