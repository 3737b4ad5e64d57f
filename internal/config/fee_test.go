package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFeeDefaultsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fee.yml")
	body := "fee:\n  platformFeeRate: \"0.05\"\n  gatewayFeeRate: \"0.03\"\n  vatRate: \"0.1\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	holder, err := NewFeeDefaultsHolder(Config{FeeConfigPath: path}, zap.NewNop())
	require.NoError(t, err)

	got := holder.Get()
	assert.True(t, got.PlatformFeeRate.Equal(decimal.RequireFromString("0.05")))
	assert.True(t, got.GatewayFeeRate.Equal(decimal.RequireFromString("0.03")))
	assert.True(t, got.VatRate.Equal(decimal.RequireFromString("0.1")))
}

func TestFeeDefaultsRejectsInvalidRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fee.yml")
	body := "fee:\n  platformFeeRate: \"1.5\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := NewFeeDefaultsHolder(Config{FeeConfigPath: path}, zap.NewNop())
	require.Error(t, err)
}

func TestStaticFeeDefaults(t *testing.T) {
	holder := NewStaticFeeDefaults(DefaultFeeDefaults())
	assert.True(t, holder.Get().VatRate.Equal(decimal.RequireFromString("0.1")))
}
