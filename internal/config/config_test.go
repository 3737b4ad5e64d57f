package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettlementTimeZone(t *testing.T) {
	t.Setenv("SETTLEMENT_TIMEZONE", "")
	assert.Equal(t, "Asia/Seoul", Load().Settlement.TimeZone)

	t.Setenv("SETTLEMENT_TIMEZONE", "Europe/Berlin")
	assert.Equal(t, "Europe/Berlin", Load().Settlement.TimeZone)
}

func TestSettlementLocation(t *testing.T) {
	loc, err := SettlementConfig{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = SettlementConfig{TimeZone: "Asia/Seoul"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Seoul", loc.String())

	_, err = SettlementConfig{TimeZone: "Mars/Olympus"}.Location()
	assert.Error(t, err)
}
