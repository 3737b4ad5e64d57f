package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	feepolicydomain "github.com/smallbiznis/contentmarket/internal/feepolicy/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func standardPolicy() feepolicydomain.Snapshot {
	return feepolicydomain.DefaultSnapshot(d("0.015"), d("0.017"), d("0.10"))
}

func itemFor(price int64, policy feepolicydomain.Snapshot) SettlementItem {
	return NewItem(1, 2, ItemSource{PurchaseID: 3, OrderID: 4, SellerID: 5, BuyerID: 6, Price: price, PurchasedAt: at}, policy, at)
}

func TestNewItem_StandardRates(t *testing.T) {
	item := itemFor(50000, standardPolicy())

	assert.Equal(t, int64(50000), item.SalesAmount)
	assert.Equal(t, int64(750), item.PlatformFee)
	assert.Equal(t, int64(850), item.GatewayFee)
	assert.Equal(t, int64(160), item.FeeVat)
	assert.Equal(t, int64(1760), item.TotalFee)
	assert.Equal(t, int64(48240), item.SettlementAmount)
	assert.Equal(t, int64(48240), item.SettlementAmountDisplay)
	assert.Equal(t, int64(0), item.ForgoneFee())
	assert.Equal(t, int64(0), item.GatewayFeeRefundExpected)
}

func TestNewItem_PromotionalWaiver(t *testing.T) {
	policy := standardPolicy()
	policy.PlatformFeeRate = d("0")
	policy.PlatformFeeBaselineRate = d("0.02")

	item := itemFor(50000, policy)

	assert.Equal(t, int64(0), item.PlatformFee)
	assert.Equal(t, int64(750), item.PlatformFeeDisplay)
	assert.Equal(t, int64(1000), item.PlatformFeeBaseline)
	assert.Equal(t, int64(1000), item.PlatformFeeForgone)
	assert.Equal(t, int64(85), item.FeeVat)
	assert.Equal(t, int64(160), item.FeeVatDisplay)
	assert.Equal(t, int64(0), item.GatewayFeeRefundExpected)
	assert.Equal(t, int64(935), item.TotalFee)
	assert.Equal(t, int64(49065), item.SettlementAmount)
	assert.Equal(t, int64(1760), item.TotalFeeDisplay)
}

func TestNewItem_GatewayRefundExpected(t *testing.T) {
	policy := standardPolicy()
	policy.GatewayFeeRate = d("0.02")
	policy.GatewayFeeBaselineRate = d("0.02")

	item := itemFor(50000, policy)

	assert.Equal(t, int64(1000), item.GatewayFee)
	assert.Equal(t, int64(850), item.GatewayFeeDisplay)
	assert.Equal(t, int64(175), item.FeeVat)
	assert.Equal(t, int64(160), item.FeeVatDisplay)
	// (1000 - 850) + (175 - 160)
	assert.Equal(t, int64(165), item.GatewayFeeRefundExpected)
}

func TestNewItem_RoundsHalfUpPerTerm(t *testing.T) {
	// 4900 * 0.015 = 73.5, 4900 * 0.017 = 83.3, (74 + 83) * 0.1 = 15.7
	item := itemFor(4900, standardPolicy())

	assert.Equal(t, int64(74), item.PlatformFee)
	assert.Equal(t, int64(83), item.GatewayFee)
	assert.Equal(t, int64(16), item.FeeVat)
	assert.Equal(t, item.SalesAmount-(item.PlatformFee+item.GatewayFee+item.FeeVat), item.SettlementAmount)
}

func TestForgoneFeeNeverNegative(t *testing.T) {
	policy := standardPolicy()
	policy.PlatformFeeRate = d("0.03")
	policy.GatewayFeeRate = d("0.02")

	item := itemFor(50000, policy)

	assert.Equal(t, int64(0), item.PlatformFeeForgone)
	assert.Equal(t, int64(0), item.GatewayFeeForgone)
	assert.GreaterOrEqual(t, item.ForgoneFee(), int64(0))
}

func TestRefundRoundTrip(t *testing.T) {
	item := itemFor(50000, standardPolicy())
	before := item

	require.NoError(t, item.ProcessRefund(at))
	assert.True(t, item.IsRefunded)
	assert.Equal(t, int64(0), item.SettlementAmount)
	assert.Equal(t, before.TotalFee, item.TotalFee)
	assert.Equal(t, before.FeeVat, item.FeeVat)

	err := item.ProcessRefund(at)
	assert.ErrorIs(t, err, ErrIllegalState)

	require.NoError(t, item.CancelRefund(at.Add(time.Hour)))
	assert.False(t, item.IsRefunded)
	assert.Nil(t, item.RefundedAt)
	assert.Equal(t, before.SettlementAmount, item.SettlementAmount)

	assert.ErrorIs(t, item.CancelRefund(at), ErrItemNotRefunded)
}

func TestRecalculateRejectsRefundedItem(t *testing.T) {
	item := itemFor(50000, standardPolicy())
	require.NoError(t, item.ProcessRefund(at))

	err := item.RecalculateWithNewFeeRates(standardPolicy(), at)
	assert.ErrorIs(t, err, ErrIllegalState)
}

func TestRecalculateWithNewFeeRates(t *testing.T) {
	item := itemFor(50000, standardPolicy())

	cheaper := standardPolicy()
	cheaper.PlatformFeeRate = d("0.01")
	require.NoError(t, item.RecalculateWithNewFeeRates(cheaper, at))

	assert.Equal(t, int64(500), item.PlatformFee)
	assert.Equal(t, int64(135), item.FeeVat)
	assert.Equal(t, int64(48515), item.SettlementAmount)
	assert.True(t, item.Policy().PlatformFeeRate.Equal(d("0.01")))
}

func TestSumItems(t *testing.T) {
	refunded := itemFor(50000, standardPolicy())
	require.NoError(t, refunded.ProcessRefund(at))
	items := []SettlementItem{itemFor(50000, standardPolicy()), itemFor(30000, standardPolicy()), refunded}

	got := SumItems(items)

	assert.True(t, got.SalesAmount.Equal(d("80000")))
	// 30000: 450 + 510 + 96 = 1056
	assert.True(t, got.TotalFee.Equal(d("2816")), got.TotalFee.String())
	assert.True(t, got.SettlementAmount.Equal(d("77184")), got.SettlementAmount.String())
	assert.True(t, got.RefundAmount.Equal(d("50000")))
	assert.Equal(t, 1, got.RefundCount)
	assert.Equal(t, 3, got.ItemCount)
	assert.Equal(t, "77184.00", got.SettlementAmount.StringFixed(2))
}
