package service

import (
	"context"
	"errors"
	"testing"

	gatewaydomain "github.com/smallbiznis/contentmarket/internal/gateway/domain"
	"github.com/smallbiznis/contentmarket/internal/notification"
	orderdomain "github.com/smallbiznis/contentmarket/internal/order/domain"
	paymentdomain "github.com/smallbiznis/contentmarket/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/contentmarket/internal/purchase/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAuthAndValidate_Success(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)

	info, err := f.coordinator.SaveAuthAndValidate(context.Background(), buyerID, authFor(order))
	require.NoError(t, err)
	assert.Equal(t, order.ID, info.OrderID)
	assert.Equal(t, int64(50000), info.Amount)

	var snapshot paymentdomain.GatewayAuthSnapshot
	require.NoError(t, f.db.First(&snapshot, "id = ?", info.SnapshotID).Error)
	assert.Equal(t, paymentdomain.SnapshotStatusAuthorized, snapshot.Status)
	assert.Equal(t, "50000", snapshot.PayTotal)
	assert.Nil(t, snapshot.ApprovedAt)
	assert.NotContains(t, string(snapshot.AuthPayload), "auth-key")
}

func TestSaveAuthAndValidate_Rejections(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)
	paid := f.seedOrder(t, 50000)
	paid.Status = orderdomain.StatusPaid
	require.NoError(t, f.orders.UpdateStatus(context.Background(), f.db, paid, orderdomain.StatusPending))

	cases := []struct {
		name   string
		userID int64
		mutate func(*gatewaydomain.AuthResult)
		want   error
	}{
		{"other user", 9999, func(*gatewaydomain.AuthResult) {}, paymentdomain.ErrNotOrderOwner},
		{"amount lower", int64(buyerID), func(a *gatewaydomain.AuthResult) { a.PayTotal = "49999" }, paymentdomain.ErrAmountMismatch},
		{"fractional amount", int64(buyerID), func(a *gatewaydomain.AuthResult) { a.PayTotal = "50000.5" }, paymentdomain.ErrAmountMismatch},
		{"garbage amount", int64(buyerID), func(a *gatewaydomain.AuthResult) { a.PayTotal = "fifty" }, paymentdomain.ErrAmountMismatch},
		{"auth not succeeded", int64(buyerID), func(a *gatewaydomain.AuthResult) { a.PayRst = "close" }, paymentdomain.ErrAuthNotSucceeded},
		{"unknown order", int64(buyerID), func(a *gatewaydomain.AuthResult) { a.PayOID = "ORDUNKNOWN" }, paymentdomain.ErrOrderNotFound},
		{"order already paid", int64(buyerID), func(a *gatewaydomain.AuthResult) { a.PayOID = paid.MerchantUID }, paymentdomain.ErrOrderNotPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			auth := authFor(order)
			tc.mutate(&auth)
			_, err := f.coordinator.SaveAuthAndValidate(context.Background(), snowflakeID(tc.userID), auth)
			require.Error(t, err)
			assert.True(t, paymentdomain.IsValidation(err))
			assert.ErrorIs(t, err, paymentdomain.ErrValidation)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	assert.Zero(t, f.count(t, &paymentdomain.GatewayAuthSnapshot{}))
}

func TestSaveAuthAndValidate_AcceptsFormattedAmount(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)

	auth := authFor(order)
	auth.PayTotal = " 50,000 "
	_, err := f.coordinator.SaveAuthAndValidate(context.Background(), buyerID, auth)
	require.NoError(t, err)
}

func TestCompletePayment_CreatesPaymentAndPurchase(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)
	ctx := context.Background()

	info, err := f.coordinator.SaveAuthAndValidate(ctx, buyerID, authFor(order))
	require.NoError(t, err)

	result, err := f.coordinator.CompletePayment(ctx, info, approvalFor(order))
	require.NoError(t, err)
	assert.Equal(t, int64(50000), result.Amount)
	assert.Equal(t, sellerID, result.SellerID)
	assert.Equal(t, buyerID, result.BuyerID)
	assert.Equal(t, paymentdomain.MethodCard, result.Method)

	assert.Equal(t, int64(1), f.count(t, &paymentdomain.Payment{}))
	assert.Equal(t, int64(1), f.count(t, &purchasedomain.Purchase{}))

	var payment paymentdomain.Payment
	require.NoError(t, f.db.First(&payment, "id = ?", result.PaymentID).Error)
	assert.Equal(t, int64(50000), payment.Amount)
	assert.Equal(t, "TRADE-1", payment.ExternalRef)
	assert.False(t, payment.Cancelled)

	var purchase purchasedomain.Purchase
	require.NoError(t, f.db.First(&purchase, "id = ?", result.PurchaseID).Error)
	assert.Equal(t, int64(50000), purchase.Price)
	assert.Equal(t, sellerID, purchase.SellerID)
	assert.Nil(t, purchase.CancelledAt)

	stored := f.reloadOrder(t, order.ID)
	assert.Equal(t, orderdomain.StatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)

	var snapshot paymentdomain.GatewayAuthSnapshot
	require.NoError(t, f.db.First(&snapshot, "id = ?", info.SnapshotID).Error)
	assert.Equal(t, paymentdomain.SnapshotStatusApproved, snapshot.Status)
	assert.Equal(t, "20240105123500", snapshot.PayTime)
	require.NotNil(t, snapshot.ApprovedAt)

	sent := f.notifier.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, sentNotification{UserID: buyerID, Type: notification.EventPaymentCompleted}, sent[0])
	assert.Equal(t, sentNotification{UserID: sellerID, Type: notification.EventNewSale}, sent[1])
}

func TestCompletePayment_SecondCallFailsStatusCheck(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)
	ctx := context.Background()

	info, err := f.coordinator.SaveAuthAndValidate(ctx, buyerID, authFor(order))
	require.NoError(t, err)
	_, err = f.coordinator.CompletePayment(ctx, info, approvalFor(order))
	require.NoError(t, err)

	_, err = f.coordinator.CompletePayment(ctx, info, approvalFor(order))
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentdomain.ErrOrderNotPending)
	assert.Equal(t, int64(1), f.count(t, &paymentdomain.Payment{}))
	assert.Equal(t, int64(1), f.count(t, &purchasedomain.Purchase{}))
}

func TestCompletePayment_OrderIDMismatchIsConsistencyViolation(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)
	ctx := context.Background()

	info, err := f.coordinator.SaveAuthAndValidate(ctx, buyerID, authFor(order))
	require.NoError(t, err)

	approval := approvalFor(order)
	approval.OrderID = "ORDSOMEONEELSE"
	_, err = f.coordinator.CompletePayment(ctx, info, approval)
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentdomain.ErrConsistencyViolation)
	assert.False(t, paymentdomain.IsValidation(err))

	var violation *paymentdomain.ConsistencyViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "orderId", violation.Field)
	assert.Equal(t, order.MerchantUID, violation.Expected)

	assert.Zero(t, f.count(t, &paymentdomain.Payment{}))
	assert.Zero(t, f.count(t, &purchasedomain.Purchase{}))
	assert.Equal(t, orderdomain.StatusPending, f.reloadOrder(t, order.ID).Status)
	assert.Empty(t, f.notifier.Sent())

	var snapshot paymentdomain.GatewayAuthSnapshot
	require.NoError(t, f.db.First(&snapshot, "id = ?", info.SnapshotID).Error)
	assert.Nil(t, snapshot.ApprovedAt)
}

func TestCompletePayment_FieldConsistency(t *testing.T) {
	cases := []struct {
		field  string
		mutate func(*gatewaydomain.ApprovalResult)
	}{
		{"amount", func(a *gatewaydomain.ApprovalResult) { a.PayTotal = "5000" }},
		{"amount", func(a *gatewaydomain.ApprovalResult) { a.PayTotal = "" }},
		{"goods", func(a *gatewaydomain.ApprovalResult) { a.Goods = "Something else" }},
		{"payerId", func(a *gatewaydomain.ApprovalResult) { a.PayerID = "payer-2" }},
		{"payerName", func(a *gatewaydomain.ApprovalResult) { a.PayerName = "Other Lee" }},
		{"payerName", func(a *gatewaydomain.ApprovalResult) { a.PayerName = "" }},
		{"payerPhone", func(a *gatewaydomain.ApprovalResult) { a.PayerPhone = "01099998888" }},
		{"isTax", func(a *gatewaydomain.ApprovalResult) { a.IsTax = "N" }},
		{"isTax", func(a *gatewaydomain.ApprovalResult) { a.IsTax = "" }},
		{"taxTotal", func(a *gatewaydomain.ApprovalResult) { a.TaxTotal = "4000" }},
		{"cardInstallments", func(a *gatewaydomain.ApprovalResult) { a.CardInstallments = "3" }},
	}
	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			f := newFixture(t)
			order := f.seedOrder(t, 50000)
			ctx := context.Background()

			info, err := f.coordinator.SaveAuthAndValidate(ctx, buyerID, authFor(order))
			require.NoError(t, err)

			approval := approvalFor(order)
			tc.mutate(approval)
			_, err = f.coordinator.CompletePayment(ctx, info, approval)

			var violation *paymentdomain.ConsistencyViolation
			require.True(t, errors.As(err, &violation), "expected violation, got %v", err)
			assert.Equal(t, tc.field, violation.Field)
			assert.Zero(t, f.count(t, &paymentdomain.Payment{}))
		})
	}
}

func TestCompletePayment_ToleratesMissingDescriptiveFields(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)
	ctx := context.Background()

	info, err := f.coordinator.SaveAuthAndValidate(ctx, buyerID, authFor(order))
	require.NoError(t, err)

	approval := approvalFor(order)
	approval.Goods = ""
	approval.PayerPhone = "010-1234-5678"
	_, err = f.coordinator.CompletePayment(ctx, info, approval)
	require.NoError(t, err)
}

func TestHandleApprovalFailure(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)
	ctx := context.Background()

	require.NoError(t, f.coordinator.HandleApprovalFailure(ctx, order.ID, "CDEC", "card declined"))

	stored := f.reloadOrder(t, order.ID)
	assert.Equal(t, orderdomain.StatusFailed, stored.Status)
	assert.Equal(t, "[CDEC] card declined", stored.FailureReason)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, notification.EventPaymentFailed, sent[0].Type)

	err := f.coordinator.HandleApprovalFailure(ctx, order.ID, "CDEC", "card declined")
	assert.ErrorIs(t, err, paymentdomain.ErrOrderNotPending)
}

func TestCancellationRoundTrip(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)
	ctx := context.Background()

	info, err := f.coordinator.SaveAuthAndValidate(ctx, buyerID, authFor(order))
	require.NoError(t, err)
	completed, err := f.coordinator.CompletePayment(ctx, info, approvalFor(order))
	require.NoError(t, err)

	cancelInfo, err := f.coordinator.ValidateCancellation(ctx, buyerID, order.MerchantUID, "schedule conflict")
	require.NoError(t, err)
	assert.Equal(t, "20240105", cancelInfo.PayDate)
	assert.Equal(t, int64(50000), cancelInfo.Amount)
	assert.Equal(t, completed.PurchaseID, cancelInfo.PurchaseID)
	assert.Equal(t, orderdomain.StatusCancelRequest, f.reloadOrder(t, order.ID).Status)

	result, err := f.coordinator.CompleteCancel(ctx, cancelInfo, &gatewaydomain.RefundResult{Success: true, RefundTotal: "50000"}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), result.RefundAmount)

	stored := f.reloadOrder(t, order.ID)
	assert.Equal(t, orderdomain.StatusCancelled, stored.Status)
	assert.Equal(t, "schedule conflict", stored.CancelReason)

	var payment paymentdomain.Payment
	require.NoError(t, f.db.First(&payment, "id = ?", completed.PaymentID).Error)
	assert.True(t, payment.Cancelled)
	assert.Equal(t, int64(50000), payment.RefundAmount)

	var purchase purchasedomain.Purchase
	require.NoError(t, f.db.First(&purchase, "id = ?", completed.PurchaseID).Error)
	assert.NotNil(t, purchase.CancelledAt)

	_, err = f.coordinator.CompleteCancel(ctx, cancelInfo, nil, "")
	assert.ErrorIs(t, err, paymentdomain.ErrOrderNotCancellable)
}

func TestValidateCancellation_Rejections(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)
	ctx := context.Background()

	_, err := f.coordinator.ValidateCancellation(ctx, buyerID, order.MerchantUID, "")
	assert.ErrorIs(t, err, paymentdomain.ErrOrderNotCancellable)

	_, err = f.coordinator.ValidateCancellation(ctx, 4242, order.MerchantUID, "")
	assert.ErrorIs(t, err, paymentdomain.ErrNotOrderOwner)

	assert.Equal(t, orderdomain.StatusPending, f.reloadOrder(t, order.ID).Status)
}

func TestRecordRefundFailure_KeepsCancelRequest(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)
	ctx := context.Background()

	info, err := f.coordinator.SaveAuthAndValidate(ctx, buyerID, authFor(order))
	require.NoError(t, err)
	_, err = f.coordinator.CompletePayment(ctx, info, approvalFor(order))
	require.NoError(t, err)
	cancelInfo, err := f.coordinator.ValidateCancellation(ctx, buyerID, order.MerchantUID, "")
	require.NoError(t, err)

	require.NoError(t, f.coordinator.RecordRefundFailure(ctx, cancelInfo.OrderID, "RF01", "refund window closed"))

	stored := f.reloadOrder(t, order.ID)
	assert.Equal(t, orderdomain.StatusCancelRequest, stored.Status)
	assert.Equal(t, "[RF01] refund window closed", stored.FailureReason)

	_, err = f.coordinator.ValidateCancellation(ctx, buyerID, order.MerchantUID, "retry")
	require.NoError(t, err)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "[A] b", FailureReason("A", "b"))
	assert.Equal(t, "b", FailureReason("", "b"))
	assert.Equal(t, "[A]", FailureReason("A", ""))
	assert.Equal(t, "payment approval failed", FailureReason("", ""))
}
