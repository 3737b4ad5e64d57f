package service

import (
	"context"
	"errors"
	"testing"

	gatewaydomain "github.com/smallbiznis/contentmarket/internal/gateway/domain"
	"github.com/smallbiznis/contentmarket/internal/lock"
	orderdomain "github.com/smallbiznis/contentmarket/internal/order/domain"
	paymentdomain "github.com/smallbiznis/contentmarket/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newProcessor(f *fixture, gw *mockGateway, settlement *mockSettlement) *Processor {
	return NewProcessor(ProcessorParams{
		Coordinator: f.coordinator,
		Gateway:     gw,
		Locker:      lock.NewLocker(lock.Params{Log: zap.NewNop()}),
		Log:         zap.NewNop(),
		Settlement:  settlement,
	})
}

func TestConfirm_Success(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)
	gw := &mockGateway{}
	settlement := &mockSettlement{}
	p := newProcessor(f, gw, settlement)

	auth := authFor(order)
	gw.On("RequestApproval", mock.Anything, auth).Return(approvalFor(order), nil).Once()
	settlement.On("RecordPurchase", mock.Anything, mock.AnythingOfType("snowflake.ID")).Return(nil).Once()

	result, err := p.Confirm(context.Background(), buyerID, auth)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPaid, f.reloadOrder(t, order.ID).Status)

	settlement.AssertCalled(t, "RecordPurchase", mock.Anything, result.PurchaseID)
	gw.AssertExpectations(t)
}

func TestConfirm_ApprovalRejectedFailsOrder(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)
	gw := &mockGateway{}
	settlement := &mockSettlement{}
	p := newProcessor(f, gw, settlement)

	gw.On("RequestApproval", mock.Anything, mock.Anything).Return(&gatewaydomain.ApprovalResult{
		Success: false,
		Code:    "CDEC",
		Message: "card declined",
	}, nil).Once()

	_, err := p.Confirm(context.Background(), buyerID, authFor(order))
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentdomain.ErrApprovalRejected)

	stored := f.reloadOrder(t, order.ID)
	assert.Equal(t, orderdomain.StatusFailed, stored.Status)
	assert.Equal(t, "[CDEC] card declined", stored.FailureReason)
	assert.Zero(t, f.count(t, &paymentdomain.Payment{}))
	settlement.AssertNotCalled(t, "RecordPurchase", mock.Anything, mock.Anything)
}

func TestConfirm_GatewayErrorFailsOrderWithDiagnostics(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)
	gw := &mockGateway{}
	p := newProcessor(f, gw, &mockSettlement{})

	gwErr := &gatewaydomain.GatewayError{Op: "approval", Status: 503, Code: "E503", Message: "gateway busy", Retryable: true, Err: gatewaydomain.ErrUnavailable}
	gw.On("RequestApproval", mock.Anything, mock.Anything).Return(nil, gwErr).Once()

	_, err := p.Confirm(context.Background(), buyerID, authFor(order))
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentFailed)
	assert.ErrorIs(t, err, gatewaydomain.ErrUnavailable)

	stored := f.reloadOrder(t, order.ID)
	assert.Equal(t, orderdomain.StatusFailed, stored.Status)
	assert.Equal(t, "[E503] gateway busy", stored.FailureReason)
}

func TestConfirm_ConsistencyViolationLeavesOrderPending(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)
	gw := &mockGateway{}
	settlement := &mockSettlement{}
	p := newProcessor(f, gw, settlement)

	approval := approvalFor(order)
	approval.PayTotal = "500"
	gw.On("RequestApproval", mock.Anything, mock.Anything).Return(approval, nil).Once()

	_, err := p.Confirm(context.Background(), buyerID, authFor(order))
	assert.ErrorIs(t, err, paymentdomain.ErrConsistencyViolation)
	assert.Equal(t, orderdomain.StatusPending, f.reloadOrder(t, order.ID).Status)
	settlement.AssertNotCalled(t, "RecordPurchase", mock.Anything, mock.Anything)
}

func TestConfirm_ValidationSkipsGateway(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)
	gw := &mockGateway{}
	p := newProcessor(f, gw, &mockSettlement{})

	auth := authFor(order)
	auth.PayTotal = "1"
	_, err := p.Confirm(context.Background(), buyerID, auth)
	assert.True(t, paymentdomain.IsValidation(err))
	gw.AssertNotCalled(t, "RequestApproval", mock.Anything, mock.Anything)
	assert.Equal(t, orderdomain.StatusPending, f.reloadOrder(t, order.ID).Status)
}

func TestConfirm_SettlementFailureIsNotPropagated(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, 50000)
	gw := &mockGateway{}
	settlement := &mockSettlement{}
	p := newProcessor(f, gw, settlement)

	gw.On("RequestApproval", mock.Anything, mock.Anything).Return(approvalFor(order), nil).Once()
	settlement.On("RecordPurchase", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	_, err := p.Confirm(context.Background(), buyerID, authFor(order))
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPaid, f.reloadOrder(t, order.ID).Status)
}

func paidOrder(t *testing.T, f *fixture, p *Processor, gw *mockGateway, settlement *mockSettlement) (*orderdomain.Order, paymentdomain.CompletionResult) {
	t.Helper()
	order := f.seedOrder(t, 50000)
	gw.On("RequestApproval", mock.Anything, mock.Anything).Return(approvalFor(order), nil).Once()
	settlement.On("RecordPurchase", mock.Anything, mock.Anything).Return(nil).Once()
	result, err := p.Confirm(context.Background(), buyerID, authFor(order))
	require.NoError(t, err)
	return order, result
}

func TestCancel_Success(t *testing.T) {
	f := newFixture(t)
	gw := &mockGateway{}
	settlement := &mockSettlement{}
	p := newProcessor(f, gw, settlement)
	order, completed := paidOrder(t, f, p, gw, settlement)

	gw.On("RequestRefund", mock.Anything, gatewaydomain.RefundRequest{
		OrderID:     order.MerchantUID,
		PayDate:     "20240105",
		RefundTotal: 50000,
		Reason:      "changed my mind",
	}).Return(&gatewaydomain.RefundResult{Success: true, RefundTotal: "50000"}, nil).Once()
	settlement.On("RefundPurchase", mock.Anything, completed.PurchaseID).Return(nil).Once()

	result, err := p.Cancel(context.Background(), buyerID, order.MerchantUID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), result.RefundAmount)
	assert.Equal(t, orderdomain.StatusCancelled, f.reloadOrder(t, order.ID).Status)

	gw.AssertExpectations(t)
	settlement.AssertExpectations(t)
}

func TestCancel_RefundRejectedKeepsCancelRequest(t *testing.T) {
	f := newFixture(t)
	gw := &mockGateway{}
	settlement := &mockSettlement{}
	p := newProcessor(f, gw, settlement)
	order, _ := paidOrder(t, f, p, gw, settlement)

	gw.On("RequestRefund", mock.Anything, mock.Anything).Return(&gatewaydomain.RefundResult{
		Success: false,
		Code:    "RF09",
		Message: "insufficient balance",
	}, nil).Once()

	_, err := p.Cancel(context.Background(), buyerID, order.MerchantUID, "")
	assert.ErrorIs(t, err, paymentdomain.ErrRefundRejected)

	stored := f.reloadOrder(t, order.ID)
	assert.Equal(t, orderdomain.StatusCancelRequest, stored.Status)
	assert.Equal(t, "[RF09] insufficient balance", stored.FailureReason)
	settlement.AssertNotCalled(t, "RefundPurchase", mock.Anything, mock.Anything)

	var payment paymentdomain.Payment
	require.NoError(t, f.db.First(&payment, "order_id = ?", order.ID).Error)
	assert.False(t, payment.Cancelled)
}

func TestCancel_GatewayError(t *testing.T) {
	f := newFixture(t)
	gw := &mockGateway{}
	settlement := &mockSettlement{}
	p := newProcessor(f, gw, settlement)
	order, _ := paidOrder(t, f, p, gw, settlement)

	gw.On("RequestRefund", mock.Anything, mock.Anything).Return(nil, &gatewaydomain.GatewayError{
		Op: "auth", Code: "fail", Message: "cancel auth refused", Err: gatewaydomain.ErrAuthRejected,
	}).Once()

	_, err := p.Cancel(context.Background(), buyerID, order.MerchantUID, "")
	assert.ErrorIs(t, err, paymentdomain.ErrRefundFailed)
	assert.ErrorIs(t, err, gatewaydomain.ErrAuthRejected)
	assert.Equal(t, orderdomain.StatusCancelRequest, f.reloadOrder(t, order.ID).Status)
}
