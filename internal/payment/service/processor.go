package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/smallbiznis/contentmarket/internal/gateway/domain"
	"github.com/smallbiznis/contentmarket/internal/lock"
	obsmetrics "github.com/smallbiznis/contentmarket/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/contentmarket/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	confirmLockKey = "payment:confirm:%s"
	cancelLockKey  = "payment:cancel:%s"
	lockTTL        = 2 * time.Minute

	FlowInteractive = "interactive"
	FlowBillingKey  = "billing_key"
	flowRefund      = "refund"
)

// ApproveFunc performs the external capture for an authorized order.
type ApproveFunc func(ctx context.Context) (*gatewaydomain.ApprovalResult, error)

type ProcessorParams struct {
	fx.In

	Coordinator *Coordinator
	Gateway     gatewaydomain.Client
	Locker      *lock.Locker
	Log         *zap.Logger
	Settlement  paymentdomain.SettlementRecorder `optional:"true"`
	Metrics     *obsmetrics.Metrics              `optional:"true"`
}

// Processor drives the gateway calls around the coordinator so that no
// network call happens inside a transaction.
type Processor struct {
	coordinator *Coordinator
	gateway     gatewaydomain.Client
	locker      *lock.Locker
	log         *zap.Logger
	settlement  paymentdomain.SettlementRecorder
	metrics     *obsmetrics.Metrics
}

func NewProcessor(p ProcessorParams) *Processor {
	return &Processor{
		coordinator: p.Coordinator,
		gateway:     p.Gateway,
		locker:      p.Locker,
		log:         p.Log.Named("payment.processor"),
		settlement:  p.Settlement,
		metrics:     p.Metrics,
	}
}

// Confirm captures an interactively authorized payment.
func (p *Processor) Confirm(ctx context.Context, userID snowflake.ID, auth gatewaydomain.AuthResult) (paymentdomain.CompletionResult, error) {
	return p.ConfirmWith(ctx, userID, auth, FlowInteractive, func(ctx context.Context) (*gatewaydomain.ApprovalResult, error) {
		return p.gateway.RequestApproval(ctx, auth)
	})
}

// ConfirmWith runs save, approve and complete for one order under a per-order
// lock. approve is the only step that talks to the gateway.
func (p *Processor) ConfirmWith(
	ctx context.Context,
	userID snowflake.ID,
	auth gatewaydomain.AuthResult,
	flow string,
	approve ApproveFunc,
) (paymentdomain.CompletionResult, error) {
	var result paymentdomain.CompletionResult
	err := p.locker.WithLock(ctx, fmt.Sprintf(confirmLockKey, auth.PayOID), lockTTL, func(ctx context.Context) error {
		var err error
		result, err = p.confirm(ctx, userID, auth, flow, approve)
		return err
	})
	if errors.Is(err, lock.ErrLocked) {
		return paymentdomain.CompletionResult{}, paymentdomain.NewValidationError(paymentdomain.ErrInProgress, "order %s", auth.PayOID)
	}
	return result, err
}

func (p *Processor) confirm(
	ctx context.Context,
	userID snowflake.ID,
	auth gatewaydomain.AuthResult,
	flow string,
	approve ApproveFunc,
) (paymentdomain.CompletionResult, error) {
	info, err := p.coordinator.SaveAuthAndValidate(ctx, userID, auth)
	if err != nil {
		p.metrics.RecordPaymentOutcome(flow, obsmetrics.OutcomeRejected)
		return paymentdomain.CompletionResult{}, err
	}

	approval, err := approve(ctx)
	// The gateway may have captured money by now, so local bookkeeping
	// outlives the caller's context.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		code, message := gatewaydomain.Diagnostics(err)
		p.failApproval(ctx, info, code, message)
		p.metrics.RecordPaymentOutcome(flow, obsmetrics.OutcomeError)
		return paymentdomain.CompletionResult{}, fmt.Errorf("%w: %w", paymentdomain.ErrPaymentFailed, err)
	}
	if !approval.Success {
		p.failApproval(ctx, info, approval.Code, approval.Message)
		p.metrics.RecordPaymentOutcome(flow, obsmetrics.OutcomeRejected)
		return paymentdomain.CompletionResult{}, fmt.Errorf("%w: %s", paymentdomain.ErrApprovalRejected, FailureReason(approval.Code, approval.Message))
	}

	result, err := p.coordinator.CompletePayment(ctx, info, approval)
	if err != nil {
		var violation *paymentdomain.ConsistencyViolation
		if errors.As(err, &violation) {
			p.log.Error("gateway approval disagrees with authorization",
				zap.String("merchant_uid", violation.MerchantUID),
				zap.String("field", violation.Field),
				zap.String("expected", violation.Expected),
				zap.String("actual", violation.Actual),
			)
		}
		p.metrics.RecordPaymentOutcome(flow, obsmetrics.OutcomeError)
		return paymentdomain.CompletionResult{}, err
	}
	p.metrics.RecordPaymentOutcome(flow, obsmetrics.OutcomeSuccess)

	if p.settlement != nil {
		if err := p.settlement.RecordPurchase(ctx, result.PurchaseID); err != nil {
			p.log.Error("failed to record purchase for settlement",
				zap.String("merchant_uid", result.MerchantUID),
				zap.String("purchase_id", result.PurchaseID.String()),
				zap.Error(err),
			)
		}
	}
	return result, nil
}

func (p *Processor) failApproval(ctx context.Context, info paymentdomain.PaymentAuthInfo, code, message string) {
	if err := p.coordinator.HandleApprovalFailure(ctx, info.OrderID, code, message); err != nil {
		p.log.Error("failed to record approval failure",
			zap.String("merchant_uid", info.MerchantUID),
			zap.Error(err),
		)
	}
}

// Cancel refunds a paid order in full.
func (p *Processor) Cancel(ctx context.Context, userID snowflake.ID, merchantUID, reason string) (paymentdomain.CancelResult, error) {
	var result paymentdomain.CancelResult
	err := p.locker.WithLock(ctx, fmt.Sprintf(cancelLockKey, merchantUID), lockTTL, func(ctx context.Context) error {
		var err error
		result, err = p.cancel(ctx, userID, merchantUID, reason)
		return err
	})
	if errors.Is(err, lock.ErrLocked) {
		return paymentdomain.CancelResult{}, paymentdomain.NewValidationError(paymentdomain.ErrInProgress, "order %s", merchantUID)
	}
	return result, err
}

func (p *Processor) cancel(ctx context.Context, userID snowflake.ID, merchantUID, reason string) (paymentdomain.CancelResult, error) {
	info, err := p.coordinator.ValidateCancellation(ctx, userID, merchantUID, reason)
	if err != nil {
		p.metrics.RecordPaymentOutcome(flowRefund, obsmetrics.OutcomeRejected)
		return paymentdomain.CancelResult{}, err
	}

	refund, err := p.gateway.RequestRefund(ctx, gatewaydomain.RefundRequest{
		OrderID:     info.MerchantUID,
		PayDate:     info.PayDate,
		RefundTotal: info.Amount,
		Reason:      info.Reason,
	})
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		code, message := gatewaydomain.Diagnostics(err)
		p.failRefund(ctx, info, code, message)
		p.metrics.RecordPaymentOutcome(flowRefund, obsmetrics.OutcomeError)
		return paymentdomain.CancelResult{}, fmt.Errorf("%w: %w", paymentdomain.ErrRefundFailed, err)
	}
	if !refund.Success {
		p.failRefund(ctx, info, refund.Code, refund.Message)
		p.metrics.RecordPaymentOutcome(flowRefund, obsmetrics.OutcomeRejected)
		return paymentdomain.CancelResult{}, fmt.Errorf("%w: %s", paymentdomain.ErrRefundRejected, FailureReason(refund.Code, refund.Message))
	}

	result, err := p.coordinator.CompleteCancel(ctx, info, refund, info.Reason)
	if err != nil {
		p.log.Error("refund succeeded at gateway but local cancel failed",
			zap.String("merchant_uid", info.MerchantUID),
			zap.Error(err),
		)
		p.metrics.RecordPaymentOutcome(flowRefund, obsmetrics.OutcomeError)
		return paymentdomain.CancelResult{}, err
	}
	p.metrics.RecordPaymentOutcome(flowRefund, obsmetrics.OutcomeSuccess)

	if p.settlement != nil {
		if err := p.settlement.RefundPurchase(ctx, result.PurchaseID); err != nil {
			p.log.Error("failed to refund purchase in settlement",
				zap.String("merchant_uid", result.MerchantUID),
				zap.String("purchase_id", result.PurchaseID.String()),
				zap.Error(err),
			)
		}
	}
	return result, nil
}

func (p *Processor) failRefund(ctx context.Context, info paymentdomain.CancelInfo, code, message string) {
	p.log.Warn("refund failed",
		zap.String("merchant_uid", info.MerchantUID),
		zap.String("code", code),
		zap.String("message", message),
	)
	if err := p.coordinator.RecordRefundFailure(ctx, info.OrderID, code, message); err != nil {
		p.log.Error("failed to record refund failure",
			zap.String("merchant_uid", info.MerchantUID),
			zap.Error(err),
		)
	}
}
