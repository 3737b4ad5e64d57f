package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentmarket/internal/clock"
	gatewaydomain "github.com/smallbiznis/contentmarket/internal/gateway/domain"
	"github.com/smallbiznis/contentmarket/internal/notification"
	orderdomain "github.com/smallbiznis/contentmarket/internal/order/domain"
	paymentdomain "github.com/smallbiznis/contentmarket/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/contentmarket/internal/purchase/domain"
	"github.com/smallbiznis/contentmarket/pkg/db/txn"
	"github.com/smallbiznis/contentmarket/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CoordinatorParams struct {
	fx.In

	Txn          *txn.Manager
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         paymentdomain.Repository
	OrderRepo    orderdomain.Repository
	PurchaseRepo purchasedomain.Repository
	Notifier     notification.Dispatcher `optional:"true"`
}

// Coordinator is the only writer of order, snapshot, payment and purchase
// state. Every method runs in one transaction and never calls the gateway.
type Coordinator struct {
	txn          *txn.Manager
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         paymentdomain.Repository
	orderRepo    orderdomain.Repository
	purchaseRepo purchasedomain.Repository
	notifier     notification.Dispatcher
}

func NewCoordinator(p CoordinatorParams) *Coordinator {
	return &Coordinator{
		txn:          p.Txn,
		log:          p.Log.Named("payment.coordinator"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		orderRepo:    p.OrderRepo,
		purchaseRepo: p.PurchaseRepo,
		notifier:     p.Notifier,
	}
}

// SaveAuthAndValidate checks that the order belongs to userID, is still
// pending and that the authorized total equals its final price, then stores
// the gateway's authorization as a snapshot.
func (c *Coordinator) SaveAuthAndValidate(ctx context.Context, userID snowflake.ID, auth gatewaydomain.AuthResult) (paymentdomain.PaymentAuthInfo, error) {
	merchantUID := strings.TrimSpace(auth.PayOID)
	var info paymentdomain.PaymentAuthInfo

	err := c.txn.Do(ctx, func(ctx context.Context, tx *gorm.DB) error {
		order, err := c.loadOwnedOrder(ctx, tx, userID, merchantUID)
		if err != nil {
			return err
		}
		if order.Status != orderdomain.StatusPending {
			return paymentdomain.NewValidationError(paymentdomain.ErrOrderNotPending, "order %s is %s", merchantUID, order.Status)
		}
		if !auth.Succeeded() {
			return paymentdomain.NewValidationError(paymentdomain.ErrAuthNotSucceeded, "[%s] %s", auth.PayCode, auth.PayMsg)
		}
		if !money.EqualsUnits(auth.PayTotal, order.FinalPrice) {
			return paymentdomain.NewValidationError(paymentdomain.ErrAmountMismatch,
				"order %s expects %d, gateway reported %q", merchantUID, order.FinalPrice, auth.PayTotal)
		}

		now := c.clock.Now()
		snapshot := paymentdomain.GatewayAuthSnapshot{
			ID:               c.genID.Generate(),
			OrderID:          order.ID,
			MerchantUID:      order.MerchantUID,
			UserID:           userID,
			Status:           paymentdomain.SnapshotStatusAuthorized,
			PayResult:        auth.PayRst,
			PayCode:          auth.PayCode,
			PayMessage:       auth.PayMsg,
			PayType:          auth.PayType,
			PayWork:          auth.PayWork,
			PayReqKey:        auth.PayReqKey,
			PayerID:          auth.PayerID,
			PayerName:        auth.PayerName,
			PayerPhone:       auth.PayerHP,
			PayerEmail:       auth.PayerEmail,
			Goods:            auth.PayGoods,
			PayTotal:         strings.TrimSpace(auth.PayTotal),
			TaxTotal:         auth.PayTaxTotal,
			IsTax:            auth.PayIsTax,
			CardInstallments: auth.CardInstall,
			SimpleFlag:       auth.SimpleFlag,
			AuthPayload:      redactedAuthPayload(auth),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := c.repo.InsertSnapshot(ctx, tx, &snapshot); err != nil {
			return err
		}

		info = paymentdomain.PaymentAuthInfo{
			OrderID:     order.ID,
			MerchantUID: order.MerchantUID,
			SnapshotID:  snapshot.ID,
			UserID:      userID,
			Amount:      order.FinalPrice,
		}
		return nil
	})
	if err != nil {
		return paymentdomain.PaymentAuthInfo{}, err
	}

	c.log.Info("payment authorization recorded",
		zap.String("merchant_uid", info.MerchantUID),
		zap.String("snapshot_id", info.SnapshotID.String()),
		zap.Int64("amount", info.Amount),
	)
	return info, nil
}

// CompletePayment verifies the approval against the stored snapshot and, only
// if every checked field agrees, records the payment, marks the order PAID and
// grants the purchase.
func (c *Coordinator) CompletePayment(ctx context.Context, info paymentdomain.PaymentAuthInfo, approval *gatewaydomain.ApprovalResult) (paymentdomain.CompletionResult, error) {
	if approval == nil {
		return paymentdomain.CompletionResult{}, paymentdomain.NewValidationError(paymentdomain.ErrValidation, "approval result missing")
	}
	var result paymentdomain.CompletionResult

	err := c.txn.Do(ctx, func(ctx context.Context, tx *gorm.DB) error {
		order, err := c.orderRepo.FindByID(ctx, tx, info.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return paymentdomain.NewValidationError(paymentdomain.ErrOrderNotFound, "order %s", info.MerchantUID)
		}
		if order.Status != orderdomain.StatusPending {
			return paymentdomain.NewValidationError(paymentdomain.ErrOrderNotPending, "order %s is %s", order.MerchantUID, order.Status)
		}

		snapshot, err := c.repo.FindSnapshotByID(ctx, tx, info.SnapshotID)
		if err != nil {
			return err
		}
		if snapshot == nil || snapshot.OrderID != order.ID {
			return paymentdomain.NewValidationError(paymentdomain.ErrSnapshotNotFound, "snapshot %s", info.SnapshotID)
		}

		if err := checkConsistency(order, snapshot, info, approval); err != nil {
			return err
		}

		now := c.clock.Now()
		applyApproval(snapshot, approval, now)
		if err := c.repo.UpdateSnapshotApproval(ctx, tx, snapshot); err != nil {
			return err
		}

		method := paymentdomain.MethodCard
		if strings.EqualFold(snapshot.SimpleFlag, "Y") {
			method = paymentdomain.MethodBillingKey
		}
		payment := paymentdomain.Payment{
			ID:          c.genID.Generate(),
			OrderID:     order.ID,
			SnapshotID:  snapshot.ID,
			MerchantUID: order.MerchantUID,
			BuyerID:     order.BuyerID,
			Amount:      order.FinalPrice,
			Method:      method,
			ExternalRef: approval.CardTradeNum,
			PaidAt:      now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := c.repo.InsertPayment(ctx, tx, &payment); err != nil {
			if errors.Is(err, paymentdomain.ErrPaymentAlreadyExists) {
				return paymentdomain.NewValidationError(err, "order %s", order.MerchantUID)
			}
			return err
		}

		if err := order.MarkPaid(now); err != nil {
			return err
		}
		if err := c.orderRepo.UpdateStatus(ctx, tx, order, orderdomain.StatusPending); err != nil {
			if errors.Is(err, orderdomain.ErrStatusConflict) {
				return paymentdomain.NewValidationError(paymentdomain.ErrOrderNotPending, "order %s changed concurrently", order.MerchantUID)
			}
			return err
		}

		purchase := purchasedomain.Purchase{
			ID:             c.genID.Generate(),
			OrderID:        order.ID,
			PaymentID:      payment.ID,
			MerchantUID:    order.MerchantUID,
			BuyerID:        order.BuyerID,
			SellerID:       order.SellerID,
			ContentID:      order.ContentID,
			OptionID:       order.OptionID,
			ContentTitle:   order.ContentTitle,
			OptionName:     order.OptionName,
			ContentType:    string(order.ContentType),
			OriginalPrice:  order.OriginalPrice,
			DiscountAmount: order.DiscountAmount,
			Price:          order.FinalPrice,
			PurchasedAt:    now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := c.purchaseRepo.Insert(ctx, tx, &purchase); err != nil {
			return err
		}

		result = paymentdomain.CompletionResult{
			OrderID:     order.ID,
			MerchantUID: order.MerchantUID,
			PaymentID:   payment.ID,
			PurchaseID:  purchase.ID,
			BuyerID:     order.BuyerID,
			SellerID:    order.SellerID,
			Amount:      payment.Amount,
			Goods:       order.Goods(),
			Method:      method,
		}

		completed := result
		txn.AfterCommit(ctx, func(ctx context.Context) {
			c.notify(ctx, completed.BuyerID, notification.EventPaymentCompleted, map[string]any{
				"merchant_uid": completed.MerchantUID,
				"amount":       completed.Amount,
				"goods":        completed.Goods,
			})
			c.notify(ctx, completed.SellerID, notification.EventNewSale, map[string]any{
				"merchant_uid": completed.MerchantUID,
				"purchase_id":  completed.PurchaseID.String(),
				"amount":       completed.Amount,
			})
		})
		return nil
	})
	if err != nil {
		return paymentdomain.CompletionResult{}, err
	}

	c.log.Info("payment completed",
		zap.String("merchant_uid", result.MerchantUID),
		zap.String("payment_id", result.PaymentID.String()),
		zap.String("purchase_id", result.PurchaseID.String()),
		zap.Int64("amount", result.Amount),
	)
	return result, nil
}

// HandleApprovalFailure moves a pending order to FAILED. Calling it twice for
// the same order fails the second time.
func (c *Coordinator) HandleApprovalFailure(ctx context.Context, orderID snowflake.ID, code, message string) error {
	reason := FailureReason(code, message)

	return c.txn.Do(ctx, func(ctx context.Context, tx *gorm.DB) error {
		order, err := c.orderRepo.FindByID(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return paymentdomain.NewValidationError(paymentdomain.ErrOrderNotFound, "order %s", orderID)
		}
		if err := order.MarkFailed(reason, c.clock.Now()); err != nil {
			return paymentdomain.NewValidationError(paymentdomain.ErrOrderNotPending, "order %s is %s", order.MerchantUID, order.Status)
		}
		if err := c.orderRepo.UpdateStatus(ctx, tx, order, orderdomain.StatusPending); err != nil {
			if errors.Is(err, orderdomain.ErrStatusConflict) {
				return paymentdomain.NewValidationError(paymentdomain.ErrOrderNotPending, "order %s changed concurrently", order.MerchantUID)
			}
			return err
		}

		c.log.Warn("payment approval failed",
			zap.String("merchant_uid", order.MerchantUID),
			zap.String("code", code),
			zap.String("message", message),
		)

		buyerID, merchantUID := order.BuyerID, order.MerchantUID
		txn.AfterCommit(ctx, func(ctx context.Context) {
			c.notify(ctx, buyerID, notification.EventPaymentFailed, map[string]any{
				"merchant_uid": merchantUID,
				"reason":       reason,
			})
		})
		return nil
	})
}

// ValidateCancellation checks ownership and moves a paid order into
// CANCEL_REQUEST. It returns what the refund call needs.
func (c *Coordinator) ValidateCancellation(ctx context.Context, userID snowflake.ID, merchantUID, reason string) (paymentdomain.CancelInfo, error) {
	merchantUID = strings.TrimSpace(merchantUID)
	reason = strings.TrimSpace(reason)
	var info paymentdomain.CancelInfo

	err := c.txn.Do(ctx, func(ctx context.Context, tx *gorm.DB) error {
		order, err := c.loadOwnedOrder(ctx, tx, userID, merchantUID)
		if err != nil {
			return err
		}

		from := order.Status
		if err := order.RequestCancel(reason, c.clock.Now()); err != nil {
			return paymentdomain.NewValidationError(paymentdomain.ErrOrderNotCancellable, "order %s is %s", merchantUID, from)
		}

		payment, err := c.repo.FindPaymentByOrderID(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if payment == nil || payment.Cancelled {
			return paymentdomain.NewValidationError(paymentdomain.ErrPaymentNotFound, "order %s has no active payment", merchantUID)
		}
		purchase, err := c.purchaseRepo.FindByOrderID(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if purchase == nil {
			return paymentdomain.NewValidationError(paymentdomain.ErrPurchaseNotFound, "order %s", merchantUID)
		}
		snapshot, err := c.repo.FindSnapshotByID(ctx, tx, payment.SnapshotID)
		if err != nil {
			return err
		}
		payDate := payment.PaidAt.Format("20060102")
		if snapshot != nil && snapshot.PayDate() != "" {
			payDate = snapshot.PayDate()
		}

		if err := c.orderRepo.UpdateStatus(ctx, tx, order, from); err != nil {
			if errors.Is(err, orderdomain.ErrStatusConflict) {
				return paymentdomain.NewValidationError(paymentdomain.ErrOrderNotCancellable, "order %s changed concurrently", merchantUID)
			}
			return err
		}

		info = paymentdomain.CancelInfo{
			OrderID:     order.ID,
			MerchantUID: order.MerchantUID,
			PaymentID:   payment.ID,
			PurchaseID:  purchase.ID,
			UserID:      userID,
			SellerID:    order.SellerID,
			Amount:      payment.Amount,
			PayDate:     payDate,
			Reason:      reason,
		}
		return nil
	})
	if err != nil {
		return paymentdomain.CancelInfo{}, err
	}
	return info, nil
}

// CompleteCancel records a successful refund: order CANCELLED, payment and
// purchase cancelled.
func (c *Coordinator) CompleteCancel(ctx context.Context, info paymentdomain.CancelInfo, refund *gatewaydomain.RefundResult, reason string) (paymentdomain.CancelResult, error) {
	refundAmount := info.Amount
	if refund != nil && refund.RefundTotal != "" {
		if d, err := money.Parse(refund.RefundTotal); err == nil {
			refundAmount = money.RoundUnit(d)
		}
	}
	if strings.TrimSpace(reason) == "" {
		reason = info.Reason
	}

	err := c.txn.Do(ctx, func(ctx context.Context, tx *gorm.DB) error {
		order, err := c.orderRepo.FindByID(ctx, tx, info.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return paymentdomain.NewValidationError(paymentdomain.ErrOrderNotFound, "order %s", info.MerchantUID)
		}

		now := c.clock.Now()
		if err := order.MarkCancelled(reason, now); err != nil {
			return paymentdomain.NewValidationError(paymentdomain.ErrOrderNotCancellable, "order %s is %s", order.MerchantUID, order.Status)
		}
		if err := c.orderRepo.UpdateStatus(ctx, tx, order, orderdomain.StatusCancelRequest); err != nil {
			if errors.Is(err, orderdomain.ErrStatusConflict) {
				return paymentdomain.NewValidationError(paymentdomain.ErrOrderNotCancellable, "order %s changed concurrently", order.MerchantUID)
			}
			return err
		}

		changed, err := c.repo.MarkPaymentCancelled(ctx, tx, info.PaymentID, refundAmount, reason, now)
		if err != nil {
			return err
		}
		if !changed {
			return paymentdomain.NewValidationError(paymentdomain.ErrPaymentNotFound, "payment %s already cancelled", info.PaymentID)
		}
		if _, err := c.purchaseRepo.MarkCancelled(ctx, tx, info.PurchaseID, now); err != nil {
			return err
		}

		buyerID, sellerID, merchantUID := order.BuyerID, order.SellerID, order.MerchantUID
		txn.AfterCommit(ctx, func(ctx context.Context) {
			c.notify(ctx, buyerID, notification.EventPaymentCancelled, map[string]any{
				"merchant_uid":  merchantUID,
				"refund_amount": refundAmount,
			})
			c.notify(ctx, sellerID, notification.EventSaleCancelled, map[string]any{
				"merchant_uid": merchantUID,
				"purchase_id":  info.PurchaseID.String(),
			})
		})
		return nil
	})
	if err != nil {
		return paymentdomain.CancelResult{}, err
	}

	c.log.Info("payment cancelled",
		zap.String("merchant_uid", info.MerchantUID),
		zap.Int64("refund_amount", refundAmount),
	)
	return paymentdomain.CancelResult{
		OrderID:      info.OrderID,
		MerchantUID:  info.MerchantUID,
		PaymentID:    info.PaymentID,
		PurchaseID:   info.PurchaseID,
		RefundAmount: refundAmount,
	}, nil
}

// RecordRefundFailure keeps the order in CANCEL_REQUEST and stores the
// gateway's reason so the refund can be retried or handled manually.
func (c *Coordinator) RecordRefundFailure(ctx context.Context, orderID snowflake.ID, code, message string) error {
	return c.txn.Do(ctx, func(ctx context.Context, tx *gorm.DB) error {
		order, err := c.orderRepo.FindByID(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return paymentdomain.NewValidationError(paymentdomain.ErrOrderNotFound, "order %s", orderID)
		}
		if err := order.RecordRefundRejection(FailureReason(code, message), c.clock.Now()); err != nil {
			return paymentdomain.NewValidationError(paymentdomain.ErrOrderNotCancellable, "order %s is %s", order.MerchantUID, order.Status)
		}
		return c.orderRepo.UpdateStatus(ctx, tx, order, orderdomain.StatusCancelRequest)
	})
}

func (c *Coordinator) loadOwnedOrder(ctx context.Context, tx *gorm.DB, userID snowflake.ID, merchantUID string) (*orderdomain.Order, error) {
	if merchantUID == "" {
		return nil, paymentdomain.NewValidationError(paymentdomain.ErrOrderNotFound, "merchant uid is empty")
	}
	order, err := c.orderRepo.FindByMerchantUID(ctx, tx, merchantUID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, paymentdomain.NewValidationError(paymentdomain.ErrOrderNotFound, "order %s", merchantUID)
	}
	if !order.OwnedBy(userID) {
		return nil, paymentdomain.NewValidationError(paymentdomain.ErrNotOrderOwner, "order %s", merchantUID)
	}
	return order, nil
}

func (c *Coordinator) notify(ctx context.Context, userID snowflake.ID, eventType notification.EventType, payload map[string]any) {
	if c.notifier == nil {
		return
	}
	c.notifier.Dispatch(ctx, userID, eventType, payload)
}

// FailureReason formats a gateway code and message for storage on the order.
func FailureReason(code, message string) string {
	code = strings.TrimSpace(code)
	message = strings.TrimSpace(message)
	switch {
	case code == "" && message == "":
		return "payment approval failed"
	case code == "":
		return message
	case message == "":
		return fmt.Sprintf("[%s]", code)
	}
	return fmt.Sprintf("[%s] %s", code, message)
}

func applyApproval(s *paymentdomain.GatewayAuthSnapshot, approval *gatewaydomain.ApprovalResult, at time.Time) {
	s.Status = paymentdomain.SnapshotStatusApproved
	s.ApprovalResult = approval.Result
	s.ApprovalCode = approval.Code
	s.ApprovalMessage = approval.Message
	s.PayTime = approval.PayTime
	s.CardName = approval.CardName
	s.CardNumberMasked = approval.CardNumberMasked
	s.CardTradeNum = approval.CardTradeNum
	s.CardAuthNo = approval.CardAuthNo
	s.ReceiptURL = approval.ReceiptURL
	if len(approval.Raw) > 0 {
		if raw, err := json.Marshal(approval.Raw); err == nil {
			s.ApprovalPayload = datatypes.JSON(raw)
		}
	}
	s.ApprovedAt = &at
	s.UpdatedAt = at
}

// redactedAuthPayload keeps the relayed authorization for audit without the
// short-lived auth key.
func redactedAuthPayload(auth gatewaydomain.AuthResult) datatypes.JSON {
	auth.AuthKey = ""
	raw, err := json.Marshal(auth)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
