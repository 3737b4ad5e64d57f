package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentmarket/internal/billingkey/domain"
	"github.com/smallbiznis/contentmarket/internal/clock"
	"github.com/smallbiznis/contentmarket/internal/config"
	gatewaydomain "github.com/smallbiznis/contentmarket/internal/gateway/domain"
	"github.com/smallbiznis/contentmarket/internal/notification"
	orderdomain "github.com/smallbiznis/contentmarket/internal/order/domain"
	paymentdomain "github.com/smallbiznis/contentmarket/internal/payment/domain"
	paymentservice "github.com/smallbiznis/contentmarket/internal/payment/service"
	"github.com/smallbiznis/contentmarket/pkg/db/txn"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg       config.Config
	Txn       *txn.Manager
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	OrderRepo orderdomain.Repository
	Processor *paymentservice.Processor
	Gateway   gatewaydomain.Client
	Notifier  notification.Dispatcher `optional:"true"`
}

type Service struct {
	txn       *txn.Manager
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	orderRepo orderdomain.Repository
	processor *paymentservice.Processor
	gateway   gatewaydomain.Client
	notifier  notification.Dispatcher
	sealer    *Sealer
}

func New(p Params) (*Service, error) {
	sealer, err := NewSealer(p.Cfg.BillingKeySecret)
	if err != nil {
		return nil, err
	}
	log := p.Log.Named("billingkey.service")
	if sealer == nil {
		log.Warn("billing key secret not configured, registration disabled")
	}
	return &Service{
		txn:       p.Txn,
		log:       log,
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		orderRepo: p.OrderRepo,
		processor: p.Processor,
		gateway:   p.Gateway,
		notifier:  p.Notifier,
		sealer:    sealer,
	}, nil
}

// Register stores a new billing key as the user's active key. Any key that
// was active before is deactivated in the same transaction.
func (s *Service) Register(ctx context.Context, userID snowflake.ID, req domain.RegisterRequest) (domain.BillingKey, error) {
	if userID == 0 {
		return domain.BillingKey{}, domain.ErrInvalidUser
	}
	secret := strings.TrimSpace(req.BillingKey)
	if secret == "" {
		return domain.BillingKey{}, domain.ErrInvalidKey
	}
	encrypted, err := s.sealer.Seal(secret, associatedData(userID))
	if err != nil {
		return domain.BillingKey{}, err
	}

	now := s.clock.Now()
	key := domain.BillingKey{
		ID:               s.genID.Generate(),
		UserID:           userID,
		Status:           domain.StatusActive,
		EncryptedKey:     encrypted,
		KeyHint:          hint(secret),
		CardName:         strings.TrimSpace(req.CardName),
		CardNumberMasked: strings.TrimSpace(req.CardNumberMasked),
		PayerName:        strings.TrimSpace(req.PayerName),
		PayerPhone:       strings.TrimSpace(req.PayerPhone),
		PayerEmail:       strings.TrimSpace(req.PayerEmail),
		ActivatedAt:      now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.txn.Do(ctx, func(ctx context.Context, tx *gorm.DB) error {
		replaced, err := s.repo.DeactivateAll(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, tx, &key); err != nil {
			return err
		}
		if replaced > 0 {
			s.log.Info("previous billing key deactivated", zap.String("user_id", userID.String()), zap.Int64("count", replaced))
		}
		txn.AfterCommit(ctx, func(ctx context.Context) {
			if s.notifier != nil {
				s.notifier.Dispatch(ctx, userID, notification.EventBillingKeyIssued, map[string]any{
					"card_name": key.CardName,
					"key_hint":  key.KeyHint,
				})
			}
		})
		return nil
	})
	if err != nil {
		return domain.BillingKey{}, err
	}
	return key, nil
}

func (s *Service) Active(ctx context.Context, userID snowflake.ID) (domain.BillingKey, error) {
	key, err := s.repo.FindActive(ctx, s.txn.DB(), userID)
	if err != nil {
		return domain.BillingKey{}, err
	}
	if key == nil {
		return domain.BillingKey{}, domain.ErrNoActiveKey
	}
	return *key, nil
}

func (s *Service) Deactivate(ctx context.Context, userID, keyID snowflake.ID) error {
	changed, err := s.repo.Deactivate(ctx, s.txn.DB(), userID, keyID, s.clock.Now())
	if err != nil {
		return err
	}
	if !changed {
		return domain.ErrNotFound
	}
	return nil
}

// ChargeWithBillingKey pays a pending order with the user's active billing
// key. The stored credential stands in for interactive authentication and the
// gateway's non-interactive charge replaces the approval call.
func (s *Service) ChargeWithBillingKey(ctx context.Context, userID snowflake.ID, merchantUID string) (paymentdomain.CompletionResult, error) {
	merchantUID = strings.TrimSpace(merchantUID)
	order, err := s.orderRepo.FindByMerchantUID(ctx, s.txn.DB(), merchantUID)
	if err != nil {
		return paymentdomain.CompletionResult{}, err
	}
	if order == nil {
		return paymentdomain.CompletionResult{}, paymentdomain.NewValidationError(paymentdomain.ErrOrderNotFound, "order %s", merchantUID)
	}
	if !order.OwnedBy(userID) {
		return paymentdomain.CompletionResult{}, paymentdomain.NewValidationError(paymentdomain.ErrNotOrderOwner, "order %s", merchantUID)
	}

	key, err := s.Active(ctx, userID)
	if err != nil {
		return paymentdomain.CompletionResult{}, err
	}
	payerID, err := s.sealer.Open(key.EncryptedKey, associatedData(userID))
	if err != nil {
		return paymentdomain.CompletionResult{}, err
	}

	auth := gatewaydomain.AuthResult{
		PayRst:     "success",
		PayType:    "card",
		PayWork:    string(gatewaydomain.WorkTypePay),
		PayOID:     order.MerchantUID,
		PayerID:    payerID,
		PayerName:  key.PayerName,
		PayerHP:    key.PayerPhone,
		PayerEmail: key.PayerEmail,
		PayGoods:   order.Goods(),
		PayTotal:   strconv.FormatInt(order.FinalPrice, 10),
		PayIsTax:   "Y",
		SimpleFlag: "Y",
	}
	req := gatewaydomain.BillingKeyPaymentRequest{
		PayerID:    payerID,
		OrderID:    order.MerchantUID,
		Goods:      order.Goods(),
		Total:      order.FinalPrice,
		IsTax:      true,
		PayerName:  key.PayerName,
		PayerPhone: key.PayerPhone,
		PayerEmail: key.PayerEmail,
	}

	result, err := s.processor.ConfirmWith(ctx, userID, auth, paymentservice.FlowBillingKey,
		func(ctx context.Context) (*gatewaydomain.ApprovalResult, error) {
			return s.gateway.RequestSimplePayment(ctx, req)
		})
	if err != nil {
		return paymentdomain.CompletionResult{}, err
	}

	s.log.Info("billing key charge completed",
		zap.String("merchant_uid", result.MerchantUID),
		zap.String("billing_key_id", key.ID.String()),
		zap.Int64("amount", result.Amount),
	)
	return result, nil
}

func associatedData(userID snowflake.ID) []byte {
	return []byte("billing-key:" + userID.String())
}

func hint(secret string) string {
	if len(secret) <= 4 {
		return ""
	}
	return secret[len(secret)-4:]
}
