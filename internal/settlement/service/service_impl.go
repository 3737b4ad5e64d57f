package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/contentmarket/internal/clock"
	feepolicydomain "github.com/smallbiznis/contentmarket/internal/feepolicy/domain"
	gatewaydomain "github.com/smallbiznis/contentmarket/internal/gateway/domain"
	"github.com/smallbiznis/contentmarket/internal/observability/metrics"
	purchasedomain "github.com/smallbiznis/contentmarket/internal/purchase/domain"
	"github.com/smallbiznis/contentmarket/internal/settlement/domain"
	"github.com/smallbiznis/contentmarket/pkg/db/txn"
	"github.com/smallbiznis/contentmarket/pkg/retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSyncBatch = 100

const (
	triggerPurchase     = "purchase"
	triggerRefund       = "refund"
	triggerCancelRefund = "cancel_refund"
	triggerFeePolicy    = "fee_policy"
)

// DefaultConflictPolicy bounds how often a read-modify-write is replayed
// after losing an optimistic version race.
func DefaultConflictPolicy() retry.Policy {
	return retry.Exponential(5, 20*time.Millisecond, 2)
}

type Params struct {
	fx.In

	Txn            *txn.Manager
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Repo           domain.Repository
	PurchaseRepo   purchasedomain.Repository
	FeePolicies    feepolicydomain.Service
	Gateway        gatewaydomain.Client
	Metrics        *metrics.Metrics `optional:"true"`
	ConflictPolicy *retry.Policy    `optional:"true"`
	Location       *time.Location   `name:"settlement_location" optional:"true"`
}

type Service struct {
	txn          *txn.Manager
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	purchaseRepo purchasedomain.Repository
	feePolicies  feepolicydomain.Service
	gateway      gatewaydomain.Client
	metrics      *metrics.Metrics
	conflict     retry.Policy
	location     *time.Location
	validate     *validator.Validate
}

func New(p Params) *Service {
	policy := DefaultConflictPolicy()
	if p.ConflictPolicy != nil {
		policy = *p.ConflictPolicy
	}
	location := p.Location
	if location == nil {
		location = time.UTC
	}
	return &Service{
		txn:          p.Txn,
		log:          p.Log.Named("settlement.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		purchaseRepo: p.PurchaseRepo,
		feePolicies:  p.FeePolicies,
		gateway:      p.Gateway,
		metrics:      p.Metrics,
		conflict:     policy,
		location:     location,
		validate:     validator.New(),
	}
}

// RecordPurchase adds the purchase to its seller's settlement for the month
// it was paid in. Recording the same purchase twice is a no-op. A month whose
// settlement is already COMPLETED or CANCELLED rejects it with ErrTerminal.
func (s *Service) RecordPurchase(ctx context.Context, purchaseID snowflake.ID) error {
	purchase, err := s.purchaseRepo.FindByID(ctx, s.txn.DB(), purchaseID)
	if err != nil {
		return err
	}
	if purchase == nil {
		return domain.ErrPurchaseNotFound
	}
	if purchase.Cancelled() {
		return domain.ErrPurchaseCancelled
	}

	policy, err := s.feePolicies.ResolveSnapshot(ctx, purchase.SellerID, purchase.PurchasedAt)
	if err != nil {
		return err
	}
	periodStart, periodEnd := domain.MonthPeriod(purchase.PurchasedAt, s.location)
	src := domain.ItemSource{
		PurchaseID:   purchase.ID,
		OrderID:      purchase.OrderID,
		SellerID:     purchase.SellerID,
		BuyerID:      purchase.BuyerID,
		ContentTitle: purchase.ContentTitle,
		Price:        purchase.Price,
		PurchasedAt:  purchase.PurchasedAt,
	}

	var recorded *domain.SettlementItem
	err = s.withConflictRetry(ctx, triggerPurchase, func(ctx context.Context) error {
		recorded = nil
		return s.txn.Do(ctx, func(ctx context.Context, tx *gorm.DB) error {
			existing, err := s.repo.FindItemByPurchaseID(ctx, tx, purchase.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				return nil
			}

			now := s.clock.Now()
			settlement, err := s.repo.FindSettlementForPeriod(ctx, tx, purchase.SellerID, periodStart)
			if err != nil {
				return err
			}
			if settlement == nil {
				opened := domain.NewSettlement(s.genID.Generate(), purchase.SellerID, periodStart, periodEnd, now)
				if err := s.repo.InsertSettlement(ctx, tx, &opened); err != nil {
					return err
				}
				settlement = &opened
			}
			if err := settlement.EnsureMutable(); err != nil {
				return fmt.Errorf("settlement %s: %w", settlement.ID, err)
			}

			item := domain.NewItem(s.genID.Generate(), settlement.ID, src, policy, now)
			if err := s.repo.InsertItem(ctx, tx, &item); err != nil {
				return err
			}
			if err := s.recalc(ctx, tx, settlement, now); err != nil {
				return err
			}
			recorded = &item
			return nil
		})
	})
	if errors.Is(err, domain.ErrItemExists) {
		return nil
	}
	if err != nil {
		return err
	}
	if recorded != nil {
		s.metrics.RecordSettlementRecalc(triggerPurchase)
		s.log.Info("purchase recorded for settlement",
			zap.String("purchase_id", purchase.ID.String()),
			zap.String("settlement_id", recorded.SettlementID.String()),
			zap.Int64("sales_amount", recorded.SalesAmount),
			zap.Int64("settlement_amount", recorded.SettlementAmount),
			zap.String("fee_source", string(policy.Source)),
		)
	}
	return nil
}

// RefundPurchase takes a refunded purchase out of its settlement. Purchases
// that never reached a settlement are ignored.
func (s *Service) RefundPurchase(ctx context.Context, purchaseID snowflake.ID) error {
	return s.mutateItem(ctx, purchaseID, triggerRefund, func(item *domain.SettlementItem, now time.Time) error {
		return item.ProcessRefund(now)
	})
}

// CancelRefund puts a previously refunded purchase back into its settlement.
func (s *Service) CancelRefund(ctx context.Context, purchaseID snowflake.ID) error {
	return s.mutateItem(ctx, purchaseID, triggerCancelRefund, func(item *domain.SettlementItem, now time.Time) error {
		return item.CancelRefund(now)
	})
}

func (s *Service) mutateItem(ctx context.Context, purchaseID snowflake.ID, trigger string, mutate func(*domain.SettlementItem, time.Time) error) error {
	missing := false
	err := s.withConflictRetry(ctx, trigger, func(ctx context.Context) error {
		missing = false
		return s.txn.Do(ctx, func(ctx context.Context, tx *gorm.DB) error {
			item, err := s.repo.FindItemByPurchaseID(ctx, tx, purchaseID)
			if err != nil {
				return err
			}
			if item == nil {
				missing = true
				return nil
			}
			settlement, err := s.loadSettlement(ctx, tx, item.SettlementID)
			if err != nil {
				return err
			}
			if err := settlement.EnsureMutable(); err != nil {
				return fmt.Errorf("settlement %s: %w", settlement.ID, err)
			}

			now := s.clock.Now()
			if err := mutate(item, now); err != nil {
				return fmt.Errorf("settlement item %s: %w", item.ID, err)
			}
			if err := s.repo.UpdateItem(ctx, tx, item); err != nil {
				return err
			}
			return s.recalc(ctx, tx, settlement, now)
		})
	})
	if err != nil {
		return err
	}
	if missing {
		s.log.Info("purchase has no settlement item", zap.String("purchase_id", purchaseID.String()), zap.String("trigger", trigger))
		return nil
	}
	s.metrics.RecordSettlementRecalc(trigger)
	return nil
}

// ApplyFeePolicy recomputes every non-refunded item of a settlement with the
// rates of another policy. Refunded items keep their historical breakdown.
func (s *Service) ApplyFeePolicy(ctx context.Context, settlementID, policyID snowflake.ID) (domain.Settlement, error) {
	policy, snapshot, err := s.feePolicies.SnapshotOf(ctx, policyID)
	if err != nil {
		return domain.Settlement{}, err
	}

	var result domain.Settlement
	err = s.withConflictRetry(ctx, triggerFeePolicy, func(ctx context.Context) error {
		return s.txn.Do(ctx, func(ctx context.Context, tx *gorm.DB) error {
			settlement, err := s.loadSettlement(ctx, tx, settlementID)
			if err != nil {
				return err
			}
			if policy.ScopeType == feepolicydomain.ScopeSeller && policy.ScopeRef != settlement.SellerID {
				return domain.ErrPolicyScopeMismatch
			}
			if err := settlement.EnsureMutable(); err != nil {
				return err
			}

			items, err := s.repo.ListItems(ctx, tx, settlement.ID)
			if err != nil {
				return err
			}
			now := s.clock.Now()
			for i := range items {
				if items[i].IsRefunded {
					continue
				}
				if err := items[i].RecalculateWithNewFeeRates(snapshot, now); err != nil {
					return err
				}
				if err := s.repo.UpdateItem(ctx, tx, &items[i]); err != nil {
					return err
				}
			}
			settlement.RecalcFromItems(items, now)
			if err := s.repo.UpdateSettlement(ctx, tx, settlement); err != nil {
				return err
			}
			result = *settlement
			return nil
		})
	})
	if err != nil {
		return domain.Settlement{}, err
	}
	s.metrics.RecordSettlementRecalc(triggerFeePolicy)
	s.log.Info("fee policy applied to settlement",
		zap.String("settlement_id", settlementID.String()),
		zap.String("policy_id", policyID.String()),
		zap.String("settlement_amount", result.SettlementAmount.StringFixed(2)),
	)
	return result, nil
}

// UpdateBankAccount verifies the payout account with the gateway before
// storing it. The gateway call happens outside the transaction.
func (s *Service) UpdateBankAccount(ctx context.Context, settlementID snowflake.ID, account domain.BankAccount) (domain.Settlement, error) {
	account.BankName = strings.TrimSpace(account.BankName)
	account.BankCode = strings.TrimSpace(account.BankCode)
	account.AccountNumber = strings.ReplaceAll(strings.TrimSpace(account.AccountNumber), "-", "")
	account.HolderName = strings.TrimSpace(account.HolderName)
	if err := s.validate.StructCtx(ctx, account); err != nil {
		return domain.Settlement{}, fmt.Errorf("%w: %s", domain.ErrInvalidBankAccount, err.Error())
	}

	current, err := s.Get(ctx, settlementID)
	if err != nil {
		return domain.Settlement{}, err
	}
	if err := current.EnsureMutable(); err != nil {
		return domain.Settlement{}, err
	}

	verification, err := s.gateway.VerifySettlementAccount(ctx, gatewaydomain.AccountVerificationRequest{
		Code:          settlementID.String(),
		BankCode:      account.BankCode,
		AccountNumber: account.AccountNumber,
		HolderName:    account.HolderName,
	})
	if err != nil {
		return domain.Settlement{}, err
	}
	if !verification.Success {
		return domain.Settlement{}, fmt.Errorf("%w: [%s] %s", domain.ErrBankAccountRejected, verification.Code, verification.Message)
	}
	if holder := strings.TrimSpace(verification.HolderName); holder != "" && !strings.EqualFold(holder, account.HolderName) {
		return domain.Settlement{}, fmt.Errorf("%w: holder name mismatch", domain.ErrBankAccountRejected)
	}

	verifiedAt := s.clock.Now()
	return s.transition(ctx, settlementID, "bank_account", func(st *domain.Settlement, now time.Time) error {
		return st.UpdateBankAccount(account, verifiedAt, now)
	})
}

func (s *Service) StartProcessing(ctx context.Context, settlementID snowflake.ID) (domain.Settlement, error) {
	return s.transition(ctx, settlementID, "start", func(st *domain.Settlement, now time.Time) error {
		return st.StartProcessing(now)
	})
}

func (s *Service) Complete(ctx context.Context, settlementID snowflake.ID) (domain.Settlement, error) {
	return s.transition(ctx, settlementID, "complete", func(st *domain.Settlement, now time.Time) error {
		return st.Complete(now)
	})
}

func (s *Service) Hold(ctx context.Context, settlementID snowflake.ID, reason string) (domain.Settlement, error) {
	return s.transition(ctx, settlementID, "hold", func(st *domain.Settlement, now time.Time) error {
		return st.Hold(reason, now)
	})
}

func (s *Service) Resume(ctx context.Context, settlementID snowflake.ID) (domain.Settlement, error) {
	return s.transition(ctx, settlementID, "resume", func(st *domain.Settlement, now time.Time) error {
		return st.Resume(now)
	})
}

func (s *Service) Cancel(ctx context.Context, settlementID snowflake.ID, reason string) (domain.Settlement, error) {
	return s.transition(ctx, settlementID, "cancel", func(st *domain.Settlement, now time.Time) error {
		return st.Cancel(reason, now)
	})
}

func (s *Service) transition(ctx context.Context, settlementID snowflake.ID, action string, apply func(*domain.Settlement, time.Time) error) (domain.Settlement, error) {
	var result domain.Settlement
	var from domain.Status
	err := s.withConflictRetry(ctx, action, func(ctx context.Context) error {
		return s.txn.Do(ctx, func(ctx context.Context, tx *gorm.DB) error {
			settlement, err := s.loadSettlement(ctx, tx, settlementID)
			if err != nil {
				return err
			}
			from = settlement.Status
			if err := apply(settlement, s.clock.Now()); err != nil {
				return err
			}
			if err := s.repo.UpdateSettlement(ctx, tx, settlement); err != nil {
				return err
			}
			result = *settlement
			return nil
		})
	})
	if err != nil {
		return domain.Settlement{}, err
	}
	s.log.Info("settlement updated",
		zap.String("settlement_id", settlementID.String()),
		zap.String("operation", action),
		zap.String("from", string(from)),
		zap.String("to", string(result.Status)),
	)
	return result, nil
}

func (s *Service) Get(ctx context.Context, settlementID snowflake.ID) (domain.Settlement, error) {
	settlement, err := s.loadSettlement(ctx, s.txn.DB(), settlementID)
	if err != nil {
		return domain.Settlement{}, err
	}
	return *settlement, nil
}

func (s *Service) GetItem(ctx context.Context, itemID snowflake.ID) (domain.SettlementItem, error) {
	item, err := s.repo.FindItemByID(ctx, s.txn.DB(), itemID)
	if err != nil {
		return domain.SettlementItem{}, err
	}
	if item == nil {
		return domain.SettlementItem{}, domain.ErrItemNotFound
	}
	return *item, nil
}

func (s *Service) ListItems(ctx context.Context, settlementID snowflake.ID) ([]domain.SettlementItem, error) {
	if _, err := s.loadSettlement(ctx, s.txn.DB(), settlementID); err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, s.txn.DB(), settlementID)
}

// syncMaxPages bounds how far one SyncPending call pages past candidates
// that fail to record.
const syncMaxPages = 10

func (s *Service) SyncPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSyncBatch
	}
	var after snowflake.ID
	recorded, failed := 0, 0
	for page := 0; page < syncMaxPages && recorded < limit; page++ {
		ids, err := s.repo.ListUnsettledPurchaseIDs(ctx, s.txn.DB(), after, limit)
		if err != nil {
			return recorded, err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return recorded, err
			}
			after = id
			if err := s.RecordPurchase(ctx, id); err != nil {
				failed++
				s.log.Warn("settlement backfill failed", zap.String("purchase_id", id.String()), zap.Error(err))
				continue
			}
			recorded++
			if recorded == limit {
				break
			}
		}
		if len(ids) < limit {
			break
		}
	}
	if recorded > 0 || failed > 0 {
		s.log.Info("settlement backfill finished", zap.Int("recorded", recorded), zap.Int("failed", failed))
	}

	closed, err := s.repo.CountClosedPeriodPurchases(ctx, s.txn.DB())
	if err != nil {
		return recorded, err
	}
	if closed > 0 {
		s.log.Warn("purchases paid in closed settlement periods need manual reconciliation", zap.Int64("purchases", closed))
	}
	return recorded, nil
}

func (s *Service) loadSettlement(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Settlement, error) {
	settlement, err := s.repo.FindSettlementByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if settlement == nil {
		return nil, domain.ErrNotFound
	}
	return settlement, nil
}

func (s *Service) recalc(ctx context.Context, tx *gorm.DB, settlement *domain.Settlement, now time.Time) error {
	items, err := s.repo.ListItems(ctx, tx, settlement.ID)
	if err != nil {
		return err
	}
	settlement.RecalcFromItems(items, now)
	return s.repo.UpdateSettlement(ctx, tx, settlement)
}

func (s *Service) withConflictRetry(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	policy := s.conflict.WithNotify(func(attempt uint, err error, next time.Duration) {
		s.metrics.RecordSettlementConflict()
		s.log.Debug("settlement write conflict, retrying",
			zap.String("operation", operation),
			zap.Uint("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})
	return retry.Run(ctx, policy, isConflict, op)
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrSettlementExists)
}
