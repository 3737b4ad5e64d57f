package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentmarket/internal/settlement/domain"
	"github.com/smallbiznis/contentmarket/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertSettlement(ctx context.Context, tx *gorm.DB, settlement *domain.Settlement) error {
	err := tx.WithContext(ctx).Create(settlement).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrSettlementExists
	}
	return err
}

func (r *repo) FindSettlementByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Settlement, error) {
	var settlement domain.Settlement
	err := tx.WithContext(ctx).Where("id = ?", id).Take(&settlement).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (r *repo) FindSettlementForPeriod(ctx context.Context, tx *gorm.DB, sellerID snowflake.ID, periodStart time.Time) (*domain.Settlement, error) {
	var settlement domain.Settlement
	err := tx.WithContext(ctx).
		Where("seller_id = ? AND period_start = ?", sellerID, periodStart).
		Take(&settlement).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (r *repo) UpdateSettlement(ctx context.Context, tx *gorm.DB, s *domain.Settlement) error {
	res := tx.WithContext(ctx).
		Model(&domain.Settlement{}).
		Where("id = ? AND version = ?", s.ID, s.Version).
		Updates(map[string]any{
			"status":                            s.Status,
			"total_sales_amount":                s.TotalSalesAmount,
			"total_platform_fee":                s.TotalPlatformFee,
			"total_gateway_fee":                 s.TotalGatewayFee,
			"total_fee_vat":                     s.TotalFeeVat,
			"total_fee":                         s.TotalFee,
			"total_forgone_fee":                 s.TotalForgoneFee,
			"total_gateway_fee_refund_expected": s.TotalGatewayFeeRefundExpected,
			"settlement_amount":                 s.SettlementAmount,
			"total_refund_amount":               s.TotalRefundAmount,
			"refund_count":                      s.RefundCount,
			"item_count":                        s.ItemCount,
			"bank_name":                         s.BankName,
			"bank_code":                         s.BankCode,
			"account_number":                    s.AccountNumber,
			"account_holder":                    s.AccountHolder,
			"bank_verified_at":                  s.BankVerifiedAt,
			"hold_reason":                       s.HoldReason,
			"cancel_reason":                     s.CancelReason,
			"started_at":                        s.StartedAt,
			"completed_at":                      s.CompletedAt,
			"cancelled_at":                      s.CancelledAt,
			"version":                           s.Version + 1,
			"updated_at":                        s.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	s.Version++
	return nil
}

func (r *repo) InsertItem(ctx context.Context, tx *gorm.DB, item *domain.SettlementItem) error {
	err := tx.WithContext(ctx).Create(item).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrItemExists
	}
	return err
}

func (r *repo) FindItemByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.SettlementItem, error) {
	var item domain.SettlementItem
	err := tx.WithContext(ctx).Where("id = ?", id).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindItemByPurchaseID(ctx context.Context, tx *gorm.DB, purchaseID snowflake.ID) (*domain.SettlementItem, error) {
	var item domain.SettlementItem
	err := tx.WithContext(ctx).Where("purchase_id = ?", purchaseID).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) ListItems(ctx context.Context, tx *gorm.DB, settlementID snowflake.ID) ([]domain.SettlementItem, error) {
	var items []domain.SettlementItem
	err := tx.WithContext(ctx).
		Where("settlement_id = ?", settlementID).
		Order("purchased_at ASC").
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateItem(ctx context.Context, tx *gorm.DB, item *domain.SettlementItem) error {
	res := tx.WithContext(ctx).
		Model(&domain.SettlementItem{}).
		Where("id = ? AND version = ?", item.ID, item.Version).
		Updates(map[string]any{
			"platform_fee":                item.PlatformFee,
			"platform_fee_display":        item.PlatformFeeDisplay,
			"platform_fee_baseline":       item.PlatformFeeBaseline,
			"platform_fee_forgone":        item.PlatformFeeForgone,
			"gateway_fee":                 item.GatewayFee,
			"gateway_fee_display":         item.GatewayFeeDisplay,
			"gateway_fee_baseline":        item.GatewayFeeBaseline,
			"gateway_fee_forgone":         item.GatewayFeeForgone,
			"fee_vat":                     item.FeeVat,
			"fee_vat_display":             item.FeeVatDisplay,
			"gateway_fee_refund_expected": item.GatewayFeeRefundExpected,
			"total_fee":                   item.TotalFee,
			"total_fee_display":           item.TotalFeeDisplay,
			"settlement_amount":           item.SettlementAmount,
			"settlement_amount_display":   item.SettlementAmountDisplay,
			"fee_policy":                  item.FeePolicy,
			"is_refunded":                 item.IsRefunded,
			"refunded_at":                 item.RefundedAt,
			"version":                     item.Version + 1,
			"updated_at":                  item.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	item.Version++
	return nil
}

func (r *repo) ListUnsettledPurchaseIDs(ctx context.Context, tx *gorm.DB, after snowflake.ID, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []snowflake.ID
	err := unsettledPurchases(ctx, tx).
		Where("NOT EXISTS (?)", closedPeriod(tx)).
		Where("p.id > ?", after).
		Order("p.id ASC").
		Limit(limit).
		Pluck("p.id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) CountClosedPeriodPurchases(ctx context.Context, tx *gorm.DB) (int64, error) {
	var count int64
	err := unsettledPurchases(ctx, tx).
		Where("EXISTS (?)", closedPeriod(tx)).
		Count(&count).Error
	return count, err
}

func unsettledPurchases(ctx context.Context, tx *gorm.DB) *gorm.DB {
	return tx.WithContext(ctx).
		Table("purchases AS p").
		Where("p.cancelled_at IS NULL").
		Where("NOT EXISTS (?)", tx.Session(&gorm.Session{NewDB: true}).
			Table("settlement_items AS si").
			Select("1").
			Where("si.purchase_id = p.id"))
}

// closedPeriod matches a terminal settlement of the purchase's seller whose
// period covers the purchase time.
func closedPeriod(tx *gorm.DB) *gorm.DB {
	return tx.Session(&gorm.Session{NewDB: true}).
		Table("settlements AS s").
		Select("1").
		Where("s.seller_id = p.seller_id").
		Where("s.period_start <= p.purchased_at AND s.period_end > p.purchased_at").
		Where("s.status IN ?", []string{string(domain.StatusCompleted), string(domain.StatusCancelled)})
}
