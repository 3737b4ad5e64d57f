package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentmarket/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Create(order).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).Where("id = ?", id).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repo) FindByMerchantUID(ctx context.Context, db *gorm.DB, merchantUID string) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).Where("merchant_uid = ?", merchantUID).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, order *domain.Order, from domain.Status) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, failure_reason = ?, cancel_reason = ?, paid_at = ?, cancelled_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		order.Status,
		order.FailureReason,
		order.CancelReason,
		order.PaidAt,
		order.CancelledAt,
		order.UpdatedAt,
		order.ID,
		from,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrStatusConflict
	}
	return nil
}
