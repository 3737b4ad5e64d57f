package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentmarket/internal/billingkey/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *domain.BillingKey) error {
	return db.WithContext(ctx).Create(key).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.BillingKey, error) {
	var key domain.BillingKey
	err := db.WithContext(ctx).Where("id = ?", id).Take(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.BillingKey, error) {
	var key domain.BillingKey
	err := db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, domain.StatusActive).
		Order("activated_at desc, id desc").
		Take(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *repo) DeactivateAll(ctx context.Context, db *gorm.DB, userID snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_keys
		 SET status = ?, deactivated_at = ?, updated_at = ?
		 WHERE user_id = ? AND status = ?`,
		domain.StatusInactive,
		at,
		at,
		userID,
		domain.StatusActive,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_keys
		 SET status = ?, deactivated_at = ?, updated_at = ?
		 WHERE id = ? AND user_id = ? AND status = ?`,
		domain.StatusInactive,
		at,
		at,
		id,
		userID,
		domain.StatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
