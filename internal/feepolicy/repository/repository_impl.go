package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentmarket/internal/feepolicy/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, policy *domain.FeePolicy) error {
	return db.WithContext(ctx).Create(policy).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.FeePolicy, error) {
	var policy domain.FeePolicy
	err := db.WithContext(ctx).Where("id = ?", id).Take(&policy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

func (r *repo) FindEffective(ctx context.Context, db *gorm.DB, scope domain.ScopeType, ref snowflake.ID, at time.Time) (*domain.FeePolicy, error) {
	var policy domain.FeePolicy
	err := db.WithContext(ctx).
		Where("scope_type = ? AND scope_ref = ? AND active = ?", scope, ref, true).
		Where("effective_from <= ?", at).
		Where("effective_to IS NULL OR effective_to > ?", at).
		Order("effective_from DESC").
		Order("id DESC").
		Take(&policy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE fee_policies SET active = ?, updated_at = ? WHERE id = ? AND active = ?`,
		false, at, id, true,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
