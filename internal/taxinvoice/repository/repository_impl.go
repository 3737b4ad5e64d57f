package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentmarket/internal/taxinvoice/domain"
	"github.com/smallbiznis/contentmarket/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, invoice *domain.TaxInvoice) error {
	err := tx.WithContext(ctx).Create(invoice).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrAlreadyIssued
	}
	return err
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.TaxInvoice, error) {
	var invoice domain.TaxInvoice
	err := tx.WithContext(ctx).Where("id = ?", id).Take(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) FindIssuedByKey(ctx context.Context, tx *gorm.DB, key string) (*domain.TaxInvoice, error) {
	var invoice domain.TaxInvoice
	err := tx.WithContext(ctx).Where("issued_key = ?", key).Take(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) CountIssuedTransactions(ctx context.Context, tx *gorm.DB, settlementID snowflake.ID) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&domain.TaxInvoice{}).
		Where("settlement_id = ? AND kind = ? AND status = ?", settlementID, domain.KindTransaction, domain.StatusIssued).
		Count(&count).Error
	return count, err
}

func (r *repo) MarkCancelled(ctx context.Context, tx *gorm.DB, invoice *domain.TaxInvoice) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE tax_invoices
		 SET status = ?, issued_key = NULL, cancel_reason = ?, cancelled_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		invoice.Status,
		invoice.CancelReason,
		invoice.CancelledAt,
		invoice.UpdatedAt,
		invoice.ID,
		domain.StatusIssued,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindGuard(ctx context.Context, tx *gorm.DB, settlementID snowflake.ID) (*domain.IssueGuard, error) {
	var guard domain.IssueGuard
	err := tx.WithContext(ctx).Where("settlement_id = ?", settlementID).Take(&guard).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &guard, nil
}

func (r *repo) InsertGuard(ctx context.Context, tx *gorm.DB, guard *domain.IssueGuard) error {
	err := tx.WithContext(ctx).Create(guard).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrIssueConflict
	}
	return err
}

func (r *repo) BumpGuard(ctx context.Context, tx *gorm.DB, guard *domain.IssueGuard, at time.Time) error {
	res := tx.WithContext(ctx).
		Model(&domain.IssueGuard{}).
		Where("settlement_id = ? AND version = ?", guard.SettlementID, guard.Version).
		Updates(map[string]any{
			"version":    guard.Version + 1,
			"updated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrIssueConflict
	}
	guard.Version++
	guard.UpdatedAt = at
	return nil
}
