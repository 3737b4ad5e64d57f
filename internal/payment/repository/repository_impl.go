package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentmarket/internal/payment/domain"
	"github.com/smallbiznis/contentmarket/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertSnapshot(ctx context.Context, tx *gorm.DB, snapshot *domain.GatewayAuthSnapshot) error {
	return tx.WithContext(ctx).Create(snapshot).Error
}

func (r *repo) FindSnapshotByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.GatewayAuthSnapshot, error) {
	var snapshot domain.GatewayAuthSnapshot
	err := tx.WithContext(ctx).Where("id = ?", id).Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (r *repo) UpdateSnapshotApproval(ctx context.Context, tx *gorm.DB, s *domain.GatewayAuthSnapshot) error {
	res := tx.WithContext(ctx).Exec(
		`UPDATE gateway_auth_snapshots
		 SET status = ?, approval_result = ?, approval_code = ?, approval_message = ?, pay_time = ?,
			card_name = ?, card_number_masked = ?, card_trade_num = ?, card_auth_no = ?, receipt_url = ?,
			approval_payload = ?, approved_at = ?, updated_at = ?
		 WHERE id = ? AND approved_at IS NULL`,
		s.Status,
		s.ApprovalResult,
		s.ApprovalCode,
		s.ApprovalMessage,
		s.PayTime,
		s.CardName,
		s.CardNumberMasked,
		s.CardTradeNum,
		s.CardAuthNo,
		s.ReceiptURL,
		s.ApprovalPayload,
		s.ApprovedAt,
		s.UpdatedAt,
		s.ID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrSnapshotAlreadyApproved
	}
	return nil
}

func (r *repo) InsertPayment(ctx context.Context, tx *gorm.DB, payment *domain.Payment) error {
	err := tx.WithContext(ctx).Create(payment).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrPaymentAlreadyExists
	}
	return err
}

func (r *repo) FindPaymentByOrderID(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := tx.WithContext(ctx).Where("order_id = ?", orderID).Take(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repo) MarkPaymentCancelled(ctx context.Context, tx *gorm.DB, id snowflake.ID, refundAmount int64, reason string, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE payments
		 SET cancelled = ?, refund_amount = ?, cancel_reason = ?, cancelled_at = ?, updated_at = ?
		 WHERE id = ? AND cancelled = ?`,
		true,
		refundAmount,
		reason,
		at,
		at,
		id,
		false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertWebhookEvent(ctx context.Context, tx *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
