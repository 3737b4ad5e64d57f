package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("payment_validation_failed")
	ErrConsistencyViolation = errors.New("payment_consistency_violation")

	ErrOrderNotFound           = errors.New("order_not_found")
	ErrNotOrderOwner           = errors.New("order_not_owned_by_user")
	ErrOrderNotPending         = errors.New("order_not_pending")
	ErrOrderNotCancellable     = errors.New("order_not_cancellable")
	ErrAmountMismatch          = errors.New("amount_mismatch")
	ErrAuthNotSucceeded        = errors.New("gateway_auth_not_succeeded")
	ErrInProgress              = errors.New("payment_in_progress")
	ErrSnapshotNotFound        = errors.New("gateway_snapshot_not_found")
	ErrSnapshotAlreadyApproved = errors.New("gateway_snapshot_already_approved")
	ErrPaymentNotFound         = errors.New("payment_not_found")
	ErrPaymentAlreadyExists    = errors.New("payment_already_exists")
	ErrPurchaseNotFound        = errors.New("purchase_not_found")

	ErrPaymentFailed    = errors.New("payment_processing_failed")
	ErrApprovalRejected = errors.New("payment_approval_rejected")
	ErrRefundFailed     = errors.New("refund_processing_failed")
	ErrRefundRejected   = errors.New("refund_rejected")

	ErrInvalidSignature = errors.New("invalid_signature")
	ErrWebhookDisabled  = errors.New("webhook_secret_not_configured")
	ErrInvalidPayload   = errors.New("invalid_payload")
)

// ValidationError rejects a request before any external call or write.
type ValidationError struct {
	Cause  error
	Detail string
}

func NewValidationError(cause error, format string, args ...any) *ValidationError {
	return &ValidationError{Cause: cause, Detail: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Cause.Error()
	}
	return e.Cause.Error() + ": " + e.Detail
}

func (e *ValidationError) Unwrap() error { return e.Cause }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ConsistencyViolation means the gateway approved something other than what
// was requested. It is never tolerated.
type ConsistencyViolation struct {
	MerchantUID string
	Field       string
	Expected    string
	Actual      string
}

func (e *ConsistencyViolation) Error() string {
	return fmt.Sprintf("%s: order %s field %s expected %q got %q",
		ErrConsistencyViolation.Error(), e.MerchantUID, e.Field, e.Expected, e.Actual)
}

func (e *ConsistencyViolation) Is(target error) bool { return target == ErrConsistencyViolation }
