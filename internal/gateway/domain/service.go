package domain

import "context"

// Client is the only path to the external payment gateway. Implementations
// build gateway requests, normalize responses and classify failures; they do
// not persist anything.
type Client interface {
	RequestAuth(ctx context.Context, workType WorkType) (*AuthToken, error)
	RequestAuthForCancel(ctx context.Context) (*AuthToken, error)
	RequestAuthForSettlementAccount(ctx context.Context, code string) (*AuthToken, error)
	RequestApproval(ctx context.Context, auth AuthResult) (*ApprovalResult, error)
	RequestRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	RequestSimplePayment(ctx context.Context, req BillingKeyPaymentRequest) (*ApprovalResult, error)
	VerifySettlementAccount(ctx context.Context, req AccountVerificationRequest) (*AccountVerificationResult, error)
}
