package domain

import "strings"

// WorkType selects which class of operation an auth key is issued for.
type WorkType string

const (
	WorkTypeCert WorkType = "CERT" // interactive payment confirmed by the server afterwards
	WorkTypePay  WorkType = "PAY"  // billing key charge
	WorkTypeAuth WorkType = "AUTH" // billing key registration
)

// AuthToken is the short-lived key the gateway hands out per operation.
type AuthToken struct {
	Result    string
	Message   string
	AuthKey   string
	ClientID  string
	ClientKey string
	PayWork   string
	PayHost   string
	PayURL    string
	ReturnURL string
}

// AuthResult is what the gateway reported to the buyer's browser after the
// interactive payment window closed. It is relayed to the server untouched.
type AuthResult struct {
	PayRst      string `json:"PCD_PAY_RST"`
	PayCode     string `json:"PCD_PAY_CODE"`
	PayMsg      string `json:"PCD_PAY_MSG"`
	PayType     string `json:"PCD_PAY_TYPE"`
	PayWork     string `json:"PCD_PAY_WORK"`
	AuthKey     string `json:"PCD_AUTH_KEY" validate:"required"`
	PayReqKey   string `json:"PCD_PAY_REQKEY"`
	PayCofURL   string `json:"PCD_PAY_COFURL"`
	PayOID      string `json:"PCD_PAY_OID" validate:"required"`
	PayerID     string `json:"PCD_PAYER_ID"`
	PayerNo     string `json:"PCD_PAYER_NO"`
	PayerName   string `json:"PCD_PAYER_NAME"`
	PayerHP     string `json:"PCD_PAYER_HP"`
	PayerEmail  string `json:"PCD_PAYER_EMAIL"`
	PayGoods    string `json:"PCD_PAY_GOODS"`
	PayTotal    string `json:"PCD_PAY_TOTAL" validate:"required"`
	PayTaxTotal string `json:"PCD_PAY_TAXTOTAL"`
	PayIsTax    string `json:"PCD_PAY_ISTAX"`
	CardInstall string `json:"PCD_CARD_INSTMONTH"`
	SimpleFlag  string `json:"PCD_SIMPLE_FLAG"`
}

// Succeeded reports whether the buyer completed authentication.
func (a AuthResult) Succeeded() bool {
	return IsSuccessCode(a.PayRst)
}

// ApprovalResult is the normalized answer to an approval or billing key charge.
// Gateway codes and messages are kept verbatim for audit.
type ApprovalResult struct {
	Success bool

	Result  string
	Code    string
	Message string

	OrderID          string
	PayType          string
	PayTime          string
	PayTotal         string
	PayerID          string
	PayerName        string
	PayerPhone       string
	Goods            string
	CardName         string
	CardNumberMasked string
	CardTradeNum     string
	CardAuthNo       string
	ReceiptURL       string
	TaxTotal         string
	IsTax            string
	CardInstallments string

	Raw map[string]string
}

// RefundRequest describes a full or partial cancellation of a captured payment.
type RefundRequest struct {
	OrderID        string `validate:"required"`
	PayDate        string `validate:"required,len=8,numeric"`
	RefundTotal    int64  `validate:"gt=0"`
	RefundTaxTotal *int64 `validate:"omitempty,gte=0"`
	Reason         string
}

type RefundResult struct {
	Success       bool
	Result        string
	Code          string
	Message       string
	RefundOrderID string
	RefundTotal   string
	Raw           map[string]string
}

// BillingKeyPaymentRequest charges a stored credential without buyer interaction.
type BillingKeyPaymentRequest struct {
	PayerID          string `validate:"required"`
	OrderID          string `validate:"required"`
	Goods            string `validate:"required"`
	Total            int64  `validate:"gt=0"`
	IsTax            bool
	TaxTotal         *int64 `validate:"omitempty,gte=0"`
	PayerName        string
	PayerPhone       string
	PayerEmail       string
	CardInstallments string
}

// AccountVerificationRequest checks that a bank account belongs to the named holder.
type AccountVerificationRequest struct {
	Code          string `validate:"required"`
	BankCode      string `validate:"required"`
	AccountNumber string `validate:"required"`
	HolderName    string `validate:"required"`
}

type AccountVerificationResult struct {
	Success    bool
	Code       string
	Message    string
	HolderName string
}

// IsSuccessCode normalizes the gateway's many spellings of success.
func IsSuccessCode(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "success", "ok", "y", "true", "0000", "a0000":
		return true
	}
	return false
}
