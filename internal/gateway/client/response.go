package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	gatewaydomain "github.com/smallbiznis/contentmarket/internal/gateway/domain"
)

// fields is a flattened gateway response. The gateway mixes numbers and
// strings for the same key across endpoints, so every value is kept as text.
type fields map[string]string

func decodeFields(body []byte) (fields, error) {
	body = bytes.TrimSpace(body)
	// Some endpoints wrap the JSON document in parentheses.
	body = bytes.TrimSuffix(bytes.TrimPrefix(body, []byte("(")), []byte(")"))
	if len(body) == 0 {
		return nil, gatewaydomain.ErrMalformedResponse
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, gatewaydomain.ErrMalformedResponse
	}

	out := make(fields, len(raw))
	for key, value := range raw {
		out[key] = normalizeValue(value)
	}
	return out, nil
}

func normalizeValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case bool:
		if typed {
			return "true"
		}
		return "false"
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	}
}

// first returns the first non-empty value among keys.
func (f fields) first(keys ...string) string {
	for _, key := range keys {
		if v := f[key]; v != "" {
			return v
		}
	}
	return ""
}

func (f fields) authToken() *gatewaydomain.AuthToken {
	return &gatewaydomain.AuthToken{
		Result:    f.first("result"),
		Message:   f.first("result_msg", "message"),
		AuthKey:   f.first("AuthKey", "auth_key", "PCD_AUTH_KEY"),
		ClientID:  f.first("cst_id", "PCD_CST_ID"),
		ClientKey: f.first("custKey", "PCD_CUST_KEY"),
		PayWork:   f.first("PCD_PAY_WORK"),
		PayHost:   f.first("PCD_PAY_HOST"),
		PayURL:    f.first("PCD_PAY_URL"),
		ReturnURL: f.first("return_url"),
	}
}

func (f fields) approvalResult() *gatewaydomain.ApprovalResult {
	result := f.first("PCD_PAY_RST", "result")
	return &gatewaydomain.ApprovalResult{
		Success:          gatewaydomain.IsSuccessCode(result),
		Result:           result,
		Code:             f.first("PCD_PAY_CODE", "code"),
		Message:          f.first("PCD_PAY_MSG", "result_msg", "message"),
		OrderID:          f.first("PCD_PAY_OID"),
		PayType:          f.first("PCD_PAY_TYPE"),
		PayTime:          f.first("PCD_PAY_TIME"),
		PayTotal:         f.first("PCD_PAY_TOTAL"),
		PayerID:          f.first("PCD_PAYER_ID"),
		PayerName:        f.first("PCD_PAYER_NAME"),
		PayerPhone:       f.first("PCD_PAYER_HP"),
		Goods:            f.first("PCD_PAY_GOODS"),
		CardName:         f.first("PCD_PAY_CARDNAME"),
		CardNumberMasked: f.first("PCD_PAY_CARDNUM"),
		CardTradeNum:     f.first("PCD_PAY_CARDTRADENUM"),
		CardAuthNo:       f.first("PCD_PAY_CARDAUTHNO"),
		ReceiptURL:       f.first("PCD_PAY_CARDRECEIPT"),
		TaxTotal:         f.first("PCD_PAY_TAXTOTAL"),
		IsTax:            f.first("PCD_PAY_ISTAX"),
		CardInstallments: f.first("PCD_CARD_INSTMONTH"),
		Raw:              f,
	}
}

func (f fields) refundResult() *gatewaydomain.RefundResult {
	result := f.first("PCD_PAY_RST", "result")
	return &gatewaydomain.RefundResult{
		Success:       gatewaydomain.IsSuccessCode(result),
		Result:        result,
		Code:          f.first("PCD_PAY_CODE", "code"),
		Message:       f.first("PCD_PAY_MSG", "result_msg", "message"),
		RefundOrderID: f.first("PCD_PAY_OID"),
		RefundTotal:   f.first("PCD_REFUND_TOTAL"),
		Raw:           f,
	}
}

func (f fields) accountVerification() *gatewaydomain.AccountVerificationResult {
	code := f.first("result", "code")
	return &gatewaydomain.AccountVerificationResult{
		Success:    gatewaydomain.IsSuccessCode(code),
		Code:       code,
		Message:    f.first("message", "result_msg"),
		HolderName: f.first("account_holder_name"),
	}
}
