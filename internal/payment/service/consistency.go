package service

import (
	"strconv"
	"strings"

	gatewaydomain "github.com/smallbiznis/contentmarket/internal/gateway/domain"
	orderdomain "github.com/smallbiznis/contentmarket/internal/order/domain"
	paymentdomain "github.com/smallbiznis/contentmarket/internal/payment/domain"
	"github.com/smallbiznis/contentmarket/pkg/money"
)

// checkConsistency compares what was authorized with what the gateway says
// it approved. Order id and amount must always match. Payer id, payer name,
// tax flag, tax amount and installments must be echoed whenever they were part
// of the authorization. Goods and payer phone are compared when both sides
// carry them.
func checkConsistency(
	order *orderdomain.Order,
	snapshot *paymentdomain.GatewayAuthSnapshot,
	info paymentdomain.PaymentAuthInfo,
	approval *gatewaydomain.ApprovalResult,
) error {
	violation := func(field, expected, actual string) error {
		return &paymentdomain.ConsistencyViolation{
			MerchantUID: snapshot.MerchantUID,
			Field:       field,
			Expected:    expected,
			Actual:      actual,
		}
	}

	if strings.TrimSpace(approval.OrderID) != snapshot.MerchantUID || snapshot.MerchantUID != order.MerchantUID {
		return violation("orderId", snapshot.MerchantUID, approval.OrderID)
	}

	if !money.EqualStrings(snapshot.PayTotal, approval.PayTotal) || strings.TrimSpace(approval.PayTotal) == "" {
		return violation("amount", snapshot.PayTotal, approval.PayTotal)
	}
	if !money.EqualsUnits(approval.PayTotal, info.Amount) || info.Amount != order.FinalPrice {
		return violation("amount", strconv.FormatInt(order.FinalPrice, 10), approval.PayTotal)
	}

	if !equalWhenBothPresent(snapshot.Goods, approval.Goods) {
		return violation("goods", snapshot.Goods, approval.Goods)
	}

	if exp := strings.TrimSpace(snapshot.PayerID); exp != "" && exp != strings.TrimSpace(approval.PayerID) {
		return violation("payerId", snapshot.PayerID, approval.PayerID)
	}
	if !equalWhenExpected(snapshot.PayerName, approval.PayerName) {
		return violation("payerName", snapshot.PayerName, approval.PayerName)
	}
	if !equalWhenBothPresent(digits(snapshot.PayerPhone), digits(approval.PayerPhone)) {
		return violation("payerPhone", snapshot.PayerPhone, approval.PayerPhone)
	}

	expectedTax, actualTax := normalizeFlag(snapshot.IsTax), normalizeFlag(approval.IsTax)
	if !equalWhenExpected(expectedTax, actualTax) {
		return violation("isTax", snapshot.IsTax, approval.IsTax)
	}
	if expectedTax == "Y" && strings.TrimSpace(snapshot.TaxTotal) != "" {
		if !money.EqualStrings(snapshot.TaxTotal, approval.TaxTotal) || strings.TrimSpace(approval.TaxTotal) == "" {
			return violation("taxTotal", snapshot.TaxTotal, approval.TaxTotal)
		}
	}

	if exp := normalizeInstallments(snapshot.CardInstallments); exp != "" {
		if exp != normalizeInstallments(approval.CardInstallments) {
			return violation("cardInstallments", snapshot.CardInstallments, approval.CardInstallments)
		}
	}

	return nil
}

func equalWhenBothPresent(expected, actual string) bool {
	expected, actual = strings.TrimSpace(expected), strings.TrimSpace(actual)
	if expected == "" || actual == "" {
		return true
	}
	return expected == actual
}

func equalWhenExpected(expected, actual string) bool {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return true
	}
	return expected == strings.TrimSpace(actual)
}

func digits(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeFlag(v string) string {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "Y", "YES", "TRUE", "1":
		return "Y"
	case "N", "NO", "FALSE", "0":
		return "N"
	}
	return ""
}

// normalizeInstallments treats "00", "0" and "1" alike as a lump-sum payment.
func normalizeInstallments(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return v
	}
	if n <= 1 {
		return "0"
	}
	return strconv.Itoa(n)
}
