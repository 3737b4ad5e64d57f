package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/contentmarket/internal/config"
	gatewaydomain "github.com/smallbiznis/contentmarket/internal/gateway/domain"
	obsmetrics "github.com/smallbiznis/contentmarket/internal/observability/metrics"
	"github.com/smallbiznis/contentmarket/pkg/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	opAuth              = "auth"
	opApproval          = "approval"
	opRefund            = "refund"
	opSimplePayment     = "simple_payment"
	opAccountVerify     = "account_verification"
	maxResponseBodySize = 1 << 20
)

// Policies controls gateway retries. Auth is retried with exponential backoff;
// approval with a fixed wait. Refunds and billing key charges are attempted once.
type Policies struct {
	Auth     retry.Policy
	Approval retry.Policy
}

func DefaultPolicies() Policies {
	return Policies{
		Auth:     retry.Exponential(3, time.Second, 2),
		Approval: retry.Fixed(2, time.Second),
	}
}

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	Metrics    *obsmetrics.Metrics `optional:"true"`
	HTTPClient *http.Client        `optional:"true"`
	Policies   *Policies           `optional:"true"`
}

type Client struct {
	cfg      config.GatewayConfig
	http     *http.Client
	log      *zap.Logger
	metrics  *obsmetrics.Metrics
	validate *validator.Validate
	tracer   trace.Tracer
	policies Policies
}

func NewClient(p Params) *Client {
	httpClient := p.HTTPClient
	if httpClient == nil {
		timeout := p.Cfg.Gateway.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	policies := DefaultPolicies()
	if p.Policies != nil {
		policies = *p.Policies
	}
	return &Client{
		cfg:      p.Cfg.Gateway,
		http:     httpClient,
		log:      p.Log.Named("gateway.client"),
		metrics:  p.Metrics,
		validate: validator.New(),
		tracer:   otel.Tracer("contentmarket/gateway"),
		policies: policies,
	}
}

var _ gatewaydomain.Client = (*Client)(nil)

func (c *Client) RequestAuth(ctx context.Context, workType gatewaydomain.WorkType) (*gatewaydomain.AuthToken, error) {
	if strings.TrimSpace(string(workType)) == "" {
		return nil, &gatewaydomain.GatewayError{Op: opAuth, Err: gatewaydomain.ErrInvalidRequest}
	}
	return c.requestAuth(ctx, map[string]string{"PCD_PAY_WORK": string(workType)})
}

func (c *Client) RequestAuthForCancel(ctx context.Context) (*gatewaydomain.AuthToken, error) {
	return c.requestAuth(ctx, map[string]string{"PCD_PAYCANCEL_FLAG": "Y"})
}

func (c *Client) RequestAuthForSettlementAccount(ctx context.Context, code string) (*gatewaydomain.AuthToken, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &gatewaydomain.GatewayError{Op: opAuth, Err: gatewaydomain.ErrInvalidRequest}
	}
	return c.requestAuth(ctx, map[string]string{"code": code})
}

func (c *Client) requestAuth(ctx context.Context, extra map[string]string) (*gatewaydomain.AuthToken, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.auth")
	defer span.End()

	if err := c.checkCredentials(opAuth); err != nil {
		return nil, c.finish(span, opAuth, err)
	}

	body := map[string]string{
		"cst_id":  c.cfg.ClientID,
		"custKey": c.cfg.ClientKey,
	}
	for k, v := range extra {
		body[k] = v
		span.SetAttributes(attribute.String("gateway."+strings.ToLower(k), v))
	}

	token, err := retry.Do(ctx, c.withRetryLog(c.policies.Auth, opAuth), gatewaydomain.IsRetryable,
		func(ctx context.Context) (*gatewaydomain.AuthToken, error) {
			f, err := c.post(ctx, opAuth, c.cfg.AuthPath, body, nil)
			if err != nil {
				return nil, err
			}
			token := f.authToken()
			if !gatewaydomain.IsSuccessCode(token.Result) || token.AuthKey == "" {
				return nil, &gatewaydomain.GatewayError{
					Op:      opAuth,
					Code:    token.Result,
					Message: token.Message,
					Err:     gatewaydomain.ErrAuthRejected,
				}
			}
			if token.ClientID == "" {
				token.ClientID = c.cfg.ClientID
			}
			if token.ClientKey == "" {
				token.ClientKey = c.cfg.ClientKey
			}
			return token, nil
		})
	if err != nil {
		return nil, c.finish(span, opAuth, err)
	}
	c.finish(span, opAuth, nil)
	return token, nil
}

func (c *Client) RequestApproval(ctx context.Context, auth gatewaydomain.AuthResult) (*gatewaydomain.ApprovalResult, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.approval", trace.WithAttributes(
		attribute.String("gateway.order_id", auth.PayOID),
	))
	defer span.End()

	if err := c.checkCredentials(opApproval); err != nil {
		return nil, c.finish(span, opApproval, err)
	}
	if err := c.validate.Struct(auth); err != nil {
		return nil, c.finish(span, opApproval, &gatewaydomain.GatewayError{Op: opApproval, Message: err.Error(), Err: gatewaydomain.ErrInvalidRequest})
	}

	body := map[string]string{
		"PCD_CST_ID":     c.cfg.ClientID,
		"PCD_CUST_KEY":   c.cfg.ClientKey,
		"PCD_AUTH_KEY":   auth.AuthKey,
		"PCD_PAY_REQKEY": auth.PayReqKey,
	}
	if auth.PayerID != "" {
		body["PCD_PAYER_ID"] = auth.PayerID
	}
	if auth.PayType != "" {
		body["PCD_PAY_TYPE"] = auth.PayType
	}
	if auth.PayGoods != "" {
		body["PCD_PAY_GOODS"] = auth.PayGoods
	}
	if auth.PayTotal != "" {
		body["PCD_PAY_TOTAL"] = auth.PayTotal
	}
	if auth.SimpleFlag != "" {
		body["PCD_SIMPLE_FLAG"] = auth.SimpleFlag
	}
	if auth.CardInstall != "" {
		body["PCD_CARD_INSTMONTH"] = auth.CardInstall
	}

	result, err := retry.Do(ctx, c.withRetryLog(c.policies.Approval, opApproval), gatewaydomain.IsRetryable,
		func(ctx context.Context) (*gatewaydomain.ApprovalResult, error) {
			f, err := c.post(ctx, opApproval, c.cfg.ApprovalPath, body, nil)
			if err != nil {
				return nil, err
			}
			return f.approvalResult(), nil
		})
	if err != nil {
		return nil, c.finish(span, opApproval, err)
	}
	c.finishResult(span, opApproval, result.Success, result.Code)
	return result, nil
}

func (c *Client) RequestRefund(ctx context.Context, req gatewaydomain.RefundRequest) (*gatewaydomain.RefundResult, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.refund", trace.WithAttributes(
		attribute.String("gateway.order_id", req.OrderID),
		attribute.Int64("gateway.refund_total", req.RefundTotal),
	))
	defer span.End()

	if err := c.validate.Struct(req); err != nil {
		return nil, c.finish(span, opRefund, &gatewaydomain.GatewayError{Op: opRefund, Message: err.Error(), Err: gatewaydomain.ErrInvalidRequest})
	}
	if strings.TrimSpace(c.cfg.RefundKey) == "" {
		return nil, c.finish(span, opRefund, &gatewaydomain.GatewayError{Op: opRefund, Message: "refund key not configured", Err: gatewaydomain.ErrInvalidConfig})
	}

	token, err := c.RequestAuthForCancel(ctx)
	if err != nil {
		return nil, c.finish(span, opRefund, err)
	}

	body := map[string]string{
		"PCD_CST_ID":         token.ClientID,
		"PCD_CUST_KEY":       token.ClientKey,
		"PCD_AUTH_KEY":       token.AuthKey,
		"PCD_REFUND_KEY":     c.cfg.RefundKey,
		"PCD_PAYCANCEL_FLAG": "Y",
		"PCD_PAY_OID":        req.OrderID,
		"PCD_PAY_DATE":       req.PayDate,
		"PCD_REFUND_TOTAL":   strconv.FormatInt(req.RefundTotal, 10),
	}
	if req.RefundTaxTotal != nil {
		body["PCD_REFUND_TAXTOTAL"] = strconv.FormatInt(*req.RefundTaxTotal, 10)
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		body["PCD_REFUND_REASON"] = reason
	}

	f, err := c.post(ctx, opRefund, c.cfg.RefundPath, body, nil)
	if err != nil {
		return nil, c.finish(span, opRefund, err)
	}
	result := f.refundResult()
	if result.RefundTotal == "" && result.Success {
		result.RefundTotal = strconv.FormatInt(req.RefundTotal, 10)
	}
	c.finishResult(span, opRefund, result.Success, result.Code)
	return result, nil
}

func (c *Client) RequestSimplePayment(ctx context.Context, req gatewaydomain.BillingKeyPaymentRequest) (*gatewaydomain.ApprovalResult, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.simple_payment", trace.WithAttributes(
		attribute.String("gateway.order_id", req.OrderID),
		attribute.Int64("gateway.total", req.Total),
	))
	defer span.End()

	if err := c.validate.Struct(req); err != nil {
		return nil, c.finish(span, opSimplePayment, &gatewaydomain.GatewayError{Op: opSimplePayment, Message: err.Error(), Err: gatewaydomain.ErrInvalidRequest})
	}

	token, err := c.RequestAuth(ctx, gatewaydomain.WorkTypePay)
	if err != nil {
		return nil, c.finish(span, opSimplePayment, err)
	}

	isTax := "Y"
	if !req.IsTax {
		isTax = "N"
	}
	body := map[string]string{
		"PCD_CST_ID":      token.ClientID,
		"PCD_CUST_KEY":    token.ClientKey,
		"PCD_AUTH_KEY":    token.AuthKey,
		"PCD_PAY_TYPE":    "card",
		"PCD_SIMPLE_FLAG": "Y",
		"PCD_PAYER_ID":    req.PayerID,
		"PCD_PAY_OID":     req.OrderID,
		"PCD_PAY_GOODS":   req.Goods,
		"PCD_PAY_TOTAL":   strconv.FormatInt(req.Total, 10),
		"PCD_PAY_ISTAX":   isTax,
	}
	if req.TaxTotal != nil {
		body["PCD_PAY_TAXTOTAL"] = strconv.FormatInt(*req.TaxTotal, 10)
	}
	if req.PayerName != "" {
		body["PCD_PAYER_NAME"] = req.PayerName
	}
	if req.PayerPhone != "" {
		body["PCD_PAYER_HP"] = req.PayerPhone
	}
	if req.PayerEmail != "" {
		body["PCD_PAYER_EMAIL"] = req.PayerEmail
	}
	if req.CardInstallments != "" {
		body["PCD_CARD_INSTMONTH"] = req.CardInstallments
	}

	f, err := c.post(ctx, opSimplePayment, c.cfg.SimplePaymentPath, body, nil)
	if err != nil {
		return nil, c.finish(span, opSimplePayment, err)
	}
	result := f.approvalResult()
	c.finishResult(span, opSimplePayment, result.Success, result.Code)
	return result, nil
}

func (c *Client) VerifySettlementAccount(ctx context.Context, req gatewaydomain.AccountVerificationRequest) (*gatewaydomain.AccountVerificationResult, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.account_verification")
	defer span.End()

	if err := c.validate.Struct(req); err != nil {
		return nil, c.finish(span, opAccountVerify, &gatewaydomain.GatewayError{Op: opAccountVerify, Message: err.Error(), Err: gatewaydomain.ErrInvalidRequest})
	}

	token, err := c.RequestAuthForSettlementAccount(ctx, req.Code)
	if err != nil {
		return nil, c.finish(span, opAccountVerify, err)
	}

	body := map[string]string{
		"cst_id":              token.ClientID,
		"custKey":             token.ClientKey,
		"bank_code_std":       req.BankCode,
		"account_num":         req.AccountNumber,
		"account_holder_name": req.HolderName,
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token.AuthKey)

	f, err := c.post(ctx, opAccountVerify, c.cfg.AccountCheckPath, body, headers)
	if err != nil {
		return nil, c.finish(span, opAccountVerify, err)
	}
	result := f.accountVerification()
	c.finishResult(span, opAccountVerify, result.Success, result.Code)
	return result, nil
}

func (c *Client) checkCredentials(op string) error {
	if strings.TrimSpace(c.cfg.BaseURL) == "" || c.cfg.ClientID == "" || c.cfg.ClientKey == "" {
		return &gatewaydomain.GatewayError{Op: op, Message: "gateway credentials not configured", Err: gatewaydomain.ErrInvalidConfig}
	}
	return nil
}

// post sends one JSON request. Transport failures, 5xx and 429 are retryable;
// other non-2xx statuses and unreadable bodies are terminal.
func (c *Client) post(ctx context.Context, op string, path string, body map[string]string, headers http.Header) (fields, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &gatewaydomain.GatewayError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &gatewaydomain.GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if c.cfg.Referer != "" {
		req.Header.Set("Referer", c.cfg.Referer)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		retryable := ctx.Err() == nil
		return nil, &gatewaydomain.GatewayError{Op: op, Retryable: retryable, Err: fmt.Errorf("%w: %v", gatewaydomain.ErrUnavailable, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, &gatewaydomain.GatewayError{Op: op, Status: resp.StatusCode, Retryable: true, Err: fmt.Errorf("%w: %v", gatewaydomain.ErrUnavailable, err)}
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &gatewaydomain.GatewayError{Op: op, Status: resp.StatusCode, Retryable: true, Err: gatewaydomain.ErrUnavailable}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		f, _ := decodeFields(raw)
		return nil, &gatewaydomain.GatewayError{
			Op:      op,
			Status:  resp.StatusCode,
			Code:    f.first("PCD_PAY_CODE", "code", "result"),
			Message: f.first("PCD_PAY_MSG", "result_msg", "message"),
			Err:     gatewaydomain.ErrInvalidRequest,
		}
	}

	f, err := decodeFields(raw)
	if err != nil {
		return nil, &gatewaydomain.GatewayError{Op: op, Status: resp.StatusCode, Err: err}
	}
	return f, nil
}

func (c *Client) withRetryLog(p retry.Policy, op string) retry.Policy {
	return p.WithNotify(func(attempt uint, err error, next time.Duration) {
		c.metrics.RecordGatewayRetry(op)
		c.log.Warn("gateway call failed, retrying",
			zap.String("operation", op),
			zap.Uint("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})
}

func (c *Client) finish(span trace.Span, op string, err error) error {
	if err == nil {
		c.metrics.RecordGatewayRequest(op, obsmetrics.OutcomeSuccess)
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.metrics.RecordGatewayRequest(op, obsmetrics.OutcomeError)
	if !errors.Is(err, gatewaydomain.ErrInvalidRequest) {
		c.log.Warn("gateway call failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}

func (c *Client) finishResult(span trace.Span, op string, success bool, code string) {
	span.SetAttributes(attribute.Bool("gateway.success", success), attribute.String("gateway.code", code))
	if success {
		c.metrics.RecordGatewayRequest(op, obsmetrics.OutcomeSuccess)
		return
	}
	c.metrics.RecordGatewayRequest(op, obsmetrics.OutcomeRejected)
}
