package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentmarket/internal/clock"
	"github.com/smallbiznis/contentmarket/internal/config"
	orderdomain "github.com/smallbiznis/contentmarket/internal/order/domain"
	paymentdomain "github.com/smallbiznis/contentmarket/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Gateway-Signature"

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Cfg       config.Config
	Repo      paymentdomain.Repository
	OrderRepo orderdomain.Repository
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	secret    []byte
	repo      paymentdomain.Repository
	orderRepo orderdomain.Repository
}

func NewService(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("payment.webhook"),
		genID:     p.GenID,
		clock:     p.Clock,
		secret:    []byte(strings.TrimSpace(p.Cfg.Gateway.WebhookSecret)),
		repo:      p.Repo,
		orderRepo: p.OrderRepo,
	}
}

// Verify checks the body signature. Without a configured secret every call
// is rejected.
func (s *Service) Verify(payload []byte, headers http.Header) error {
	if len(s.secret) == 0 {
		return paymentdomain.ErrWebhookDisabled
	}
	signature := strings.ToLower(strings.TrimSpace(headers.Get(SignatureHeader)))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}
	expected := Sign(s.secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

// Sign returns the hex signature the gateway is expected to send for payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Ingest verifies and records a gateway callback. Duplicate deliveries are
// accepted and ignored.
func (s *Service) Ingest(ctx context.Context, payload []byte, headers http.Header) error {
	if err := s.Verify(payload, headers); err != nil {
		s.log.Warn("rejected gateway webhook", zap.Error(err))
		return err
	}

	fields, stored, err := parsePayload(payload)
	if err != nil {
		return err
	}
	merchantUID := fields["PCD_PAY_OID"]
	if merchantUID == "" {
		return paymentdomain.ErrInvalidPayload
	}

	event := paymentdomain.WebhookEvent{
		ID:          s.genID.Generate(),
		MerchantUID: merchantUID,
		Result:      fields["PCD_PAY_RST"],
		PayTime:     fields["PCD_PAY_TIME"],
		Cancelled:   strings.EqualFold(fields["PCD_PAYCANCEL_FLAG"], "Y") || strings.EqualFold(fields["PCD_PAY_WORK"], "CANCEL"),
		Payload:     datatypes.JSON(stored),
		ReceivedAt:  s.clock.Now(),
	}
	inserted, err := s.repo.InsertWebhookEvent(ctx, s.db, &event)
	if err != nil {
		return err
	}
	if !inserted {
		s.log.Debug("duplicate gateway webhook ignored", zap.String("merchant_uid", merchantUID))
		return nil
	}

	s.log.Info("gateway webhook recorded",
		zap.String("merchant_uid", merchantUID),
		zap.String("result", event.Result),
		zap.Bool("cancelled", event.Cancelled),
	)

	if event.Cancelled {
		order, err := s.orderRepo.FindByMerchantUID(ctx, s.db, merchantUID)
		if err != nil {
			return err
		}
		if order != nil && order.Status == orderdomain.StatusPaid {
			s.log.Warn("gateway reports cancellation for a paid order, needs reconciliation",
				zap.String("merchant_uid", merchantUID),
				zap.String("order_id", order.ID.String()),
			)
		}
	}
	return nil
}

// parsePayload accepts the gateway's JSON callbacks and its form-encoded
// ones. Form bodies are stored re-encoded as JSON.
func parsePayload(payload []byte) (map[string]string, []byte, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		fields, err := parseJSON(trimmed)
		if err != nil {
			return nil, nil, err
		}
		return fields, payload, nil
	}

	values, err := url.ParseQuery(string(trimmed))
	if err != nil || len(values) == 0 {
		return nil, nil, paymentdomain.ErrInvalidPayload
	}
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			fields[k] = strings.TrimSpace(v[0])
		}
	}
	stored, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, err
	}
	return fields, stored, nil
}

func parseJSON(payload []byte) (map[string]string, error) {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch typed := v.(type) {
		case string:
			out[k] = strings.TrimSpace(typed)
		case json.Number:
			out[k] = typed.String()
		case bool:
			if typed {
				out[k] = "Y"
			} else {
				out[k] = "N"
			}
		}
	}
	return out, nil
}
