package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/contentmarket/internal/billingkey/domain"
	"github.com/smallbiznis/contentmarket/internal/billingkey/repository"
	"github.com/smallbiznis/contentmarket/internal/clock"
	"github.com/smallbiznis/contentmarket/internal/config"
	gatewaydomain "github.com/smallbiznis/contentmarket/internal/gateway/domain"
	"github.com/smallbiznis/contentmarket/internal/lock"
	orderdomain "github.com/smallbiznis/contentmarket/internal/order/domain"
	orderrepo "github.com/smallbiznis/contentmarket/internal/order/repository"
	paymentdomain "github.com/smallbiznis/contentmarket/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/contentmarket/internal/payment/repository"
	paymentservice "github.com/smallbiznis/contentmarket/internal/payment/service"
	purchasedomain "github.com/smallbiznis/contentmarket/internal/purchase/domain"
	purchaserepo "github.com/smallbiznis/contentmarket/internal/purchase/repository"
	"github.com/smallbiznis/contentmarket/pkg/db/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const userID snowflake.ID = 77

// fakeGateway answers billing key charges; every other call is unexpected.
type fakeGateway struct {
	gatewaydomain.Client
	charges []gatewaydomain.BillingKeyPaymentRequest
	result  *gatewaydomain.ApprovalResult
}

func (g *fakeGateway) RequestSimplePayment(_ context.Context, req gatewaydomain.BillingKeyPaymentRequest) (*gatewaydomain.ApprovalResult, error) {
	g.charges = append(g.charges, req)
	if g.result != nil {
		return g.result, nil
	}
	return &gatewaydomain.ApprovalResult{
		Success:   true,
		Result:    "success",
		OrderID:   req.OrderID,
		PayTotal:  "9900",
		PayerID:   req.PayerID,
		PayerName: req.PayerName,
		PayTime:   "20240105090000",
		IsTax:     "Y",
	}, nil
}

type harness struct {
	svc     *Service
	db      *gorm.DB
	gateway *fakeGateway
	orders  orderdomain.Repository
	node    *snowflake.Node
}

func newHarness(t *testing.T, secret string) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.BillingKey{},
		&orderdomain.Order{},
		&paymentdomain.GatewayAuthSnapshot{},
		&paymentdomain.Payment{},
		&purchasedomain.Purchase{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	tm := txn.NewManager(db, log)
	orders := orderrepo.Provide()
	gw := &fakeGateway{}

	coordinator := paymentservice.NewCoordinator(paymentservice.CoordinatorParams{
		Txn: tm, Log: log, GenID: node, Clock: clk,
		Repo: paymentrepo.Provide(), OrderRepo: orders, PurchaseRepo: purchaserepo.Provide(),
	})
	processor := paymentservice.NewProcessor(paymentservice.ProcessorParams{
		Coordinator: coordinator,
		Gateway:     gw,
		Locker:      lock.NewLocker(lock.Params{Log: log}),
		Log:         log,
	})

	cfg := config.Config{BillingKeySecret: secret}
	svc, err := New(Params{
		Cfg: cfg, Txn: tm, Log: log, GenID: node, Clock: clk,
		Repo: repository.Provide(), OrderRepo: orders, Processor: processor, Gateway: gw,
	})
	require.NoError(t, err)
	return &harness{svc: svc, db: db, gateway: gw, orders: orders, node: node}
}

func (h *harness) seedOrder(t *testing.T, price int64) *orderdomain.Order {
	t.Helper()
	now := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)
	order := &orderdomain.Order{
		ID: h.node.Generate(), MerchantUID: "ORD" + h.node.Generate().String(),
		BuyerID: userID, SellerID: 5, ContentID: 6, ContentTitle: "Monthly coaching",
		ContentType: orderdomain.ContentTypeCoaching, OriginalPrice: price, FinalPrice: price,
		Status: orderdomain.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, h.orders.Insert(context.Background(), h.db, order))
	return order
}

func TestRegister_ReplacesActiveKey(t *testing.T) {
	h := newHarness(t, "billing-secret")
	ctx := context.Background()

	first, err := h.svc.Register(ctx, userID, domain.RegisterRequest{BillingKey: "payer-aaaa1111", CardName: "CARD A"})
	require.NoError(t, err)
	assert.Equal(t, "1111", first.KeyHint)
	assert.NotContains(t, first.EncryptedKey, "payer-aaaa1111")

	second, err := h.svc.Register(ctx, userID, domain.RegisterRequest{BillingKey: "payer-bbbb2222", CardName: "CARD B"})
	require.NoError(t, err)

	active, err := h.svc.Active(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	var stored domain.BillingKey
	require.NoError(t, h.db.First(&stored, "id = ?", first.ID).Error)
	assert.Equal(t, domain.StatusInactive, stored.Status)
	assert.NotNil(t, stored.DeactivatedAt)
}

func TestRegister_RequiresSecret(t *testing.T) {
	h := newHarness(t, "")

	_, err := h.svc.Register(context.Background(), userID, domain.RegisterRequest{BillingKey: "payer-1"})
	assert.ErrorIs(t, err, domain.ErrEncryptionUnavailable)
}

func TestDeactivate(t *testing.T) {
	h := newHarness(t, "billing-secret")
	ctx := context.Background()

	key, err := h.svc.Register(ctx, userID, domain.RegisterRequest{BillingKey: "payer-1234"})
	require.NoError(t, err)

	require.NoError(t, h.svc.Deactivate(ctx, userID, key.ID))
	assert.ErrorIs(t, h.svc.Deactivate(ctx, userID, key.ID), domain.ErrNotFound)

	_, err = h.svc.Active(ctx, userID)
	assert.ErrorIs(t, err, domain.ErrNoActiveKey)
}

func TestChargeWithBillingKey(t *testing.T) {
	h := newHarness(t, "billing-secret")
	ctx := context.Background()

	_, err := h.svc.Register(ctx, userID, domain.RegisterRequest{BillingKey: "payer-xyz-9876", PayerName: "Kim"})
	require.NoError(t, err)
	order := h.seedOrder(t, 9900)

	result, err := h.svc.ChargeWithBillingKey(ctx, userID, order.MerchantUID)
	require.NoError(t, err)
	assert.Equal(t, int64(9900), result.Amount)
	assert.Equal(t, paymentdomain.MethodBillingKey, result.Method)

	require.Len(t, h.gateway.charges, 1)
	assert.Equal(t, "payer-xyz-9876", h.gateway.charges[0].PayerID)
	assert.Equal(t, int64(9900), h.gateway.charges[0].Total)

	stored, err := h.orders.FindByID(ctx, h.db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPaid, stored.Status)
}

func TestChargeWithBillingKey_RejectedFailsOrder(t *testing.T) {
	h := newHarness(t, "billing-secret")
	ctx := context.Background()

	_, err := h.svc.Register(ctx, userID, domain.RegisterRequest{BillingKey: "payer-xyz-9876"})
	require.NoError(t, err)
	order := h.seedOrder(t, 9900)
	h.gateway.result = &gatewaydomain.ApprovalResult{Success: false, Code: "LIMIT", Message: "over limit"}

	_, err = h.svc.ChargeWithBillingKey(ctx, userID, order.MerchantUID)
	assert.ErrorIs(t, err, paymentdomain.ErrApprovalRejected)

	stored, err := h.orders.FindByID(ctx, h.db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusFailed, stored.Status)
	assert.Equal(t, "[LIMIT] over limit", stored.FailureReason)
}

func TestChargeWithBillingKey_NoActiveKey(t *testing.T) {
	h := newHarness(t, "billing-secret")
	order := h.seedOrder(t, 9900)

	_, err := h.svc.ChargeWithBillingKey(context.Background(), userID, order.MerchantUID)
	assert.ErrorIs(t, err, domain.ErrNoActiveKey)
	assert.Empty(t, h.gateway.charges)
}

func TestSealer_BindsUser(t *testing.T) {
	sealer, err := NewSealer("secret")
	require.NoError(t, err)

	sealed, err := sealer.Seal("payer-1", associatedData(1))
	require.NoError(t, err)

	plain, err := sealer.Open(sealed, associatedData(1))
	require.NoError(t, err)
	assert.Equal(t, "payer-1", plain)

	_, err = sealer.Open(sealed, associatedData(2))
	assert.ErrorIs(t, err, domain.ErrDecrypt)
}
