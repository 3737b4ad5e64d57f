package service

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/contentmarket/internal/clock"
	gatewaydomain "github.com/smallbiznis/contentmarket/internal/gateway/domain"
	"github.com/smallbiznis/contentmarket/internal/notification"
	orderdomain "github.com/smallbiznis/contentmarket/internal/order/domain"
	orderrepo "github.com/smallbiznis/contentmarket/internal/order/repository"
	paymentdomain "github.com/smallbiznis/contentmarket/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/contentmarket/internal/payment/repository"
	purchasedomain "github.com/smallbiznis/contentmarket/internal/purchase/domain"
	purchaserepo "github.com/smallbiznis/contentmarket/internal/purchase/repository"
	"github.com/smallbiznis/contentmarket/pkg/db/txn"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	buyerID  snowflake.ID = 1001
	sellerID snowflake.ID = 2001
)

type sentNotification struct {
	UserID snowflake.ID
	Type   notification.EventType
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Dispatch(_ context.Context, userID snowflake.ID, eventType notification.EventType, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UserID: userID, Type: eventType})
}

func (n *recordingNotifier) Sent() []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotification(nil), n.sent...)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) RequestAuth(ctx context.Context, workType gatewaydomain.WorkType) (*gatewaydomain.AuthToken, error) {
	args := m.Called(ctx, workType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gatewaydomain.AuthToken), args.Error(1)
}

func (m *mockGateway) RequestAuthForCancel(ctx context.Context) (*gatewaydomain.AuthToken, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gatewaydomain.AuthToken), args.Error(1)
}

func (m *mockGateway) RequestAuthForSettlementAccount(ctx context.Context, code string) (*gatewaydomain.AuthToken, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gatewaydomain.AuthToken), args.Error(1)
}

func (m *mockGateway) RequestApproval(ctx context.Context, auth gatewaydomain.AuthResult) (*gatewaydomain.ApprovalResult, error) {
	args := m.Called(ctx, auth)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gatewaydomain.ApprovalResult), args.Error(1)
}

func (m *mockGateway) RequestRefund(ctx context.Context, req gatewaydomain.RefundRequest) (*gatewaydomain.RefundResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gatewaydomain.RefundResult), args.Error(1)
}

func (m *mockGateway) RequestSimplePayment(ctx context.Context, req gatewaydomain.BillingKeyPaymentRequest) (*gatewaydomain.ApprovalResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gatewaydomain.ApprovalResult), args.Error(1)
}

func (m *mockGateway) VerifySettlementAccount(ctx context.Context, req gatewaydomain.AccountVerificationRequest) (*gatewaydomain.AccountVerificationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gatewaydomain.AccountVerificationResult), args.Error(1)
}

type mockSettlement struct {
	mock.Mock
}

func (m *mockSettlement) RecordPurchase(ctx context.Context, purchaseID snowflake.ID) error {
	return m.Called(ctx, purchaseID).Error(0)
}

func (m *mockSettlement) RefundPurchase(ctx context.Context, purchaseID snowflake.ID) error {
	return m.Called(ctx, purchaseID).Error(0)
}

type fixture struct {
	db          *gorm.DB
	node        *snowflake.Node
	clock       *clock.FakeClock
	notifier    *recordingNotifier
	coordinator *Coordinator
	orders      orderdomain.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+url.PathEscape(t.Name())+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&orderdomain.Order{},
		&paymentdomain.GatewayAuthSnapshot{},
		&paymentdomain.Payment{},
		&paymentdomain.WebhookEvent{},
		&purchasedomain.Purchase{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fx := &fixture{
		db:       db,
		node:     node,
		clock:    clock.NewFakeClock(time.Date(2024, 1, 5, 12, 30, 0, 0, time.UTC)),
		notifier: &recordingNotifier{},
		orders:   orderrepo.Provide(),
	}
	fx.coordinator = NewCoordinator(CoordinatorParams{
		Txn:          txn.NewManager(db, zap.NewNop()),
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        fx.clock,
		Repo:         paymentrepo.Provide(),
		OrderRepo:    fx.orders,
		PurchaseRepo: purchaserepo.Provide(),
		Notifier:     fx.notifier,
	})
	return fx
}

func (f *fixture) seedOrder(t *testing.T, finalPrice int64) *orderdomain.Order {
	t.Helper()
	now := f.clock.Now()
	order := &orderdomain.Order{
		ID:            f.node.Generate(),
		MerchantUID:   "ORD" + f.node.Generate().String(),
		BuyerID:       buyerID,
		SellerID:      sellerID,
		ContentID:     11,
		OptionID:      12,
		ContentTitle:  "Portfolio review",
		OptionName:    "Basic",
		ContentType:   orderdomain.ContentTypeCoaching,
		OriginalPrice: finalPrice,
		FinalPrice:    finalPrice,
		Items:         datatypes.NewJSONType([]orderdomain.LineItem{{ContentID: 11, OptionID: 12, Price: finalPrice}}),
		Status:        orderdomain.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.orders.Insert(context.Background(), f.db, order))
	return order
}

func (f *fixture) reloadOrder(t *testing.T, id snowflake.ID) *orderdomain.Order {
	t.Helper()
	order, err := f.orders.FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, order)
	return order
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func authFor(order *orderdomain.Order) gatewaydomain.AuthResult {
	return gatewaydomain.AuthResult{
		PayRst:      "success",
		PayCode:     "0000",
		PayType:     "card",
		PayWork:     "CERT",
		AuthKey:     "auth-key",
		PayReqKey:   "req-key",
		PayOID:      order.MerchantUID,
		PayerID:     "payer-1",
		PayerName:   "Buyer Kim",
		PayerHP:     "010-1234-5678",
		PayGoods:    order.Goods(),
		PayTotal:    "50000",
		PayIsTax:    "Y",
		PayTaxTotal: "4545",
		CardInstall: "00",
	}
}

func approvalFor(order *orderdomain.Order) *gatewaydomain.ApprovalResult {
	return &gatewaydomain.ApprovalResult{
		Success:          true,
		Result:           "success",
		Code:             "0000",
		Message:          "approved",
		OrderID:          order.MerchantUID,
		PayType:          "card",
		PayTime:          "20240105123500",
		PayTotal:         "50000",
		PayerID:          "payer-1",
		PayerName:        "Buyer Kim",
		PayerPhone:       "01012345678",
		Goods:            order.Goods(),
		CardName:         "TEST CARD",
		CardNumberMasked: "1234-****-****-5678",
		CardTradeNum:     "TRADE-1",
		CardAuthNo:       "AUTH-1",
		TaxTotal:         "4545",
		IsTax:            "Y",
		CardInstallments: "0",
		Raw:              map[string]string{"PCD_PAY_RST": "success"},
	}
}

func snowflakeID(v int64) snowflake.ID { return snowflake.ID(v) }
