package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/contentmarket/internal/clock"
	"github.com/smallbiznis/contentmarket/internal/order/domain"
	"github.com/smallbiznis/contentmarket/internal/order/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (domain.Service, *gorm.DB, domain.Repository) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Order{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := repository.Provide()
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)),
		Repo:  repo,
	})
	return svc, db, repo
}

func validRequest() domain.CreateOrderRequest {
	return domain.CreateOrderRequest{
		ContentID:      101,
		OptionID:       201,
		SellerID:       301,
		ContentTitle:   "  1:1 resume coaching ",
		OptionName:     "60 minutes",
		ContentType:    domain.ContentTypeCoaching,
		Price:          55000,
		DiscountAmount: 5000,
	}
}

func TestCreateOrder(t *testing.T) {
	svc, _, _ := setupService(t)

	order, err := svc.CreateOrder(context.Background(), 42, validRequest())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(order.MerchantUID, MerchantUIDPrefix))
	assert.Len(t, order.MerchantUID, len(MerchantUIDPrefix)+26)
	assert.Equal(t, int64(50000), order.FinalPrice)
	assert.Equal(t, domain.StatusPending, order.Status)
	assert.Equal(t, "1:1 resume coaching", order.ContentTitle)
	assert.Equal(t, "1:1 resume coaching - 60 minutes", order.Goods())

	items := order.Items.Data()
	require.Len(t, items, 1)
	assert.Equal(t, int64(50000), items[0].Price)

	loaded, err := svc.GetByMerchantUID(context.Background(), order.MerchantUID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, loaded.ID)
	assert.Equal(t, int64(50000), loaded.Items.Data()[0].Price)
}

func TestCreateOrder_Validation(t *testing.T) {
	svc, _, _ := setupService(t)

	cases := map[string]struct {
		buyer  snowflake.ID
		mutate func(*domain.CreateOrderRequest)
		want   error
	}{
		"missing buyer":      {buyer: 0, mutate: func(*domain.CreateOrderRequest) {}, want: domain.ErrInvalidBuyer},
		"missing seller":     {buyer: 1, mutate: func(r *domain.CreateOrderRequest) { r.SellerID = 0 }, want: domain.ErrInvalidSeller},
		"blank title":        {buyer: 1, mutate: func(r *domain.CreateOrderRequest) { r.ContentTitle = " " }, want: domain.ErrInvalidContent},
		"unknown type":       {buyer: 1, mutate: func(r *domain.CreateOrderRequest) { r.ContentType = "VIDEO" }, want: domain.ErrInvalidType},
		"zero price":         {buyer: 1, mutate: func(r *domain.CreateOrderRequest) { r.Price = 0 }, want: domain.ErrInvalidPrice},
		"discount too large": {buyer: 1, mutate: func(r *domain.CreateOrderRequest) { r.DiscountAmount = 60000 }, want: domain.ErrInvalidDiscount},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			_, err := svc.CreateOrder(context.Background(), tc.buyer, req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestGetByMerchantUID_NotFound(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.GetByMerchantUID(context.Background(), "ORDMISSING")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateStatus_CompareAndSet(t *testing.T) {
	svc, db, repo := setupService(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, 42, validRequest())
	require.NoError(t, err)

	now := time.Date(2024, 1, 5, 12, 5, 0, 0, time.UTC)
	first := order
	require.NoError(t, first.MarkPaid(now))
	require.NoError(t, repo.UpdateStatus(ctx, db, &first, domain.StatusPending))

	second := order
	require.NoError(t, second.MarkFailed("late", now))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, db, &second, domain.StatusPending), domain.ErrStatusConflict)

	stored, err := svc.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)
}
