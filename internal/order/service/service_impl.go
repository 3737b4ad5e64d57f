package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/contentmarket/internal/clock"
	"github.com/smallbiznis/contentmarket/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MerchantUIDPrefix marks merchant uids issued by this service.
const MerchantUIDPrefix = "ORD"

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("order.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) CreateOrder(ctx context.Context, buyerID snowflake.ID, req domain.CreateOrderRequest) (domain.Order, error) {
	if buyerID == 0 {
		return domain.Order{}, domain.ErrInvalidBuyer
	}
	if req.SellerID == 0 {
		return domain.Order{}, domain.ErrInvalidSeller
	}
	title := strings.TrimSpace(req.ContentTitle)
	if req.ContentID == 0 || title == "" {
		return domain.Order{}, domain.ErrInvalidContent
	}
	switch req.ContentType {
	case domain.ContentTypeCoaching, domain.ContentTypeDocument:
	default:
		return domain.Order{}, domain.ErrInvalidType
	}
	if req.Price <= 0 {
		return domain.Order{}, domain.ErrInvalidPrice
	}
	if req.DiscountAmount < 0 || req.DiscountAmount > req.Price {
		return domain.Order{}, domain.ErrInvalidDiscount
	}

	now := s.clock.Now()
	optionName := strings.TrimSpace(req.OptionName)
	order := domain.Order{
		ID:             s.genID.Generate(),
		MerchantUID:    NewMerchantUID(ulid.Timestamp(now)),
		BuyerID:        buyerID,
		SellerID:       req.SellerID,
		ContentID:      req.ContentID,
		OptionID:       req.OptionID,
		ContentTitle:   title,
		OptionName:     optionName,
		ContentType:    req.ContentType,
		OriginalPrice:  req.Price,
		DiscountAmount: req.DiscountAmount,
		FinalPrice:     req.Price - req.DiscountAmount,
		Items: datatypes.NewJSONType([]domain.LineItem{{
			ContentID: req.ContentID,
			OptionID:  req.OptionID,
			Title:     title,
			Option:    optionName,
			Price:     req.Price - req.DiscountAmount,
		}}),
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, s.db, &order); err != nil {
		return domain.Order{}, err
	}

	s.log.Info("order created",
		zap.String("merchant_uid", order.MerchantUID),
		zap.String("order_id", order.ID.String()),
		zap.Int64("final_price", order.FinalPrice),
	)
	return order, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Order, error) {
	order, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Order{}, err
	}
	if order == nil {
		return domain.Order{}, domain.ErrNotFound
	}
	return *order, nil
}

func (s *Service) GetByMerchantUID(ctx context.Context, merchantUID string) (domain.Order, error) {
	merchantUID = strings.TrimSpace(merchantUID)
	if merchantUID == "" {
		return domain.Order{}, domain.ErrNotFound
	}
	order, err := s.repo.FindByMerchantUID(ctx, s.db, merchantUID)
	if err != nil {
		return domain.Order{}, err
	}
	if order == nil {
		return domain.Order{}, domain.ErrNotFound
	}
	return *order, nil
}

// NewMerchantUID returns a sortable, globally unique merchant uid.
func NewMerchantUID(ms uint64) string {
	return MerchantUIDPrefix + ulid.MustNew(ms, ulid.DefaultEntropy()).String()
}
