package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound          = errors.New("order_not_found")
	ErrInvalidBuyer      = errors.New("invalid_buyer")
	ErrInvalidSeller     = errors.New("invalid_seller")
	ErrInvalidContent    = errors.New("invalid_content")
	ErrInvalidPrice      = errors.New("invalid_price")
	ErrInvalidDiscount   = errors.New("invalid_discount")
	ErrInvalidType       = errors.New("invalid_content_type")
	ErrInvalidTransition = errors.New("invalid_order_transition")
	ErrStatusConflict    = errors.New("order_status_conflict")
)

type CreateOrderRequest struct {
	ContentID      snowflake.ID
	OptionID       snowflake.ID
	SellerID       snowflake.ID
	ContentTitle   string
	OptionName     string
	ContentType    ContentType
	Price          int64
	DiscountAmount int64
}

type Service interface {
	CreateOrder(ctx context.Context, buyerID snowflake.ID, req CreateOrderRequest) (Order, error)
	GetByID(ctx context.Context, id snowflake.ID) (Order, error)
	GetByMerchantUID(ctx context.Context, merchantUID string) (Order, error)
}
