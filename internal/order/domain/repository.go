package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByMerchantUID(ctx context.Context, db *gorm.DB, merchantUID string) (*Order, error)
	// UpdateStatus persists the order's status fields only if the stored
	// status still equals from. It returns ErrStatusConflict otherwise.
	UpdateStatus(ctx context.Context, db *gorm.DB, order *Order, from Status) error
}
