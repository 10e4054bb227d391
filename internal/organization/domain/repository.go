package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository always receives the caller's handle so mutations can run
// inside the caller's transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, org *Organization) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Organization, error)
	FindByBillingCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*Organization, error)
	Update(ctx context.Context, db *gorm.DB, org *Organization) error

	FindTopupSetting(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*CreditTopupSetting, error)
	SaveTopupSetting(ctx context.Context, db *gorm.DB, setting *CreditTopupSetting) error
}
