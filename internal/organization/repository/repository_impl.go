package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/organization/domain"
	"gorm.io/gorm"
)

type repository struct{}

func NewRepository() domain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, org *domain.Organization) error {
	return db.WithContext(ctx).Create(org).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := db.WithContext(ctx).First(&org, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *repository) FindByBillingCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*domain.Organization, error) {
	if customerID == "" {
		return nil, nil
	}
	var org domain.Organization
	err := db.WithContext(ctx).First(&org, "billing_customer_id = ?", customerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *repository) Update(ctx context.Context, db *gorm.DB, org *domain.Organization) error {
	return db.WithContext(ctx).Save(org).Error
}

func (r *repository) FindTopupSetting(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.CreditTopupSetting, error) {
	var setting domain.CreditTopupSetting
	err := db.WithContext(ctx).First(&setting, "org_id = ?", orgID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

func (r *repository) SaveTopupSetting(ctx context.Context, db *gorm.DB, setting *domain.CreditTopupSetting) error {
	return db.WithContext(ctx).Save(setting).Error
}
