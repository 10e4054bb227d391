package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Tier string

const (
	TierFree       Tier = "FREE"
	TierPro        Tier = "PRO"
	TierTeam       Tier = "TEAM"
	TierBusiness   Tier = "BUSINESS"
	TierEnterprise Tier = "ENTERPRISE"
)

var tierRank = map[Tier]int{
	TierFree:       0,
	TierPro:        1,
	TierTeam:       2,
	TierBusiness:   3,
	TierEnterprise: 4,
}

func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// LowerThan reports whether t is a strictly lower tier than other.
func (t Tier) LowerThan(other Tier) bool {
	return tierRank[t] < tierRank[other]
}

type Period string

const (
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
)

type Organization struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	Name              string       `json:"name" gorm:"type:text;not null"`
	BillingCustomerID string       `json:"billing_customer_id" gorm:"type:text;index"`

	SubscriptionTier       Tier    `json:"subscription_tier" gorm:"type:text;not null;default:'FREE'"`
	SubscriptionPeriod     Period  `json:"subscription_period" gorm:"type:text"`
	ProviderSubscriptionID *string `json:"provider_subscription_id" gorm:"type:text;index"`

	Status SubscriptionStatus `json:"status" gorm:"type:text;not null;default:'active'"`

	PendingDowngradeTier    *Tier      `json:"pending_downgrade_tier" gorm:"type:text"`
	DowngradeEffectiveAt    *time.Time `json:"downgrade_effective_at"`
	SubscriptionCancelledAt *time.Time `json:"subscription_cancelled_at"`
	SubscriptionEndsAt      *time.Time `json:"subscription_ends_at"`

	CreditsExhausted   bool  `json:"credits_exhausted" gorm:"not null;default:false"`
	CreditBalanceCents int64 `json:"credit_balance_cents" gorm:"not null;default:0"`

	// LastAppliedEventTS gates every provider-driven transition; events with
	// an older provider timestamp are dropped.
	LastAppliedEventTS *time.Time `json:"last_applied_event_ts"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Organization) TableName() string { return "organizations" }

type SubscriptionStatus string

const (
	StatusActive             SubscriptionStatus = "active"
	StatusPastDue            SubscriptionStatus = "past_due"
	StatusCancelScheduled    SubscriptionStatus = "cancel_scheduled"
	StatusCancelled          SubscriptionStatus = "cancelled"
	StatusDowngradeScheduled SubscriptionStatus = "downgrade_scheduled"
)

// CreditTopupSetting controls automatic charges when an organization's
// credit balance drops below a fraction of its allowance.
type CreditTopupSetting struct {
	OrgID            snowflake.ID `json:"org_id" gorm:"primaryKey"`
	Enabled          bool         `json:"enabled" gorm:"not null;default:false"`
	AmountCents      int64        `json:"amount_cents" gorm:"not null;default:0"`
	AllowanceCents   int64        `json:"allowance_cents" gorm:"not null;default:0"`
	ThresholdPercent int          `json:"threshold_percent" gorm:"not null;default:0"`

	// ThresholdEpoch counts distinct threshold crossings. A charge is
	// attempted at most once per epoch.
	ThresholdEpoch int64 `json:"threshold_epoch" gorm:"not null;default:0"`

	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (CreditTopupSetting) TableName() string { return "credit_topup_settings" }

var (
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrInvalidTier          = errors.New("invalid_tier")
)
