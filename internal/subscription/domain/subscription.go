package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/railzwaylabs/paygate/internal/organization/domain"
)

// DefaultPaidTier is applied when a subscription.created event carries no
// tier metadata. Provisioning always writes the tier; the fallback only
// covers subscriptions created directly in the provider dashboard.
const DefaultPaidTier = orgdomain.TierPro

// Metadata keys the provisioning flow writes into provider objects.
const (
	MetadataOrgID          = "org_id"
	MetadataTier           = "tier"
	MetadataPeriod         = "period"
	MetadataPurpose        = "purpose"
	MetadataSubscriptionID = "subscription_id"

	PurposeCredits      = "credits"
	PurposeSubscription = "subscription"
)

type ScheduleDowngradeRequest struct {
	OrgID       snowflake.ID
	TargetTier  orgdomain.Tier
	EffectiveAt time.Time
}

type ScheduleCancellationRequest struct {
	OrgID  snowflake.ID
	EndsAt time.Time
}

var (
	// ErrMeteredModelEvent marks a customer.subscription.* event that
	// belongs to the metered billing model. Legacy handlers must not act on
	// it: metered checkouts do not populate the metadata the legacy path
	// reads, and applying the event would corrupt tier state.
	ErrMeteredModelEvent = errors.New("metered_model_event")

	// A downgrade and a cancellation cannot be scheduled at the same time;
	// the second schedule attempt is rejected.
	ErrCancellationScheduled = errors.New("cancellation_already_scheduled")
	ErrDowngradeScheduled    = errors.New("downgrade_already_scheduled")

	ErrTierNotLower       = errors.New("target_tier_not_lower")
	ErrInvalidEffectiveAt = errors.New("invalid_effective_at")
)
