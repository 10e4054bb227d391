package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventType is the closed set of provider notifications this engine acts
// on. Anything else is acknowledged and recorded as ignored; the provider
// adds types without notice and an unknown type must never be an error.
type EventType string

const (
	EventSubscriptionCreated EventType = "customer.subscription.created"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
	EventCheckoutCompleted   EventType = "checkout.session.completed"
)

func (t EventType) Known() bool {
	switch t {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted, EventCheckoutCompleted:
		return true
	}
	return false
}

// Event is a verified, parsed provider notification. Exactly one of
// Subscription and Checkout is populated for known event types.
type Event struct {
	ID         string
	Type       EventType
	OccurredAt time.Time
	RawPayload []byte

	Subscription *SubscriptionData
	Checkout     *CheckoutData
}

type SubscriptionData struct {
	ProviderSubscriptionID string
	ProviderCustomerID     string
	Status                 string
	CancelAtPeriodEnd      bool
	CurrentPeriodEnd       time.Time
	PriceID                string
	Metadata               map[string]string
}

type CheckoutData struct {
	SessionID          string
	ProviderCustomerID string
	ClientReferenceID  string
	AmountTotal        int64
	Metadata           map[string]string
}

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeIgnored Outcome = "ignored"
	OutcomeStale   Outcome = "stale"
	OutcomeFailed  Outcome = "failed"

	// OutcomeDuplicate marks a redelivery of an already-claimed event id.
	// It shows up in logs and metrics only; the stored outcome stays what
	// the first delivery decided.
	OutcomeDuplicate Outcome = "duplicate"
)

// ProcessedEvent makes event application idempotent: one row per provider
// event id, ever. The insert is the atomic claim on the event.
type ProcessedEvent struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	EventID    string       `json:"event_id" gorm:"type:text;not null;uniqueIndex"`
	EventType  string       `json:"event_type" gorm:"type:text;not null"`
	OrgID      snowflake.ID `json:"org_id" gorm:"index"`
	Outcome    Outcome      `json:"outcome" gorm:"type:text;not null"`
	ReceivedAt time.Time    `json:"received_at" gorm:"not null"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }

// FailedEvent is the operator-visible record of a handler failure. The
// provider still got a 200; recovery is manual replay, never redelivery.
type FailedEvent struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	EventID     string       `json:"event_id" gorm:"type:text;not null;index"`
	EventType   string       `json:"event_type" gorm:"type:text;not null"`
	OrgID       snowflake.ID `json:"org_id" gorm:"index"`
	Reason      string       `json:"reason" gorm:"type:text;not null"`
	ReplayToken string       `json:"replay_token" gorm:"type:text;not null;uniqueIndex"`

	// Payload holds the snappy-compressed raw body so replay re-runs the
	// original handler input byte for byte.
	Payload []byte `json:"-" gorm:"type:bytea"`

	// Context carries delivery details for the operator, such as the
	// environment selector the delivery arrived with.
	Context datatypes.JSONMap `json:"context" gorm:"type:jsonb"`

	ReplayedAt *time.Time `json:"replayed_at"`
	CreatedAt  time.Time  `json:"created_at" gorm:"not null"`
}

func (FailedEvent) TableName() string { return "failed_events" }

var (
	// External classes. ErrInvalidSignature is the only one the provider is
	// allowed to retry on (401); everything downstream acks 200.
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrMalformedPayload = errors.New("malformed_payload")

	// Internal reasons behind ErrInvalidSignature, for diagnostics only.
	ErrMalformedHeader  = errors.New("malformed_signature_header")
	ErrTimestampOutside = errors.New("timestamp_outside_tolerance")
	ErrDigestMismatch   = errors.New("signature_digest_mismatch")

	// Handler-level outcomes.
	ErrStaleEvent          = errors.New("stale_event")
	ErrUnknownOrganization = errors.New("unknown_organization")
	ErrFailedEventNotFound = errors.New("failed_event_not_found")
)
