package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CreditLedgerEntry is append-only. The organization row carries the
// materialized balance; entries are the audit trail and feed the churn
// snapshot's recent-usage figure.
type CreditLedgerEntry struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID      snowflake.ID `json:"org_id" gorm:"not null;index"`
	DeltaCents int64        `json:"delta_cents" gorm:"not null"`
	Reason     string       `json:"reason" gorm:"type:text;not null"`
	EventID    string       `json:"event_id" gorm:"type:text;index"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null;index"`
}

func (CreditLedgerEntry) TableName() string { return "credit_ledger_entries" }

type TopupStatus string

const (
	TopupStatusPending   TopupStatus = "pending"
	TopupStatusSucceeded TopupStatus = "succeeded"
	TopupStatusFailed    TopupStatus = "failed"
)

// TopupAttempt is the durable idempotency record for auto-top-up charges:
// at most one row, and therefore one charge attempt, per threshold
// crossing epoch. There is no automatic retry of a failed attempt.
type TopupAttempt struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID `json:"org_id" gorm:"not null;uniqueIndex:idx_topup_org_epoch"`
	Epoch          int64        `json:"epoch" gorm:"not null;uniqueIndex:idx_topup_org_epoch"`
	IdempotencyKey string       `json:"idempotency_key" gorm:"type:text;not null;uniqueIndex"`
	AmountCents    int64        `json:"amount_cents" gorm:"not null"`
	Status         TopupStatus  `json:"status" gorm:"type:text;not null"`
	LastError      string       `json:"last_error" gorm:"type:text"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time    `json:"updated_at" gorm:"not null"`
}

func (TopupAttempt) TableName() string { return "topup_attempts" }

var (
	ErrInvalidAmount = errors.New("invalid_amount")
)
