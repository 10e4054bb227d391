package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

// ChurnRecord is an immutable point-in-time snapshot taken when an
// organization cancels or moves to a lower tier. Unique on (org, event);
// provider redelivery must never produce a second row.
type ChurnRecord struct {
	ID      snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID   snowflake.ID `json:"org_id" gorm:"not null;uniqueIndex:idx_churn_org_event"`
	EventID string       `json:"event_id" gorm:"type:text;not null;uniqueIndex:idx_churn_org_event"`

	TenureDays       int            `json:"tenure_days" gorm:"not null"`
	RecentUsageCents int64          `json:"recent_usage_cents" gorm:"not null"`
	FeatureAdoption  pq.StringArray `json:"feature_adoption" gorm:"type:text[]"`

	PriorTier string `json:"prior_tier" gorm:"type:text;not null"`
	NewTier   string `json:"new_tier" gorm:"type:text;not null"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (ChurnRecord) TableName() string { return "churn_records" }

// AnalyticsSink receives every new churn record. Implementations must
// tolerate duplicates; the recorder only forwards freshly inserted rows
// but replay tooling may re-emit.
type AnalyticsSink interface {
	Record(ctx context.Context, record ChurnRecord) error
}
