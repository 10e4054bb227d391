package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"github.com/railzwaylabs/paygate/internal/clock"
	churndomain "github.com/railzwaylabs/paygate/internal/churn/domain"
	orgdomain "github.com/railzwaylabs/paygate/internal/organization/domain"
	pkgdb "github.com/railzwaylabs/paygate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const recentUsageWindow = 30 * 24 * time.Hour

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Sink  churndomain.AnalyticsSink
}

type Recorder struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	sink  churndomain.AnalyticsSink
}

func NewRecorder(p Params) *Recorder {
	return &Recorder{
		log:   p.Log.Named("churn.recorder"),
		genID: p.GenID,
		clock: p.Clock,
		sink:  p.Sink,
	}
}

// Record snapshots the organization at the moment of a cancellation or
// downgrade and inserts it keyed on (org, event). Runs on the caller's
// handle so the insert commits or rolls back with the event transaction.
// A duplicate insert is a no-op: the snapshot for this event exists.
func (r *Recorder) Record(ctx context.Context, db *gorm.DB, org *orgdomain.Organization, eventID string, priorTier, newTier orgdomain.Tier) error {
	now := r.clock.Now(ctx)

	usage, features, err := r.usageSnapshot(ctx, db, org.ID, now)
	if err != nil {
		return err
	}

	record := churndomain.ChurnRecord{
		ID:               r.genID.Generate(),
		OrgID:            org.ID,
		EventID:          eventID,
		TenureDays:       int(now.Sub(org.CreatedAt).Hours() / 24),
		RecentUsageCents: usage,
		FeatureAdoption:  pq.StringArray(features),
		PriorTier:        string(priorTier),
		NewTier:          string(newTier),
		CreatedAt:        now,
	}

	if err := db.WithContext(ctx).Create(&record).Error; err != nil {
		if pkgdb.IsDuplicate(err) {
			r.log.Debug("churn record already exists",
				zap.String("org_id", org.ID.String()),
				zap.String("event_id", eventID))
			return nil
		}
		return err
	}

	if err := r.sink.Record(ctx, record); err != nil {
		// The snapshot is committed; analytics delivery is best effort.
		r.log.Warn("analytics sink", zap.Error(err),
			zap.String("org_id", org.ID.String()),
			zap.String("event_id", eventID))
	}
	return nil
}

func (r *Recorder) usageSnapshot(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now time.Time) (int64, []string, error) {
	since := now.Add(-recentUsageWindow)

	var usage int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(-delta_cents), 0)
		 FROM credit_ledger_entries
		 WHERE org_id = ? AND delta_cents < 0 AND created_at >= ?`,
		orgID, since,
	).Scan(&usage).Error
	if err != nil {
		return 0, nil, err
	}

	var features []string
	err = db.WithContext(ctx).Raw(
		`SELECT DISTINCT reason
		 FROM credit_ledger_entries
		 WHERE org_id = ? AND delta_cents < 0 AND created_at >= ?
		 ORDER BY reason`,
		orgID, since,
	).Scan(&features).Error
	if err != nil {
		return 0, nil, err
	}

	return usage, features, nil
}
