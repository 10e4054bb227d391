package service

import (
	"context"

	churndomain "github.com/railzwaylabs/paygate/internal/churn/domain"
	"go.uber.org/zap"
)

// LogSink is the default analytics sink. The warehouse pipeline tails the
// structured log; a direct exporter can replace this without touching the
// recorder.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) churndomain.AnalyticsSink {
	return &LogSink{log: log.Named("churn.sink")}
}

func (s *LogSink) Record(_ context.Context, record churndomain.ChurnRecord) error {
	s.log.Info("churn",
		zap.String("org_id", record.OrgID.String()),
		zap.String("event_id", record.EventID),
		zap.String("prior_tier", record.PriorTier),
		zap.String("new_tier", record.NewTier),
		zap.Int("tenure_days", record.TenureDays),
		zap.Int64("recent_usage_cents", record.RecentUsageCents),
		zap.Strings("feature_adoption", record.FeatureAdoption))
	return nil
}
