package scheduler

import (
	"context"

	whdomain "github.com/railzwaylabs/paygate/internal/webhook/domain"
	"go.uber.org/zap"
)

// PruneReplayedFailedEventsJob deletes failed events that were already
// replayed and are older than the retention window. Unreplayed failures are
// never pruned; they represent work an operator still owes.
func (s *Scheduler) PruneReplayedFailedEventsJob(ctx context.Context) error {
	retentionDays := s.cfg.Scheduler.FailedEventRetentionDays
	if retentionDays <= 0 {
		return nil
	}

	cutoff := s.clock.Now(ctx).AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).
		Where("replayed_at IS NOT NULL AND replayed_at < ?", cutoff).
		Delete(&whdomain.FailedEvent{})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		s.log.Info("pruned replayed failed events",
			zap.Int64("deleted", result.RowsAffected),
			zap.Time("cutoff", cutoff))
	}
	return nil
}
