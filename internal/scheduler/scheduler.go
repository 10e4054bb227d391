package scheduler

import (
	"context"
	"time"

	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	subscriptionservice "github.com/railzwaylabs/paygate/internal/subscription/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Cfg    config.Config
	Clock  clock.Clock
	SubSvc *subscriptionservice.Service
}

// Scheduler runs the periodic jobs: applying due downgrades and pruning
// replayed failed events past retention.
type Scheduler struct {
	db     *gorm.DB
	log    *zap.Logger
	cfg    config.Config
	clock  clock.Clock
	subSvc *subscriptionservice.Service

	stop chan struct{}
	done chan struct{}
}

func New(p Params) *Scheduler {
	return &Scheduler{
		db:     p.DB,
		log:    p.Log.Named("scheduler"),
		cfg:    p.Cfg,
		clock:  p.Clock,
		subSvc: p.SubSvc,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *Scheduler) interval() time.Duration {
	seconds := s.cfg.Scheduler.IntervalSeconds
	if seconds <= 0 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick runs every job once. Jobs are independent; one failing does not
// stop the others.
func (s *Scheduler) Tick(ctx context.Context) {
	if err := s.ApplyDueDowngradesJob(ctx); err != nil {
		s.log.Error("apply due downgrades", zap.Error(err))
	}
	if err := s.PruneReplayedFailedEventsJob(ctx); err != nil {
		s.log.Error("prune replayed failed events", zap.Error(err))
	}
}

func (s *Scheduler) ApplyDueDowngradesJob(ctx context.Context) error {
	applied, err := s.subSvc.ApplyDueDowngrades(ctx)
	if err != nil {
		return err
	}
	if applied > 0 {
		s.log.Info("applied due downgrades", zap.Int("count", applied))
	}
	return nil
}

func Start(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run()
			s.log.Info("scheduler started", zap.Duration("interval", s.interval()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(s.stop)
			select {
			case <-s.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
