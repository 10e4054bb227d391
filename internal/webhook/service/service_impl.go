package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/snappy"
	"github.com/oklog/ulid/v2"
	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/metrics"
	"github.com/railzwaylabs/paygate/internal/orglock"
	orgdomain "github.com/railzwaylabs/paygate/internal/organization/domain"
	subscriptiondomain "github.com/railzwaylabs/paygate/internal/subscription/domain"
	subscriptionservice "github.com/railzwaylabs/paygate/internal/subscription/service"
	"github.com/railzwaylabs/paygate/internal/webhook/domain"
	"github.com/railzwaylabs/paygate/internal/webhook/verifier"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Verifier *verifier.Verifier
	Locks    *orglock.Registry
	OrgRepo  orgdomain.Repository
	SubSvc   *subscriptionservice.Service
	Metrics  *metrics.Metrics `optional:"true"`
}

// Service is the event router: verify, claim the event id, dispatch, ack.
// Everything after signature verification answers 200 to the provider;
// failures become operator-visible records, never provider retries.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      config.Config
	verifier *verifier.Verifier
	locks    *orglock.Registry
	orgRepo  orgdomain.Repository
	subSvc   *subscriptionservice.Service
	metrics  *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("webhook.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Cfg,
		verifier: p.Verifier,
		locks:    p.Locks,
		orgRepo:  p.OrgRepo,
		subSvc:   p.SubSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) Ingest(ctx context.Context, payload []byte, sigHeader, env string) error {
	secret, err := s.cfg.SecretFor(env)
	if err != nil {
		// No secret for this environment selector means we cannot
		// authenticate the sender at all.
		s.log.Warn("webhook for unknown environment", zap.String("env", env))
		return domain.ErrInvalidSignature
	}

	if err := s.verifier.Verify(ctx, payload, sigHeader, secret, s.cfg.Tolerance()); err != nil {
		return err
	}

	event, err := verifier.ParseEvent(payload)
	if err != nil {
		return err
	}

	log := s.log.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)))

	if !event.Type.Known() {
		// New provider event types must never bounce; record and move on.
		log.Info("unhandled event type acknowledged")
		s.record(ctx, event, 0, domain.OutcomeIgnored)
		return nil
	}

	org, err := s.resolveOrg(ctx, event)
	if err != nil {
		log.Error("organization resolution failed", zap.Error(err))
		s.recordFailure(ctx, event, 0, err, env)
		s.count(event.Type, domain.OutcomeFailed)
		return nil
	}

	unlock := s.locks.Lock(org.ID)
	defer unlock()

	outcome, handlerErr := s.processLocked(ctx, event, org.ID, env)
	s.count(event.Type, outcome)

	switch outcome {
	case domain.OutcomeApplied:
		log.Info("event applied", zap.String("org_id", org.ID.String()))
	case domain.OutcomeDuplicate:
		log.Info("duplicate delivery acknowledged", zap.String("org_id", org.ID.String()))
	case domain.OutcomeStale:
		log.Info("stale event dropped", zap.String("org_id", org.ID.String()))
	case domain.OutcomeIgnored:
		log.Info("event ignored", zap.String("org_id", org.ID.String()))
	case domain.OutcomeFailed:
		log.Error("event handler failed",
			zap.String("org_id", org.ID.String()),
			zap.Error(handlerErr))
	}
	return nil
}

// processLocked runs the dedup claim and the handler in one transaction.
// A crash anywhere inside rolls the claim back with the mutation, so the
// provider's redelivery re-runs the whole unit of work. A handler error
// also rolls the mutation back, but then the event id is claimed with a
// failed outcome in a fresh transaction: redeliveries of a failed event
// ack immediately and recovery is operator replay.
func (s *Service) processLocked(ctx context.Context, event *domain.Event, orgID snowflake.ID, env string) (domain.Outcome, error) {
	duplicate := false
	outcome := domain.OutcomeApplied

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := domain.ProcessedEvent{
			ID:         s.genID.Generate(),
			EventID:    event.ID,
			EventType:  string(event.Type),
			OrgID:      orgID,
			Outcome:    domain.OutcomeApplied,
			ReceivedAt: s.clock.Now(ctx),
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).Create(&claim)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			duplicate = true
			return nil
		}

		if err := s.dispatch(ctx, tx, event, orgID); err != nil {
			switch {
			case errors.Is(err, domain.ErrStaleEvent):
				outcome = domain.OutcomeStale
			case errors.Is(err, subscriptiondomain.ErrMeteredModelEvent):
				outcome = domain.OutcomeIgnored
			default:
				return err
			}
			return tx.Model(&domain.ProcessedEvent{}).
				Where("event_id = ?", event.ID).
				Update("outcome", outcome).Error
		}
		return nil
	})

	if duplicate {
		return domain.OutcomeDuplicate, nil
	}
	if err != nil {
		s.recordFailure(ctx, event, orgID, err, env)
		return domain.OutcomeFailed, err
	}
	return outcome, nil
}

func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event *domain.Event, orgID snowflake.ID) error {
	org, err := s.orgRepo.FindByID(ctx, tx, orgID)
	if err != nil {
		return err
	}
	if org == nil {
		return domain.ErrUnknownOrganization
	}

	switch event.Type {
	case domain.EventSubscriptionCreated:
		return s.subSvc.ApplySubscriptionCreated(ctx, tx, org, event)
	case domain.EventSubscriptionUpdated:
		return s.subSvc.ApplySubscriptionUpdated(ctx, tx, org, event)
	case domain.EventSubscriptionDeleted:
		return s.subSvc.ApplySubscriptionDeleted(ctx, tx, org, event)
	case domain.EventCheckoutCompleted:
		return s.subSvc.ApplyCheckoutCompleted(ctx, tx, org, event)
	default:
		// Known() gates this path; a new member of the union without a
		// handler is a programming error worth failing loudly on.
		return errors.New("unhandled_event_type: " + string(event.Type))
	}
}

func (s *Service) resolveOrg(ctx context.Context, event *domain.Event) (*orgdomain.Organization, error) {
	var metadata map[string]string
	var customerID string

	switch {
	case event.Subscription != nil:
		metadata = event.Subscription.Metadata
		customerID = event.Subscription.ProviderCustomerID
	case event.Checkout != nil:
		metadata = event.Checkout.Metadata
		customerID = event.Checkout.ProviderCustomerID
		if ref := event.Checkout.ClientReferenceID; ref != "" {
			if id, err := snowflake.ParseString(ref); err == nil {
				return s.findOrg(ctx, id)
			}
		}
	}

	if raw := metadata[subscriptiondomain.MetadataOrgID]; raw != "" {
		if id, err := snowflake.ParseString(raw); err == nil {
			return s.findOrg(ctx, id)
		}
	}

	org, err := s.orgRepo.FindByBillingCustomerID(ctx, s.db, customerID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, domain.ErrUnknownOrganization
	}
	return org, nil
}

func (s *Service) findOrg(ctx context.Context, id snowflake.ID) (*orgdomain.Organization, error) {
	org, err := s.orgRepo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, domain.ErrUnknownOrganization
	}
	return org, nil
}

// record claims the event id outside the failing path (ignored types).
func (s *Service) record(ctx context.Context, event *domain.Event, orgID snowflake.ID, outcome domain.Outcome) {
	claim := domain.ProcessedEvent{
		ID:         s.genID.Generate(),
		EventID:    event.ID,
		EventType:  string(event.Type),
		OrgID:      orgID,
		Outcome:    outcome,
		ReceivedAt: s.clock.Now(ctx),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&claim).Error
	if err != nil {
		s.log.Error("record processed event", zap.Error(err))
	}
	s.count(event.Type, outcome)
}

// recordFailure claims the event id with a failed outcome and persists the
// raw payload for manual replay. Every failure record carries the event
// id, event type, and organization id.
func (s *Service) recordFailure(ctx context.Context, event *domain.Event, orgID snowflake.ID, cause error, env string) {
	now := s.clock.Now(ctx)

	claim := domain.ProcessedEvent{
		ID:         s.genID.Generate(),
		EventID:    event.ID,
		EventType:  string(event.Type),
		OrgID:      orgID,
		Outcome:    domain.OutcomeFailed,
		ReceivedAt: now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&claim).Error
	if err != nil {
		s.log.Error("record failed event claim", zap.Error(err))
	}

	failed := domain.FailedEvent{
		ID:          s.genID.Generate(),
		EventID:     event.ID,
		EventType:   string(event.Type),
		OrgID:       orgID,
		Reason:      cause.Error(),
		ReplayToken: ulid.Make().String(),
		Payload:     snappy.Encode(nil, event.RawPayload),
		Context:     datatypes.JSONMap{"env": env},
		CreatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&failed).Error; err != nil {
		s.log.Error("persist failed event", zap.Error(err))
	}
}

func (s *Service) ListFailed(ctx context.Context, limit int) ([]domain.FailedEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var failed []domain.FailedEvent
	err := s.db.WithContext(ctx).
		Where("replayed_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&failed).Error
	return failed, err
}

// Replay re-runs a failed event under the same lock and transaction
// discipline as first delivery. Success flips the processed outcome to
// applied and closes the failure record.
func (s *Service) Replay(ctx context.Context, id snowflake.ID) error {
	var failed domain.FailedEvent
	err := s.db.WithContext(ctx).First(&failed, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrFailedEventNotFound
	}
	if err != nil {
		return err
	}
	if failed.ReplayedAt != nil {
		return nil
	}

	raw, err := snappy.Decode(nil, failed.Payload)
	if err != nil {
		return err
	}
	event, err := verifier.ParseEvent(raw)
	if err != nil {
		return err
	}

	org, err := s.resolveOrg(ctx, event)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(org.ID)
	defer unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.dispatch(ctx, tx, event, org.ID); err != nil {
			if errors.Is(err, domain.ErrStaleEvent) || errors.Is(err, subscriptiondomain.ErrMeteredModelEvent) {
				return nil
			}
			return err
		}
		return tx.Model(&domain.ProcessedEvent{}).
			Where("event_id = ?", event.ID).
			Update("outcome", domain.OutcomeApplied).Error
	})
	if err != nil {
		return err
	}

	now := s.clock.Now(ctx)
	return s.db.WithContext(ctx).Model(&domain.FailedEvent{}).
		Where("id = ?", failed.ID).
		Update("replayed_at", now).Error
}

func (s *Service) count(eventType domain.EventType, outcome domain.Outcome) {
	if s.metrics == nil {
		return
	}
	s.metrics.EventsTotal.WithLabelValues(string(eventType), string(outcome)).Inc()
}
