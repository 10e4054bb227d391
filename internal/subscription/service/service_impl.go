package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/billing/classifier"
	churnservice "github.com/railzwaylabs/paygate/internal/churn/service"
	"github.com/railzwaylabs/paygate/internal/clock"
	creditservice "github.com/railzwaylabs/paygate/internal/credit/service"
	notificationdomain "github.com/railzwaylabs/paygate/internal/notification/domain"
	"github.com/railzwaylabs/paygate/internal/orglock"
	orgdomain "github.com/railzwaylabs/paygate/internal/organization/domain"
	subscriptiondomain "github.com/railzwaylabs/paygate/internal/subscription/domain"
	whdomain "github.com/railzwaylabs/paygate/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Locks    *orglock.Registry
	OrgRepo  orgdomain.Repository
	Credit   *creditservice.Service
	Churn    *churnservice.Recorder
	Notifier notificationdomain.Dispatcher
}

// Service owns every transition of organization subscription state.
// Provider events arrive through the webhook router (which already holds
// the org lock and a transaction); user commands acquire the same lock
// here, so a UI undo and a concurrent provider event serialize.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	locks    *orglock.Registry
	orgRepo  orgdomain.Repository
	credit   *creditservice.Service
	churn    *churnservice.Recorder
	notifier notificationdomain.Dispatcher
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("subscription.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		locks:    p.Locks,
		orgRepo:  p.OrgRepo,
		credit:   p.Credit,
		churn:    p.Churn,
		notifier: p.Notifier,
	}
}

// guardFresh enforces the ordering rule: a transition only applies when
// the provider timestamp is newer than the last applied one. Stale events
// are dropped, which keeps redelivered and reordered streams commutative.
func guardFresh(org *orgdomain.Organization, occurredAt time.Time) error {
	if org.LastAppliedEventTS != nil && !occurredAt.After(*org.LastAppliedEventTS) {
		return whdomain.ErrStaleEvent
	}
	return nil
}

func (s *Service) ApplySubscriptionCreated(ctx context.Context, tx *gorm.DB, org *orgdomain.Organization, ev *whdomain.Event) error {
	sub := ev.Subscription
	if classifier.IsMetered(sub.PriceID) {
		return subscriptiondomain.ErrMeteredModelEvent
	}
	if err := guardFresh(org, ev.OccurredAt); err != nil {
		return err
	}

	tier := orgdomain.Tier(sub.Metadata[subscriptiondomain.MetadataTier])
	if !tier.Valid() {
		tier = subscriptiondomain.DefaultPaidTier
	}

	org.SubscriptionTier = tier
	org.Status = orgdomain.StatusActive
	org.ProviderSubscriptionID = &sub.ProviderSubscriptionID
	if org.BillingCustomerID == "" {
		org.BillingCustomerID = sub.ProviderCustomerID
	}
	if period := orgdomain.Period(sub.Metadata[subscriptiondomain.MetadataPeriod]); period != "" {
		org.SubscriptionPeriod = period
	}
	return s.commit(ctx, tx, org, ev.OccurredAt)
}

func (s *Service) ApplySubscriptionUpdated(ctx context.Context, tx *gorm.DB, org *orgdomain.Organization, ev *whdomain.Event) error {
	sub := ev.Subscription
	if classifier.IsMetered(sub.PriceID) {
		return subscriptiondomain.ErrMeteredModelEvent
	}
	if err := guardFresh(org, ev.OccurredAt); err != nil {
		return err
	}

	switch {
	case sub.CancelAtPeriodEnd:
		org.Status = orgdomain.StatusCancelScheduled
		if !sub.CurrentPeriodEnd.IsZero() {
			endsAt := sub.CurrentPeriodEnd
			org.SubscriptionEndsAt = &endsAt
		}
	case sub.Status == "past_due":
		// Tier stays; access is decided elsewhere.
		org.Status = orgdomain.StatusPastDue
		_ = s.notifier.Send(ctx, notificationdomain.KindPaymentFailed, org.ID, map[string]any{
			"event_id":        ev.ID,
			"subscription_id": sub.ProviderSubscriptionID,
		})
	case sub.Status == "active":
		org.Status = orgdomain.StatusActive
		org.SubscriptionEndsAt = nil
	default:
		s.log.Info("subscription update without actionable status",
			zap.String("org_id", org.ID.String()),
			zap.String("event_id", ev.ID),
			zap.String("status", sub.Status))
	}

	return s.commit(ctx, tx, org, ev.OccurredAt)
}

func (s *Service) ApplySubscriptionDeleted(ctx context.Context, tx *gorm.DB, org *orgdomain.Organization, ev *whdomain.Event) error {
	if classifier.IsMetered(ev.Subscription.PriceID) {
		return subscriptiondomain.ErrMeteredModelEvent
	}
	if err := guardFresh(org, ev.OccurredAt); err != nil {
		return err
	}

	priorTier := org.SubscriptionTier

	org.SubscriptionTier = orgdomain.TierFree
	org.Status = orgdomain.StatusCancelled
	org.ProviderSubscriptionID = nil
	cancelledAt := ev.OccurredAt
	org.SubscriptionCancelledAt = &cancelledAt
	// Pending schedule fields fall with the subscription they refer to.
	org.PendingDowngradeTier = nil
	org.DowngradeEffectiveAt = nil
	org.SubscriptionEndsAt = nil

	if err := s.commit(ctx, tx, org, ev.OccurredAt); err != nil {
		return err
	}
	return s.churn.Record(ctx, tx, org, ev.ID, priorTier, orgdomain.TierFree)
}

// ApplyCheckoutCompleted is the only event that moves tier or period for
// metered-model subscriptions, and it also lands prepaid credit purchases.
func (s *Service) ApplyCheckoutCompleted(ctx context.Context, tx *gorm.DB, org *orgdomain.Organization, ev *whdomain.Event) error {
	checkout := ev.Checkout
	if err := guardFresh(org, ev.OccurredAt); err != nil {
		return err
	}

	if checkout.Metadata[subscriptiondomain.MetadataPurpose] == subscriptiondomain.PurposeCredits {
		if err := s.credit.ApplyCredit(ctx, tx, creditservice.ApplyCreditRequest{
			OrgID:       org.ID,
			AmountCents: checkout.AmountTotal,
			Reason:      "credit_purchase",
			EventID:     ev.ID,
		}); err != nil {
			return err
		}
		return s.touch(ctx, tx, org.ID, ev.OccurredAt)
	}

	tier := orgdomain.Tier(checkout.Metadata[subscriptiondomain.MetadataTier])
	if !tier.Valid() {
		return orgdomain.ErrInvalidTier
	}
	priorTier := org.SubscriptionTier

	org.SubscriptionTier = tier
	org.Status = orgdomain.StatusActive
	if org.BillingCustomerID == "" {
		org.BillingCustomerID = checkout.ProviderCustomerID
	}
	if period := orgdomain.Period(checkout.Metadata[subscriptiondomain.MetadataPeriod]); period != "" {
		org.SubscriptionPeriod = period
	}
	if subID := checkout.Metadata[subscriptiondomain.MetadataSubscriptionID]; subID != "" {
		org.ProviderSubscriptionID = &subID
	}

	if err := s.commit(ctx, tx, org, ev.OccurredAt); err != nil {
		return err
	}
	if tier.LowerThan(priorTier) {
		return s.churn.Record(ctx, tx, org, ev.ID, priorTier, tier)
	}
	return nil
}

func (s *Service) commit(ctx context.Context, tx *gorm.DB, org *orgdomain.Organization, occurredAt time.Time) error {
	ts := occurredAt
	org.LastAppliedEventTS = &ts
	org.UpdatedAt = s.clock.Now(ctx)
	return s.orgRepo.Update(ctx, tx, org)
}

// touch advances the ordering watermark without other organization
// changes (credit-purchase checkouts mutate only the ledger).
func (s *Service) touch(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, occurredAt time.Time) error {
	org, err := s.orgRepo.FindByID(ctx, tx, orgID)
	if err != nil {
		return err
	}
	if org == nil {
		return orgdomain.ErrOrganizationNotFound
	}
	return s.commit(ctx, tx, org, occurredAt)
}

// ScheduleDowngrade queues a tier reduction to take effect at a period
// boundary. Mutually exclusive with a scheduled cancellation.
func (s *Service) ScheduleDowngrade(ctx context.Context, req subscriptiondomain.ScheduleDowngradeRequest) error {
	if !req.TargetTier.Valid() {
		return orgdomain.ErrInvalidTier
	}
	if req.EffectiveAt.IsZero() {
		return subscriptiondomain.ErrInvalidEffectiveAt
	}

	unlock := s.locks.Lock(req.OrgID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := s.orgRepo.FindByID(ctx, tx, req.OrgID)
		if err != nil {
			return err
		}
		if org == nil {
			return orgdomain.ErrOrganizationNotFound
		}
		if org.Status == orgdomain.StatusCancelScheduled || org.SubscriptionEndsAt != nil {
			return subscriptiondomain.ErrCancellationScheduled
		}
		if !req.TargetTier.LowerThan(org.SubscriptionTier) {
			return subscriptiondomain.ErrTierNotLower
		}

		target := req.TargetTier
		effectiveAt := req.EffectiveAt.UTC()
		org.PendingDowngradeTier = &target
		org.DowngradeEffectiveAt = &effectiveAt
		org.Status = orgdomain.StatusDowngradeScheduled
		org.UpdatedAt = s.clock.Now(ctx)
		return s.orgRepo.Update(ctx, tx, org)
	})
}

// UndoDowngrade clears a pending downgrade. After the effective date the
// downgrade has executed and undo is a no-op.
func (s *Service) UndoDowngrade(ctx context.Context, orgID snowflake.ID) error {
	unlock := s.locks.Lock(orgID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := s.orgRepo.FindByID(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if org == nil {
			return orgdomain.ErrOrganizationNotFound
		}
		if org.DowngradeEffectiveAt == nil {
			return nil
		}
		if !s.clock.Now(ctx).Before(*org.DowngradeEffectiveAt) {
			return nil
		}

		org.PendingDowngradeTier = nil
		org.DowngradeEffectiveAt = nil
		org.Status = orgdomain.StatusActive
		org.UpdatedAt = s.clock.Now(ctx)
		return s.orgRepo.Update(ctx, tx, org)
	})
}

// ScheduleCancellation records a cancellation at period end. The provider
// emits its own cancel_at_period_end update as well; both paths land in
// the same fields under the same lock.
func (s *Service) ScheduleCancellation(ctx context.Context, req subscriptiondomain.ScheduleCancellationRequest) error {
	if req.EndsAt.IsZero() {
		return subscriptiondomain.ErrInvalidEffectiveAt
	}

	unlock := s.locks.Lock(req.OrgID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := s.orgRepo.FindByID(ctx, tx, req.OrgID)
		if err != nil {
			return err
		}
		if org == nil {
			return orgdomain.ErrOrganizationNotFound
		}
		if org.DowngradeEffectiveAt != nil {
			return subscriptiondomain.ErrDowngradeScheduled
		}

		endsAt := req.EndsAt.UTC()
		org.Status = orgdomain.StatusCancelScheduled
		org.SubscriptionEndsAt = &endsAt
		org.UpdatedAt = s.clock.Now(ctx)
		return s.orgRepo.Update(ctx, tx, org)
	})
}

// UndoCancellation clears a scheduled cancellation before the period end.
// Past the period end the organization is already CANCELLED; no-op.
func (s *Service) UndoCancellation(ctx context.Context, orgID snowflake.ID) error {
	unlock := s.locks.Lock(orgID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := s.orgRepo.FindByID(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if org == nil {
			return orgdomain.ErrOrganizationNotFound
		}
		if org.SubscriptionEndsAt == nil {
			return nil
		}
		if !s.clock.Now(ctx).Before(*org.SubscriptionEndsAt) {
			return nil
		}

		org.SubscriptionEndsAt = nil
		org.SubscriptionCancelledAt = nil
		org.Status = orgdomain.StatusActive
		org.UpdatedAt = s.clock.Now(ctx)
		return s.orgRepo.Update(ctx, tx, org)
	})
}

// ApplyDueDowngrades executes scheduled downgrades whose effective time
// has passed. The churn event id is derived from the schedule itself, so
// repeated job runs cannot produce duplicate records.
func (s *Service) ApplyDueDowngrades(ctx context.Context) (int, error) {
	now := s.clock.Now(ctx)

	var ids []snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM organizations
		 WHERE downgrade_effective_at IS NOT NULL AND downgrade_effective_at <= ?`,
		now,
	).Scan(&ids).Error
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, id := range ids {
		if err := s.applyDowngrade(ctx, id); err != nil {
			s.log.Error("apply scheduled downgrade",
				zap.String("org_id", id.String()),
				zap.Error(err))
			continue
		}
		applied++
	}
	return applied, nil
}

func (s *Service) applyDowngrade(ctx context.Context, orgID snowflake.ID) error {
	unlock := s.locks.Lock(orgID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := s.orgRepo.FindByID(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if org == nil || org.PendingDowngradeTier == nil || org.DowngradeEffectiveAt == nil {
			return nil
		}
		if s.clock.Now(ctx).Before(*org.DowngradeEffectiveAt) {
			return nil
		}

		priorTier := org.SubscriptionTier
		target := *org.PendingDowngradeTier
		eventID := fmt.Sprintf("downgrade:%s:%d", org.ID.String(), org.DowngradeEffectiveAt.Unix())

		org.SubscriptionTier = target
		org.PendingDowngradeTier = nil
		org.DowngradeEffectiveAt = nil
		org.Status = orgdomain.StatusActive
		org.UpdatedAt = s.clock.Now(ctx)
		if err := s.orgRepo.Update(ctx, tx, org); err != nil {
			return err
		}

		return s.churn.Record(ctx, tx, org, eventID, priorTier, target)
	})
}
