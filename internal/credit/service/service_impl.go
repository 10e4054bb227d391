package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/clock"
	creditdomain "github.com/railzwaylabs/paygate/internal/credit/domain"
	"github.com/railzwaylabs/paygate/internal/metrics"
	notificationdomain "github.com/railzwaylabs/paygate/internal/notification/domain"
	"github.com/railzwaylabs/paygate/internal/orglock"
	orgdomain "github.com/railzwaylabs/paygate/internal/organization/domain"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	topupTimeout  = 30 * time.Second
	topupGuardTTL = 35 * 24 * time.Hour
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Redis    *redis.Client `optional:"true"`
	Locks    *orglock.Registry
	OrgRepo  orgdomain.Repository
	Notifier notificationdomain.Dispatcher
	Payments paymentdomain.Collaborator
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	redis    *redis.Client
	locks    *orglock.Registry
	orgRepo  orgdomain.Repository
	notifier notificationdomain.Dispatcher
	payments paymentdomain.Collaborator
	metrics  *metrics.Metrics

	// async is disabled in tests so top-up attempts run inline.
	async bool
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("credit.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		redis:    p.Redis,
		locks:    p.Locks,
		orgRepo:  p.OrgRepo,
		notifier: p.Notifier,
		payments: p.Payments,
		metrics:  p.Metrics,
		async:    true,
	}
}

type ApplyCreditRequest struct {
	OrgID       snowflake.ID
	AmountCents int64
	Reason      string
	EventID     string
}

// ApplyCredit increases the balance and clears the exhausted flag once the
// balance is positive again. It runs on the handle it is given, so the
// webhook router can keep it inside the event transaction. The caller must
// hold the organization lock.
func (s *Service) ApplyCredit(ctx context.Context, db *gorm.DB, req ApplyCreditRequest) error {
	if req.AmountCents <= 0 {
		return creditdomain.ErrInvalidAmount
	}

	org, err := s.orgRepo.FindByID(ctx, db, req.OrgID)
	if err != nil {
		return err
	}
	if org == nil {
		return orgdomain.ErrOrganizationNotFound
	}

	now := s.clock.Now(ctx)
	entry := creditdomain.CreditLedgerEntry{
		ID:         s.genID.Generate(),
		OrgID:      req.OrgID,
		DeltaCents: req.AmountCents,
		Reason:     req.Reason,
		EventID:    req.EventID,
		CreatedAt:  now,
	}
	if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
		return err
	}

	org.CreditBalanceCents += req.AmountCents
	if org.CreditBalanceCents > 0 {
		org.CreditsExhausted = false
	}
	org.UpdatedAt = now
	return s.orgRepo.Update(ctx, db, org)
}

type DebitUsageRequest struct {
	OrgID       snowflake.ID
	AmountCents int64
	Reason      string
}

type DebitResult struct {
	DebitedCents   int64
	BalanceCents   int64
	Exhausted      bool
	CrossedEpoch   int64
	TopupAttempted bool
}

// DebitUsage decreases the balance for metered usage. The debit clamps at
// zero; the balance is never negative. Reaching zero sets credits_exhausted
// and emits the exhaustion notification. A threshold crossing bumps the
// top-up epoch and dispatches at most one asynchronous charge attempt.
func (s *Service) DebitUsage(ctx context.Context, req DebitUsageRequest) (DebitResult, error) {
	if req.AmountCents <= 0 {
		return DebitResult{}, creditdomain.ErrInvalidAmount
	}

	var result DebitResult
	var becameExhausted bool
	var crossing *orgdomain.CreditTopupSetting

	// The org lock is released before any top-up dispatch; AttemptTopup
	// re-acquires it when the credit lands.
	unlock := s.locks.Lock(req.OrgID)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := s.orgRepo.FindByID(ctx, tx, req.OrgID)
		if err != nil {
			return err
		}
		if org == nil {
			return orgdomain.ErrOrganizationNotFound
		}

		prior := org.CreditBalanceCents
		debit := req.AmountCents
		if debit > prior {
			debit = prior
		}
		if debit == 0 {
			result = DebitResult{BalanceCents: prior, Exhausted: org.CreditsExhausted}
			return nil
		}

		now := s.clock.Now(ctx)
		entry := creditdomain.CreditLedgerEntry{
			ID:         s.genID.Generate(),
			OrgID:      req.OrgID,
			DeltaCents: -debit,
			Reason:     req.Reason,
			CreatedAt:  now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		org.CreditBalanceCents = prior - debit
		if org.CreditBalanceCents == 0 && !org.CreditsExhausted {
			org.CreditsExhausted = true
			becameExhausted = true
		}
		org.UpdatedAt = now
		if err := s.orgRepo.Update(ctx, tx, org); err != nil {
			return err
		}

		result = DebitResult{
			DebitedCents: debit,
			BalanceCents: org.CreditBalanceCents,
			Exhausted:    org.CreditsExhausted,
		}

		setting, err := s.orgRepo.FindTopupSetting(ctx, tx, req.OrgID)
		if err != nil {
			return err
		}
		if setting == nil || !setting.Enabled || setting.AllowanceCents <= 0 || setting.AmountCents <= 0 {
			return nil
		}

		threshold := setting.AllowanceCents * int64(setting.ThresholdPercent) / 100
		if prior >= threshold && org.CreditBalanceCents < threshold {
			setting.ThresholdEpoch++
			setting.UpdatedAt = now
			if err := s.orgRepo.SaveTopupSetting(ctx, tx, setting); err != nil {
				return err
			}
			crossing = setting
			result.CrossedEpoch = setting.ThresholdEpoch
		}
		return nil
	})
	unlock()
	if err != nil {
		return DebitResult{}, err
	}

	if becameExhausted {
		_ = s.notifier.Send(ctx, notificationdomain.KindCreditsExhausted, req.OrgID, map[string]any{
			"balance_cents": result.BalanceCents,
		})
	}

	if crossing != nil {
		result.TopupAttempted = true
		if s.async {
			go func(orgID snowflake.ID, epoch, amount int64) {
				topupCtx, cancel := context.WithTimeout(context.Background(), topupTimeout)
				defer cancel()
				s.AttemptTopup(topupCtx, orgID, epoch, amount)
			}(req.OrgID, crossing.ThresholdEpoch, crossing.AmountCents)
		} else {
			s.AttemptTopup(ctx, req.OrgID, crossing.ThresholdEpoch, crossing.AmountCents)
		}
	}

	return result, nil
}

// AttemptTopup executes at most one charge for the given crossing epoch.
// The redis SETNX guard short-circuits racing dispatchers; the unique
// topup_attempts row is the durable claim. Failure leaves the exhausted
// flag alone and is surfaced to operators; there is no automatic retry,
// retrying would risk a duplicate charge.
func (s *Service) AttemptTopup(ctx context.Context, orgID snowflake.ID, epoch, amountCents int64) {
	key := TopupIdempotencyKey(orgID, epoch)
	log := s.log.With(
		zap.String("org_id", orgID.String()),
		zap.Int64("epoch", epoch),
		zap.String("idempotency_key", key))

	if s.redis != nil {
		claimed, err := s.redis.SetNX(ctx, "topup:"+key, 1, topupGuardTTL).Result()
		if err == nil && !claimed {
			log.Debug("top-up epoch already claimed")
			return
		}
	}

	now := s.clock.Now(ctx)
	attempt := creditdomain.TopupAttempt{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		Epoch:          epoch,
		IdempotencyKey: key,
		AmountCents:    amountCents,
		Status:         creditdomain.TopupStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Debug("top-up attempt already recorded")
			return
		}
		log.Error("record top-up attempt", zap.Error(err))
		return
	}

	org, err := s.orgRepo.FindByID(ctx, s.db, orgID)
	if err != nil || org == nil {
		s.finishAttempt(ctx, &attempt, creditdomain.TopupStatusFailed, "organization_lookup_failed")
		return
	}

	if err := s.payments.ChargeCustomer(ctx, org.BillingCustomerID, amountCents, key); err != nil {
		s.finishAttempt(ctx, &attempt, creditdomain.TopupStatusFailed, err.Error())
		log.Warn("top-up charge failed", zap.Error(err))
		_ = s.notifier.Send(ctx, notificationdomain.KindTopupFailed, orgID, map[string]any{
			"epoch":        epoch,
			"amount_cents": amountCents,
			"error":        err.Error(),
		})
		return
	}

	unlock := s.locks.Lock(orgID)
	defer unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.ApplyCredit(ctx, tx, ApplyCreditRequest{
			OrgID:       orgID,
			AmountCents: amountCents,
			Reason:      "auto_topup",
			EventID:     key,
		})
	})
	if err != nil {
		// The charge settled but the credit did not land; operators resolve
		// manually from the attempt record.
		s.finishAttempt(ctx, &attempt, creditdomain.TopupStatusFailed, "credit_apply_failed: "+err.Error())
		log.Error("apply top-up credit", zap.Error(err))
		return
	}

	s.finishAttempt(ctx, &attempt, creditdomain.TopupStatusSucceeded, "")
	log.Info("top-up applied", zap.Int64("amount_cents", amountCents))
}

func (s *Service) finishAttempt(ctx context.Context, attempt *creditdomain.TopupAttempt, status creditdomain.TopupStatus, reason string) {
	attempt.Status = status
	attempt.LastError = reason
	attempt.UpdatedAt = s.clock.Now(ctx)
	if err := s.db.WithContext(ctx).Save(attempt).Error; err != nil {
		s.log.Error("update top-up attempt", zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.TopupAttempts.WithLabelValues(string(status)).Inc()
	}
}

func TopupIdempotencyKey(orgID snowflake.ID, epoch int64) string {
	return fmt.Sprintf("%s:%d", orgID.String(), epoch)
}
