package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	creditdomain "github.com/railzwaylabs/paygate/internal/credit/domain"
	notificationdomain "github.com/railzwaylabs/paygate/internal/notification/domain"
	"github.com/railzwaylabs/paygate/internal/orglock"
	orgdomain "github.com/railzwaylabs/paygate/internal/organization/domain"
	orgrepository "github.com/railzwaylabs/paygate/internal/organization/repository"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now(context.Context) time.Time { return c.now }

type recordingNotifier struct {
	sent []notificationdomain.Kind
}

func (n *recordingNotifier) Send(_ context.Context, kind notificationdomain.Kind, _ snowflake.ID, _ map[string]any) error {
	n.sent = append(n.sent, kind)
	return nil
}

type fakeCharger struct {
	calls []string
	err   error
}

func (c *fakeCharger) ChargeCustomer(_ context.Context, _ string, _ int64, idempotencyKey string) error {
	c.calls = append(c.calls, idempotencyKey)
	return c.err
}

type harness struct {
	db       *gorm.DB
	svc      *Service
	clock    *fakeClock
	notifier *recordingNotifier
	charger  *fakeCharger
	node     *snowflake.Node
	repo     orgdomain.Repository
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&orgdomain.Organization{},
		&orgdomain.CreditTopupSetting{},
		&creditdomain.CreditLedgerEntry{},
		&creditdomain.TopupAttempt{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	redisClient := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	notifier := &recordingNotifier{}
	charger := &fakeCharger{}
	repo := orgrepository.NewRepository()

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Redis:    redisClient,
		Locks:    orglock.NewRegistry(),
		OrgRepo:  repo,
		Notifier: notifier,
		Payments: charger,
	})
	// Run top-up attempts inline so assertions see their effects.
	svc.async = false

	return &harness{db: db, svc: svc, clock: clk, notifier: notifier, charger: charger, node: node, repo: repo}
}

func (h *harness) createOrg(t *testing.T, balanceCents int64) *orgdomain.Organization {
	t.Helper()
	org := &orgdomain.Organization{
		ID:                 h.node.Generate(),
		Name:               "acme",
		BillingCustomerID:  "cus_1",
		SubscriptionTier:   orgdomain.TierPro,
		Status:             orgdomain.StatusActive,
		CreditBalanceCents: balanceCents,
		CreatedAt:          h.clock.now,
		UpdatedAt:          h.clock.now,
	}
	require.NoError(t, h.db.Create(org).Error)
	return org
}

func (h *harness) enableTopup(t *testing.T, orgID snowflake.ID, allowance, amount int64, thresholdPercent int) {
	t.Helper()
	require.NoError(t, h.db.Create(&orgdomain.CreditTopupSetting{
		OrgID:            orgID,
		Enabled:          true,
		AmountCents:      amount,
		AllowanceCents:   allowance,
		ThresholdPercent: thresholdPercent,
		UpdatedAt:        h.clock.now,
	}).Error)
}

func (h *harness) reload(t *testing.T, id snowflake.ID) *orgdomain.Organization {
	t.Helper()
	org, err := h.repo.FindByID(context.Background(), h.db, id)
	require.NoError(t, err)
	require.NotNil(t, org)
	return org
}

func TestApplyCreditIncreasesBalanceAndClearsExhausted(t *testing.T) {
	h := newHarness(t)
	org := h.createOrg(t, 0)
	org.CreditsExhausted = true
	require.NoError(t, h.db.Save(org).Error)

	require.NoError(t, h.svc.ApplyCredit(context.Background(), h.db, ApplyCreditRequest{
		OrgID:       org.ID,
		AmountCents: 1000,
		Reason:      "credit_purchase",
		EventID:     "evt_1",
	}))

	got := h.reload(t, org.ID)
	require.Equal(t, int64(1000), got.CreditBalanceCents)
	require.False(t, got.CreditsExhausted)
}

func TestApplyCreditRejectsNonPositiveAmount(t *testing.T) {
	h := newHarness(t)
	org := h.createOrg(t, 0)

	err := h.svc.ApplyCredit(context.Background(), h.db, ApplyCreditRequest{OrgID: org.ID, AmountCents: 0})
	require.ErrorIs(t, err, creditdomain.ErrInvalidAmount)
	err = h.svc.ApplyCredit(context.Background(), h.db, ApplyCreditRequest{OrgID: org.ID, AmountCents: -5})
	require.ErrorIs(t, err, creditdomain.ErrInvalidAmount)
}

func TestDebitUsageClampsAtZeroAndNotifiesOnce(t *testing.T) {
	h := newHarness(t)
	org := h.createOrg(t, 300)

	result, err := h.svc.DebitUsage(context.Background(), DebitUsageRequest{
		OrgID:       org.ID,
		AmountCents: 500,
		Reason:      "api_calls",
	})
	require.NoError(t, err)
	require.Equal(t, int64(300), result.DebitedCents)
	require.Zero(t, result.BalanceCents)
	require.True(t, result.Exhausted)
	require.Equal(t, []notificationdomain.Kind{notificationdomain.KindCreditsExhausted}, h.notifier.sent)

	// Further debits at zero are no-ops and do not re-notify.
	result, err = h.svc.DebitUsage(context.Background(), DebitUsageRequest{
		OrgID:       org.ID,
		AmountCents: 100,
		Reason:      "api_calls",
	})
	require.NoError(t, err)
	require.Zero(t, result.DebitedCents)
	require.True(t, result.Exhausted)
	require.Len(t, h.notifier.sent, 1)

	// The ledger holds exactly one debit entry, clamped to the balance.
	var entries []creditdomain.CreditLedgerEntry
	require.NoError(t, h.db.Find(&entries).Error)
	require.Len(t, entries, 1)
	require.Equal(t, int64(-300), entries[0].DeltaCents)
}

func TestDebitUsageThresholdCrossingTriggersOneTopup(t *testing.T) {
	h := newHarness(t)
	org := h.createOrg(t, 2500)
	// Allowance 10000, threshold 20% => 2000.
	h.enableTopup(t, org.ID, 10_000, 5000, 20)

	result, err := h.svc.DebitUsage(context.Background(), DebitUsageRequest{
		OrgID:       org.ID,
		AmountCents: 600,
		Reason:      "api_calls",
	})
	require.NoError(t, err)
	require.True(t, result.TopupAttempted)
	require.Equal(t, int64(1), result.CrossedEpoch)
	require.Equal(t, []string{TopupIdempotencyKey(org.ID, 1)}, h.charger.calls)

	got := h.reload(t, org.ID)
	// 2500 - 600 + 5000 topped up.
	require.Equal(t, int64(6900), got.CreditBalanceCents)

	var attempts []creditdomain.TopupAttempt
	require.NoError(t, h.db.Find(&attempts).Error)
	require.Len(t, attempts, 1)
	require.Equal(t, creditdomain.TopupStatusSucceeded, attempts[0].Status)
}

func TestDebitUsageNoSecondChargeWithinSameEpoch(t *testing.T) {
	h := newHarness(t)
	org := h.createOrg(t, 2100)
	h.enableTopup(t, org.ID, 10_000, 0, 20)

	// AmountCents of zero disables charging, so the balance stays below
	// the threshold after the crossing.
	result, err := h.svc.DebitUsage(context.Background(), DebitUsageRequest{
		OrgID:       org.ID,
		AmountCents: 200,
		Reason:      "api_calls",
	})
	require.NoError(t, err)
	require.False(t, result.TopupAttempted)

	// Already below threshold: further debits are not a crossing.
	result, err = h.svc.DebitUsage(context.Background(), DebitUsageRequest{
		OrgID:       org.ID,
		AmountCents: 200,
		Reason:      "api_calls",
	})
	require.NoError(t, err)
	require.False(t, result.TopupAttempted)
	require.Empty(t, h.charger.calls)
}

func TestAttemptTopupIsIdempotentPerEpoch(t *testing.T) {
	h := newHarness(t)
	org := h.createOrg(t, 1000)

	h.svc.AttemptTopup(context.Background(), org.ID, 1, 5000)
	h.svc.AttemptTopup(context.Background(), org.ID, 1, 5000)

	require.Len(t, h.charger.calls, 1)
	var count int64
	require.NoError(t, h.db.Model(&creditdomain.TopupAttempt{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	// A new epoch is a new attempt.
	h.svc.AttemptTopup(context.Background(), org.ID, 2, 5000)
	require.Len(t, h.charger.calls, 2)
}

func TestAttemptTopupFailureLeavesBalanceAndNotifies(t *testing.T) {
	h := newHarness(t)
	org := h.createOrg(t, 100)
	h.charger.err = paymentdomain.ErrChargeDeclined

	h.svc.AttemptTopup(context.Background(), org.ID, 1, 5000)

	got := h.reload(t, org.ID)
	require.Equal(t, int64(100), got.CreditBalanceCents)
	require.Contains(t, h.notifier.sent, notificationdomain.KindTopupFailed)

	var attempts []creditdomain.TopupAttempt
	require.NoError(t, h.db.Find(&attempts).Error)
	require.Len(t, attempts, 1)
	require.Equal(t, creditdomain.TopupStatusFailed, attempts[0].Status)
	require.Equal(t, paymentdomain.ErrChargeDeclined.Error(), attempts[0].LastError)

	// No automatic retry: a second dispatch for the same epoch is refused
	// even after a failure; recovery is manual.
	h.svc.AttemptTopup(context.Background(), org.ID, 1, 5000)
	require.Len(t, h.charger.calls, 1)
}

func TestTopupIdempotencyKeyShape(t *testing.T) {
	id := snowflake.ID(123456789)
	require.Equal(t, id.String()+":7", TopupIdempotencyKey(id, 7))
}
