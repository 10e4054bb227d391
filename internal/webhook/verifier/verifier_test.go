package verifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/railzwaylabs/paygate/internal/webhook/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now(context.Context) time.Time { return c.now }

func sign(t *testing.T, secret string, ts int64, payload []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	_, err := fmt.Fprintf(mac, "%d.%s", ts, payload)
	require.NoError(t, err)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := New(zap.NewNop(), fixedClock{now: now})
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"

	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), sign(t, secret, now.Unix(), payload))
	require.NoError(t, v.Verify(context.Background(), payload, header, secret, 0))
}

func TestVerifyAcceptsSecondSignatureDuringRotation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := New(zap.NewNop(), fixedClock{now: now})
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_new"

	header := fmt.Sprintf("t=%d,v1=%s,v1=%s",
		now.Unix(),
		sign(t, "whsec_old", now.Unix(), payload),
		sign(t, secret, now.Unix(), payload))
	require.NoError(t, v.Verify(context.Background(), payload, header, secret, 0))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := New(zap.NewNop(), fixedClock{now: now})
	payload := []byte(`{"id":"evt_1"}`)

	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), sign(t, "whsec_other", now.Unix(), payload))
	err := v.Verify(context.Background(), payload, header, "whsec_test", 0)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := New(zap.NewNop(), fixedClock{now: now})
	secret := "whsec_test"

	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), sign(t, secret, now.Unix(), []byte(`{"id":"evt_1"}`)))
	err := v.Verify(context.Background(), []byte(`{"id":"evt_2"}`), header, secret, 0)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestVerifyRejectsTimestampOutsideTolerance(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := New(zap.NewNop(), fixedClock{now: now})
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"

	old := now.Add(-6 * time.Minute).Unix()
	header := fmt.Sprintf("t=%d,v1=%s", old, sign(t, secret, old, payload))
	require.ErrorIs(t, v.Verify(context.Background(), payload, header, secret, 5*time.Minute), domain.ErrInvalidSignature)

	future := now.Add(6 * time.Minute).Unix()
	header = fmt.Sprintf("t=%d,v1=%s", future, sign(t, secret, future, payload))
	require.ErrorIs(t, v.Verify(context.Background(), payload, header, secret, 5*time.Minute), domain.ErrInvalidSignature)
}

func TestVerifyRejectsMalformedHeader(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := New(zap.NewNop(), fixedClock{now: now})
	payload := []byte(`{"id":"evt_1"}`)

	for _, header := range []string{
		"",
		"t=abc,v1=deadbeef",
		"v1=deadbeef",
		fmt.Sprintf("t=%d", now.Unix()),
		"garbage",
	} {
		err := v.Verify(context.Background(), payload, header, "whsec_test", 0)
		require.ErrorIs(t, err, domain.ErrInvalidSignature, "header %q", header)
	}
}

func TestParseSignatureHeader(t *testing.T) {
	ts, sigs, err := parseSignatureHeader("t=1700000000, v1=aaaa, v1=bbbb")
	require.NoError(t, err)
	require.Equal(t, int64(1_700_000_000), ts)
	require.Equal(t, []string{"aaaa", "bbbb"}, sigs)

	_, _, err = parseSignatureHeader("t=1700000000")
	require.ErrorIs(t, err, domain.ErrMalformedHeader)
}

func TestParseEventSubscription(t *testing.T) {
	payload := []byte(`{
		"id": "evt_42",
		"type": "customer.subscription.updated",
		"created": 1700000100,
		"data": {"object": {
			"id": "sub_1",
			"customer": "cus_1",
			"status": "past_due",
			"cancel_at_period_end": true,
			"current_period_end": 1702592100,
			"metadata": {"org_id": "12345", "tier": "PRO"},
			"items": {"data": [{"price": {"id": "price_pro_monthly"}}]}
		}}
	}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	require.Equal(t, "evt_42", event.ID)
	require.Equal(t, domain.EventSubscriptionUpdated, event.Type)
	require.Equal(t, time.Unix(1_700_000_100, 0).UTC(), event.OccurredAt)
	require.NotNil(t, event.Subscription)
	require.Equal(t, "sub_1", event.Subscription.ProviderSubscriptionID)
	require.Equal(t, "cus_1", event.Subscription.ProviderCustomerID)
	require.Equal(t, "past_due", event.Subscription.Status)
	require.True(t, event.Subscription.CancelAtPeriodEnd)
	require.Equal(t, "price_pro_monthly", event.Subscription.PriceID)
	require.Equal(t, "12345", event.Subscription.Metadata["org_id"])
}

func TestParseEventCheckout(t *testing.T) {
	payload := []byte(`{
		"id": "evt_43",
		"type": "checkout.session.completed",
		"created": 1700000200,
		"data": {"object": {
			"id": "cs_1",
			"customer": "cus_1",
			"client_reference_id": "12345",
			"amount_total": 2500,
			"metadata": {"purpose": "credits"}
		}}
	}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	require.Equal(t, domain.EventCheckoutCompleted, event.Type)
	require.NotNil(t, event.Checkout)
	require.Equal(t, "cs_1", event.Checkout.SessionID)
	require.Equal(t, "12345", event.Checkout.ClientReferenceID)
	require.Equal(t, int64(2500), event.Checkout.AmountTotal)
}

func TestParseEventUnknownTypePassesThrough(t *testing.T) {
	payload := []byte(`{"id":"evt_44","type":"invoice.paid","created":1700000300,"data":{"object":{}}}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	require.Equal(t, domain.EventType("invoice.paid"), event.Type)
	require.False(t, event.Type.Known())
	require.Nil(t, event.Subscription)
	require.Nil(t, event.Checkout)
}

func TestParseEventMalformed(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		`{"type":"customer.subscription.created","created":1}`,
		`{"id":"evt_1","created":1}`,
		`{"id":"evt_1","type":"customer.subscription.created","created":1,"data":{"object":{}}}`,
		`{"id":"evt_1","type":"checkout.session.completed","created":1,"data":{"object":{}}}`,
	} {
		_, err := ParseEvent([]byte(payload))
		require.ErrorIs(t, err, domain.ErrMalformedPayload, "payload %s", payload)
	}
}
