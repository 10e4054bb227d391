package verifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/webhook/domain"
	"go.uber.org/zap"
)

const DefaultTolerance = 5 * time.Minute

type Verifier struct {
	log   *zap.Logger
	clock clock.Clock
}

func New(log *zap.Logger, clk clock.Clock) *Verifier {
	return &Verifier{
		log:   log.Named("webhook.verifier"),
		clock: clk,
	}
}

// Verify authenticates a raw webhook body against its signature header.
// Every failure surfaces as ErrInvalidSignature; the distinct internal
// reason is logged, never returned, so callers cannot leak it in the 401.
func (v *Verifier) Verify(ctx context.Context, payload []byte, sigHeader, secret string, tolerance time.Duration) error {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	ts, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		v.log.Warn("rejected webhook", zap.Error(domain.ErrMalformedHeader))
		return domain.ErrInvalidSignature
	}

	sent := time.Unix(ts, 0)
	now := v.clock.Now(ctx)
	if drift := now.Sub(sent); drift > tolerance || drift < -tolerance {
		v.log.Warn("rejected webhook",
			zap.Error(domain.ErrTimestampOutside),
			zap.Time("sent_at", sent),
			zap.Duration("drift", drift))
		return domain.ErrInvalidSignature
	}

	signed := fmt.Sprintf("%d.%s", ts, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signed))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	v.log.Warn("rejected webhook", zap.Error(domain.ErrDigestMismatch))
	return domain.ErrInvalidSignature
}

// parseSignatureHeader reads the "t=<epoch>,v1=<hex>" grammar. Multiple v1
// entries are accepted; the provider sends several during secret rotation.
func parseSignatureHeader(header string) (int64, []string, error) {
	timestamp := int64(0)
	seenTimestamp := false
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, domain.ErrMalformedHeader
			}
			timestamp = ts
			seenTimestamp = true
		case "v1":
			signatures = append(signatures, value)
		}
	}

	if !seenTimestamp || len(signatures) == 0 {
		return 0, nil, domain.ErrMalformedHeader
	}
	return timestamp, signatures, nil
}

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type subscriptionObject struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type checkoutObject struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	ClientReferenceID string            `json:"client_reference_id"`
	AmountTotal       int64             `json:"amount_total"`
	Metadata          map[string]string `json:"metadata"`
}

// ParseEvent decodes the provider envelope into the event union.
// Structural problems are ErrMalformedPayload (400); an unknown event type
// is not an error and comes back with only the envelope fields set.
func ParseEvent(payload []byte) (*domain.Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, domain.ErrMalformedPayload
	}
	if strings.TrimSpace(env.ID) == "" || strings.TrimSpace(env.Type) == "" {
		return nil, domain.ErrMalformedPayload
	}

	event := &domain.Event{
		ID:         env.ID,
		Type:       domain.EventType(strings.TrimSpace(env.Type)),
		OccurredAt: time.Unix(env.Created, 0).UTC(),
		RawPayload: payload,
	}

	switch event.Type {
	case domain.EventSubscriptionCreated, domain.EventSubscriptionUpdated, domain.EventSubscriptionDeleted:
		var sub subscriptionObject
		if err := json.Unmarshal(env.Data.Object, &sub); err != nil {
			return nil, domain.ErrMalformedPayload
		}
		if strings.TrimSpace(sub.ID) == "" {
			return nil, domain.ErrMalformedPayload
		}
		data := &domain.SubscriptionData{
			ProviderSubscriptionID: sub.ID,
			ProviderCustomerID:     sub.Customer,
			Status:                 strings.TrimSpace(sub.Status),
			CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
			Metadata:               sub.Metadata,
		}
		if sub.CurrentPeriodEnd > 0 {
			data.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		}
		if len(sub.Items.Data) > 0 {
			data.PriceID = sub.Items.Data[0].Price.ID
		}
		event.Subscription = data
	case domain.EventCheckoutCompleted:
		var session checkoutObject
		if err := json.Unmarshal(env.Data.Object, &session); err != nil {
			return nil, domain.ErrMalformedPayload
		}
		if strings.TrimSpace(session.ID) == "" {
			return nil, domain.ErrMalformedPayload
		}
		event.Checkout = &domain.CheckoutData{
			SessionID:          session.ID,
			ProviderCustomerID: session.Customer,
			ClientReferenceID:  session.ClientReferenceID,
			AmountTotal:        session.AmountTotal,
			Metadata:           session.Metadata,
		}
	}

	return event, nil
}
