package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
	"go.uber.org/zap"
)

type Client struct {
	apiKey string
	log    *zap.Logger
	client *http.Client
}

func NewClient(apiKey string, log *zap.Logger) *Client {
	return &Client{
		apiKey: strings.TrimSpace(apiKey),
		log:    log.Named("payment.stripe"),
		client: &http.Client{Timeout: 12 * time.Second},
	}
}

type paymentIntent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ChargeCustomer creates and confirms an off-session payment intent. The
// Idempotency-Key header makes retries of the same key a no-op provider
// side; the caller still treats any error as terminal for this key.
func (c *Client) ChargeCustomer(ctx context.Context, customerID string, amountCents int64, idempotencyKey string) error {
	if c.apiKey == "" {
		return paymentdomain.ErrChargeFailed
	}

	data := url.Values{}
	data.Set("amount", strconv.FormatInt(amountCents, 10))
	data.Set("currency", "usd")
	data.Set("customer", customerID)
	data.Set("confirm", "true")
	data.Set("off_session", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.stripe.com/v1/payment_intents", strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrChargeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		c.log.Warn("charge rejected",
			zap.String("customer_id", customerID),
			zap.Int("status", resp.StatusCode),
			zap.String("error_type", apiErr.Error.Type))
		if resp.StatusCode == http.StatusPaymentRequired || apiErr.Error.Type == "card_error" {
			return paymentdomain.ErrChargeDeclined
		}
		return paymentdomain.ErrChargeFailed
	}

	var intent paymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrChargeFailed, err)
	}
	if intent.Status != "succeeded" {
		c.log.Warn("charge not settled",
			zap.String("customer_id", customerID),
			zap.String("intent_id", intent.ID),
			zap.String("status", intent.Status))
		return paymentdomain.ErrChargeDeclined
	}

	return nil
}
