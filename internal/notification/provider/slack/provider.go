package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	notificationdomain "github.com/railzwaylabs/paygate/internal/notification/domain"
)

type Provider struct {
	webhookURL string
	client     *http.Client
}

func NewProvider(webhookURL string) *Provider {
	return &Provider{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (p *Provider) Send(ctx context.Context, kind notificationdomain.Kind, orgID snowflake.ID, payload map[string]any) error {
	if p.webhookURL == "" {
		return fmt.Errorf("missing_webhook_url")
	}

	msg := map[string]any{
		"text": fmt.Sprintf("*Billing: %s*\nOrg: %s\nData: %v", kind, orgID.String(), payload),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.webhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack_api_error: status=%d", resp.StatusCode)
	}

	return nil
}
