package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/paygate/internal/config"
	notificationdomain "github.com/railzwaylabs/paygate/internal/notification/domain"
	"github.com/railzwaylabs/paygate/internal/notification/provider/slack"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log *zap.Logger
	Cfg config.Config
}

// Dispatcher logs every notification and forwards to Slack when a webhook
// URL is configured. Delivery failure never fails the caller; billing
// state is already committed by the time a notification goes out.
type Dispatcher struct {
	log   *zap.Logger
	slack *slack.Provider
}

func NewDispatcher(p Params) notificationdomain.Dispatcher {
	d := &Dispatcher{
		log: p.Log.Named("notification.dispatcher"),
	}
	if p.Cfg.Notification.SlackWebhookURL != "" {
		d.slack = slack.NewProvider(p.Cfg.Notification.SlackWebhookURL)
	}
	return d
}

func (d *Dispatcher) Send(ctx context.Context, kind notificationdomain.Kind, orgID snowflake.ID, payload map[string]any) error {
	d.log.Info("notification",
		zap.String("kind", string(kind)),
		zap.String("org_id", orgID.String()),
		zap.Any("payload", payload))

	if d.slack != nil {
		if err := d.slack.Send(ctx, kind, orgID, payload); err != nil {
			d.log.Warn("slack notification failed",
				zap.String("kind", string(kind)),
				zap.String("org_id", orgID.String()),
				zap.Error(err))
		}
	}
	return nil
}
