package payment

import (
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment",
	fx.Provide(NewCollaborator),
)

func NewCollaborator(cfg config.Config, log *zap.Logger) domain.Collaborator {
	return stripe.NewClient(cfg.Stripe.APIKey, log)
}
