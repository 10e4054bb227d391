package webhook

import (
	"github.com/railzwaylabs/paygate/internal/webhook/service"
	"github.com/railzwaylabs/paygate/internal/webhook/verifier"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook",
	fx.Provide(verifier.New),
	fx.Provide(service.NewService),
)
