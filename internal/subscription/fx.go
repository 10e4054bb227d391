package subscription

import (
	"github.com/railzwaylabs/paygate/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription",
	fx.Provide(service.NewService),
)
