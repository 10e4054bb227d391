package credit

import (
	"github.com/railzwaylabs/paygate/internal/credit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credit",
	fx.Provide(service.NewService),
)
