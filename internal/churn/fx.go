package churn

import (
	"github.com/railzwaylabs/paygate/internal/churn/service"
	"go.uber.org/fx"
)

var Module = fx.Module("churn",
	fx.Provide(service.NewLogSink),
	fx.Provide(service.NewRecorder),
)
