package orglock

import "go.uber.org/fx"

var Module = fx.Module("orglock",
	fx.Provide(NewRegistry),
)
