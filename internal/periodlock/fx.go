package periodlock

import "go.uber.org/fx"

var Module = fx.Module("periodlock.guard",
	fx.Provide(NewGuard),
)
