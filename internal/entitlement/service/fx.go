package service

import "go.uber.org/fx"

var Module = fx.Module("entitlement.service",
	fx.Provide(NewGuard),
)
