package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolhub/internal/clock"
	"github.com/smallbiznis/schoolhub/internal/config"
	"github.com/smallbiznis/schoolhub/internal/gateway"
	"github.com/smallbiznis/schoolhub/internal/observability"
	"github.com/smallbiznis/schoolhub/internal/plan"
	"github.com/smallbiznis/schoolhub/internal/ratelimit"
	"github.com/smallbiznis/schoolhub/internal/scheduler"
	"github.com/smallbiznis/schoolhub/internal/subscription"
	"github.com/smallbiznis/schoolhub/internal/tenant"
	"github.com/smallbiznis/schoolhub/pkg/db"
	"go.uber.org/fx"
)

// The scheduler worker runs reconciliation jobs without serving HTTP. Run
// it alongside API replicas that keep SCHEDULER_ENABLED off.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by scheduler
		plan.Module,
		tenant.Module,
		gateway.Module,
		subscription.Module,
		ratelimit.Module,

		// No server module!
		fx.Provide(scheduler.ProvideConfig),
		fx.Provide(scheduler.New),
		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}

func StartScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
