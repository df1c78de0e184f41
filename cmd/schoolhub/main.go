package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/schoolhub/internal/clock"
	"github.com/smallbiznis/schoolhub/internal/config"
	"github.com/smallbiznis/schoolhub/internal/migration"
	"github.com/smallbiznis/schoolhub/internal/observability"
	"github.com/smallbiznis/schoolhub/internal/scheduler"
	"github.com/smallbiznis/schoolhub/internal/server"
	"github.com/smallbiznis/schoolhub/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface and the domains behind it
		server.Module,

		// Background reconciliation
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
