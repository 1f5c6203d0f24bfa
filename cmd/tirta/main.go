package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/tirtabiz/tirta/internal/clock"
	"github.com/tirtabiz/tirta/internal/config"
	"github.com/tirtabiz/tirta/internal/logger"
	"github.com/tirtabiz/tirta/internal/migration"
	"github.com/tirtabiz/tirta/internal/observability"
	"github.com/tirtabiz/tirta/internal/scheduler"
	"github.com/tirtabiz/tirta/internal/server"
	"github.com/tirtabiz/tirta/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		clock.Module,
		db.Module,
		migration.Module,
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
