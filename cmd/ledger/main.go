package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/lumachat/ledger/internal/clock"
	"github.com/lumachat/ledger/internal/config"
	"github.com/lumachat/ledger/internal/migration"
	"github.com/lumachat/ledger/internal/observability/metrics"
	"github.com/lumachat/ledger/internal/reconcile"
	"github.com/lumachat/ledger/internal/reporting"
	"github.com/lumachat/ledger/internal/server"
	"github.com/lumachat/ledger/internal/usage"
	"github.com/lumachat/ledger/pkg/db"
	"github.com/lumachat/ledger/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		metrics.Module,
		migration.Module,

		// Functional domains
		usage.Module,
		reporting.Module,
		reconcile.Module,

		server.Module,
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
