package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentmarket/internal/billingkey"
	"github.com/smallbiznis/contentmarket/internal/clock"
	"github.com/smallbiznis/contentmarket/internal/config"
	"github.com/smallbiznis/contentmarket/internal/feepolicy"
	"github.com/smallbiznis/contentmarket/internal/gateway"
	"github.com/smallbiznis/contentmarket/internal/lock"
	"github.com/smallbiznis/contentmarket/internal/logger"
	"github.com/smallbiznis/contentmarket/internal/migration"
	"github.com/smallbiznis/contentmarket/internal/notification"
	"github.com/smallbiznis/contentmarket/internal/observability/metrics"
	"github.com/smallbiznis/contentmarket/internal/observability/tracing"
	"github.com/smallbiznis/contentmarket/internal/order"
	"github.com/smallbiznis/contentmarket/internal/payment"
	"github.com/smallbiznis/contentmarket/internal/purchase"
	"github.com/smallbiznis/contentmarket/internal/redisclient"
	"github.com/smallbiznis/contentmarket/internal/scheduler"
	"github.com/smallbiznis/contentmarket/internal/server"
	"github.com/smallbiznis/contentmarket/internal/settlement"
	"github.com/smallbiznis/contentmarket/internal/taxinvoice"
	"github.com/smallbiznis/contentmarket/pkg/db"
	"github.com/smallbiznis/contentmarket/pkg/db/txn"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		db.Module,
		txn.Module,
		migration.Module,
		metrics.Module,
		tracing.Module,
		redisclient.Module,
		lock.Module,
		notification.Module,

		// Functional Domains
		gateway.Module,
		order.Module,
		purchase.Module,
		feepolicy.Module,
		settlement.Module,
		payment.Module,
		billingkey.Module,
		taxinvoice.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
