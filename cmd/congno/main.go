package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/hochk2019/congno/internal/audit"
	"github.com/hochk2019/congno/internal/clock"
	"github.com/hochk2019/congno/internal/config"
	"github.com/hochk2019/congno/internal/identity"
	"github.com/hochk2019/congno/internal/importer"
	"github.com/hochk2019/congno/internal/logger"
	"github.com/hochk2019/congno/internal/migration"
	"github.com/hochk2019/congno/internal/notification"
	"github.com/hochk2019/congno/internal/observability/tracing"
	"github.com/hochk2019/congno/internal/periodlock"
	"github.com/hochk2019/congno/internal/receivable"
	"github.com/hochk2019/congno/internal/seed"
	"github.com/hochk2019/congno/internal/server"
	"github.com/hochk2019/congno/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(func(cfg config.Config) (*snowflake.Node, error) {
			return snowflake.NewNode(cfg.SnowflakeNode)
		}),
		fx.Provide(func(cfg config.Config) tracing.Config {
			return tracing.Config{
				Enabled:          cfg.TracingEnabled,
				ServiceName:      "congno",
				ServiceVersion:   version,
				Environment:      cfg.Environment,
				ExporterEndpoint: cfg.TracingEndpoint,
				ExporterProtocol: cfg.TracingProtocol,
				SamplingRatio:    cfg.TracingSamplingRatio,
			}
		}),
		tracing.Module,
		db.Module,
		clock.Module,
		fx.Invoke(func(conn *gorm.DB) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := migration.RunMigrations(sqlDB); err != nil {
				return err
			}
			return seed.EnsureDefaultAdmin(conn)
		}),
		identity.Module,
		audit.Module,
		notification.Module,
		periodlock.Module,
		receivable.Module,
		importer.Module,
		server.Module,
	)
	app.Run()
}
