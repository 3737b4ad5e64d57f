package migration

import (
	"strings"

	"github.com/smallbiznis/contentmarket/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)

func Run(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migration")
	if !strings.EqualFold(cfg.DBType, "postgres") {
		log.Info("applying schema with gorm auto migrate", zap.String("dialect", cfg.DBType))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	log.Info("applying embedded migrations")
	return RunMigrations(sqlDB)
}
