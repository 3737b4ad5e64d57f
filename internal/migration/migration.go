package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	billingkeydomain "github.com/smallbiznis/contentmarket/internal/billingkey/domain"
	feepolicydomain "github.com/smallbiznis/contentmarket/internal/feepolicy/domain"
	orderdomain "github.com/smallbiznis/contentmarket/internal/order/domain"
	paymentdomain "github.com/smallbiznis/contentmarket/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/contentmarket/internal/purchase/domain"
	settlementdomain "github.com/smallbiznis/contentmarket/internal/settlement/domain"
	taxinvoicedomain "github.com/smallbiznis/contentmarket/internal/taxinvoice/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every persisted type, in dependency order.
func Models() []any {
	return []any{
		&orderdomain.Order{},
		&paymentdomain.GatewayAuthSnapshot{},
		&paymentdomain.Payment{},
		&paymentdomain.WebhookEvent{},
		&purchasedomain.Purchase{},
		&billingkeydomain.BillingKey{},
		&feepolicydomain.FeePolicy{},
		&settlementdomain.Settlement{},
		&settlementdomain.SettlementItem{},
		&taxinvoicedomain.TaxInvoice{},
		&taxinvoicedomain.IssueGuard{},
	}
}

// RunMigrations applies the embedded postgres schema.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema from the gorm models. It serves the
// dialects the embedded SQL is not written for.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
