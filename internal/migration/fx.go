package migration

import (
	"github.com/tirtabiz/tirta/internal/config"
	customerdomain "github.com/tirtabiz/tirta/internal/customer/domain"
	invoicedomain "github.com/tirtabiz/tirta/internal/invoice/domain"
	meterdomain "github.com/tirtabiz/tirta/internal/meter/domain"
	notificationdomain "github.com/tirtabiz/tirta/internal/notification/domain"
	"github.com/tirtabiz/tirta/internal/seed"
	subscriptiondomain "github.com/tirtabiz/tirta/internal/subscription/domain"
	usagedomain "github.com/tirtabiz/tirta/internal/usage/domain"
	walletdomain "github.com/tirtabiz/tirta/internal/wallet/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// Versioned SQL is written for Postgres; local sqlite and
			// mysql instances derive the schema from the models instead.
			if err := conn.AutoMigrate(
				&customerdomain.Customer{},
				&meterdomain.TariffTier{},
				&meterdomain.MeterAccount{},
				&invoicedomain.Invoice{},
				&subscriptiondomain.WaterCreditPlan{},
				&subscriptiondomain.Subscription{},
				&walletdomain.Wallet{},
				&walletdomain.Transaction{},
				&usagedomain.UsageLedgerEntry{},
				&notificationdomain.Notification{},
			); err != nil {
				return err
			}
		}

		if err := seed.EnsureDefaultTariffs(conn); err != nil {
			return err
		}
		if cfg.SeedDemoData {
			return seed.EnsureDemoData(conn)
		}
		return nil
	}),
)
