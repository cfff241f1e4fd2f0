package ledger

import (
	"context"
	"fmt"

	"github.com/smallbiznis/paymail/internal/config"
	"github.com/smallbiznis/paymail/internal/ledger/domain"
	"github.com/smallbiznis/paymail/internal/ledger/migration"
	"github.com/smallbiznis/paymail/internal/ledger/repository"
	obsmetrics "github.com/smallbiznis/paymail/internal/observability/metrics"
	"github.com/smallbiznis/paymail/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("ledger.store",
	fx.Provide(NewStore),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

// NewStore opens the ledger backend selected by LEDGER_DRIVER.
func NewStore(p Params) (domain.Store, error) {
	if err := p.Config.ValidateLedger(); err != nil {
		return nil, err
	}

	log := p.Log.Named("ledger")
	if p.Config.LedgerDriver == config.LedgerDriverJSON {
		log.Info("ledger opened", zap.String("driver", p.Config.LedgerDriver), zap.String("path", p.Config.LedgerPath))
		return repository.NewJSONStore(p.Config.LedgerPath, p.Log, p.Metrics), nil
	}

	conn, err := db.Open(db.FromAppConfig(p.Config), p.Log)
	if err != nil {
		return nil, err
	}
	db.Close(p.Lifecycle, conn)

	store := repository.NewGormStore(conn, p.Log, p.Metrics)
	if err := migrate(store, conn, p.Config.LedgerDriver); err != nil {
		return nil, err
	}

	log.Info("ledger opened", zap.String("driver", p.Config.LedgerDriver))
	return store, nil
}

func migrate(store *repository.GormStore, conn *gorm.DB, driver string) error {
	if driver != config.LedgerDriverPostgres {
		return store.Migrate(context.Background())
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := migration.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return nil
}
