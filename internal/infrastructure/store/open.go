// Package store elige el backend del ledger según DB_DRIVER.
package store

import (
	"context"
	"fmt"

	"github.com/jhoicas/stock-ledger-api/internal/application/inventory"
	"github.com/jhoicas/stock-ledger-api/internal/infrastructure/memory"
	"github.com/jhoicas/stock-ledger-api/internal/infrastructure/postgres"
	"github.com/jhoicas/stock-ledger-api/internal/infrastructure/sqlite"
	"github.com/jhoicas/stock-ledger-api/pkg/config"
	"github.com/jhoicas/stock-ledger-api/pkg/logger"
)

// Backend transacciones y lecturas del ledger más la función de cierre.
type Backend struct {
	Tx    inventory.TxRunner
	Reads inventory.Repositories
	Close func()
}

// Open abre el almacenamiento configurado y aplica el esquema.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Backend, error) {
	log = log.Component("store")
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("conexión a PostgreSQL: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info().Str("driver", cfg.DB.Driver).Msg("almacenamiento listo")
		return &Backend{
			Tx:    postgres.NewTxRunner(pool, cfg.Ledger.LockTimeout),
			Reads: postgres.Repositories(pool),
			Close: pool.Close,
		}, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.DB.SQLitePath, cfg.Ledger.LockTimeout)
		if err != nil {
			return nil, fmt.Errorf("abrir SQLite: %w", err)
		}
		log.Info().Str("driver", cfg.DB.Driver).Str("path", cfg.DB.SQLitePath).Msg("almacenamiento listo")
		return &Backend{
			Tx:    db,
			Reads: db.Repositories(),
			Close: func() {
				if err := db.Close(); err != nil {
					log.Error().Err(err).Msg("cerrar SQLite")
				}
			},
		}, nil

	case config.DriverMemory:
		mem := memory.NewStore(memory.WithLockTimeout(cfg.Ledger.LockTimeout))
		log.Warn().Msg("almacenamiento en memoria: los datos se pierden al reiniciar")
		return &Backend{Tx: mem, Reads: mem.Repositories(), Close: func() {}}, nil
	}
	return nil, fmt.Errorf("DB_DRIVER %q no soportado", cfg.DB.Driver)
}

// ServiceConfig traduce la configuración del ledger al servicio de inventario.
func ServiceConfig(cfg *config.Config) inventory.Config {
	return inventory.Config{
		Retry: inventory.RetryPolicy{
			MaxAttempts: cfg.Ledger.RetryAttempts,
			BaseDelay:   cfg.Ledger.RetryBaseDelay,
			MaxDelay:    cfg.Ledger.RetryMaxDelay,
		},
		MaxPageSize:          cfg.Ledger.MaxPageSize,
		ReconcileConcurrency: cfg.Reconcile.Concurrency,
	}
}
