package inventory

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	domaininv "github.com/jhoicas/stock-ledger-api/internal/domain/inventory"
	"github.com/jhoicas/stock-ledger-api/internal/domain/repository"
)

// ConsumptionGuard valida un movimiento propuesto contra el stock actual y la
// configuración del producto antes del commit.
type ConsumptionGuard struct{}

// Acquire bloquea la fila de stock de la clave (SELECT FOR UPDATE) y devuelve la cantidad actual.
// Para productos sin control de inventario no bloquea nada y devuelve cero.
func (g *ConsumptionGuard) Acquire(ctx context.Context, stock repository.StockRepository, cfg *entity.ProductConfig, key entity.StockKey) (decimal.Decimal, error) {
	if cfg == nil || !cfg.TrackInventory {
		return decimal.Zero, nil
	}
	row, err := stock.GetForUpdate(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	if row == nil {
		return decimal.Zero, nil
	}
	return row.Quantity, nil
}

// Decide aplica la regla de no-negatividad sobre una cantidad ya bloqueada.
func (g *ConsumptionGuard) Decide(cfg *entity.ProductConfig, key entity.StockKey, current, proposed decimal.Decimal) (domaininv.Decision, error) {
	return domaininv.CheckMovement(cfg, key, current, proposed)
}

// Check bloquea la clave y decide en un solo paso.
func (g *ConsumptionGuard) Check(ctx context.Context, stock repository.StockRepository, cfg *entity.ProductConfig, key entity.StockKey, proposed decimal.Decimal) (domaininv.Decision, error) {
	current, err := g.Acquire(ctx, stock, cfg, key)
	if err != nil {
		return domaininv.Decision{}, err
	}
	return g.Decide(cfg, key, current, proposed)
}
