package inventory

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	"github.com/jhoicas/stock-ledger-api/internal/domain/repository"
)

// StockProjector mantiene el stock actual por clave. Es el único escritor de la tabla de stock.
type StockProjector struct{}

// Apply suma la cantidad del movimiento a la fila de su clave (la crea si no existe).
// Para productos sin control de inventario no hace nada.
func (p *StockProjector) Apply(ctx context.Context, stock repository.StockRepository, m *entity.InventoryMovement, tracked bool) (decimal.Decimal, error) {
	if !tracked {
		return decimal.Zero, nil
	}
	return stock.AddQuantity(ctx, m.Key(), m.Quantity)
}

// Rebuild recalcula la fila sumando el historial completo. Solo para reconciliación,
// nunca en el camino de escritura normal. La clave debe estar bloqueada por el llamador.
func (p *StockProjector) Rebuild(ctx context.Context, repos Repositories, key entity.StockKey) (decimal.Decimal, error) {
	sum, err := repos.Movements.SumByKey(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	if err := repos.Stock.SetQuantity(ctx, key, sum); err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}
