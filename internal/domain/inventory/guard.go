package inventory

import (
	"fmt"

	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// InsufficientStockError la cantidad proyectada de un producto con inventario sería negativa.
// errors.Is(err, domain.ErrInsufficientStock) es verdadero.
type InsufficientStockError struct {
	Key       entity.StockKey
	Available decimal.Decimal
	Requested decimal.Decimal // cantidad que se intentó retirar (positiva)
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: producto %s en sucursal %s (disponible %s, solicitado %s)",
		domain.ErrInsufficientStock.Error(), e.Key.ProductID, e.Key.BranchID,
		e.Available.String(), e.Requested.String())
}

func (e *InsufficientStockError) Unwrap() error { return domain.ErrInsufficientStock }

// Decision resultado del guard para un movimiento propuesto.
type Decision struct {
	Key       entity.StockKey
	Tracked   bool
	Current   decimal.Decimal
	Projected decimal.Decimal
}

// CheckMovement decide si un cambio con signo puede aplicarse sobre la cantidad actual.
// Sin control de inventario siempre se permite y la proyección no aplica.
func CheckMovement(cfg *entity.ProductConfig, key entity.StockKey, current, proposed decimal.Decimal) (Decision, error) {
	if cfg == nil || !cfg.TrackInventory {
		return Decision{Key: key}, nil
	}
	projected := current.Add(proposed)
	d := Decision{Key: key, Tracked: true, Current: current, Projected: projected}
	if projected.IsNegative() {
		return d, &InsufficientStockError{Key: key, Available: current, Requested: proposed.Neg()}
	}
	return d, nil
}
