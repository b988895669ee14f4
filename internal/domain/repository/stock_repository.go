package repository

import (
	"context"

	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// StockRepository define el puerto para consultar/actualizar el stock actual por clave.
// Las escrituras solo ocurren dentro de transacciones, desde el proyector.
type StockRepository interface {
	// Get devuelve nil, nil si la fila aún no existe.
	Get(ctx context.Context, key entity.StockKey) (*entity.Stock, error)
	// GetForUpdate igual que Get pero bloquea la clave hasta el fin de la transacción
	// (SELECT FOR UPDATE). Puede crear la fila en cero para tener algo que bloquear;
	// si no la crea y no existe devuelve nil, nil.
	GetForUpdate(ctx context.Context, key entity.StockKey) (*entity.Stock, error)
	// AddQuantity suma delta a la fila (la crea con delta si no existe) y devuelve la nueva cantidad.
	AddQuantity(ctx context.Context, key entity.StockKey, delta decimal.Decimal) (decimal.Decimal, error)
	// SetQuantity fija la cantidad. Reservado para la reconstrucción desde el historial.
	SetQuantity(ctx context.Context, key entity.StockKey, qty decimal.Decimal) error
	// ListKeys devuelve todas las claves con stock de una empresa.
	ListKeys(ctx context.Context, businessID string) ([]entity.StockKey, error)
}
