package repository

import (
	"context"

	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
)

// ProductConfigRepository define el puerto para la configuración de inventario de productos.
// Los tres lectores devuelven nil, nil si el producto no existe para la empresa.
type ProductConfigRepository interface {
	// Get lectura sin bloqueo (consultas).
	Get(ctx context.Context, businessID, productID string) (*entity.ProductConfig, error)
	// GetForShare lee y bloquea la configuración en modo compartido hasta el fin de la
	// transacción: las escrituras del ledger la toman, SetProductConfig queda esperando.
	GetForShare(ctx context.Context, businessID, productID string) (*entity.ProductConfig, error)
	// GetForUpdate lee y bloquea la configuración en modo exclusivo.
	GetForUpdate(ctx context.Context, businessID, productID string) (*entity.ProductConfig, error)
	// Update persiste la configuración; domain.ErrNotFound si el producto no existe.
	Update(ctx context.Context, cfg *entity.ProductConfig) error
}
