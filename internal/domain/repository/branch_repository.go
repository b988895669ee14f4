package repository

import (
	"context"

	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
)

// BranchRepository define el puerto de lectura de sucursales.
type BranchRepository interface {
	// GetByID devuelve nil, nil si la sucursal no existe.
	GetByID(ctx context.Context, id string) (*entity.Branch, error)
}
