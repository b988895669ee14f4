package repository

import (
	"context"
	"time"

	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// MovementFilter filtros para listar movimientos. BusinessID es obligatorio; el resto opcional.
type MovementFilter struct {
	BusinessID    string
	ProductID     string
	BranchID      string
	ReferenceType entity.ReferenceType
	ReferenceID   string
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

// InventoryMovementRepository define el puerto de persistencia del ledger (solo inserción).
// No existe Update ni Delete: las correcciones se hacen con movimientos de reversión.
type InventoryMovementRepository interface {
	// Append persiste el movimiento. Asigna ID si viene vacío y Seq siempre.
	// Una segunda reversión del mismo movimiento devuelve domain.ErrAlreadyReversed.
	Append(ctx context.Context, movement *entity.InventoryMovement) error
	// GetByID devuelve nil, nil si no existe para la empresa.
	GetByID(ctx context.Context, businessID, id string) (*entity.InventoryMovement, error)
	// FindByReference devuelve los movimientos de un origen ordenados por (created_at, seq).
	FindByReference(ctx context.Context, businessID string, ref entity.Reference) ([]*entity.InventoryMovement, error)
	// FindReversalOf devuelve la reversión que apunta al movimiento, o nil.
	FindReversalOf(ctx context.Context, businessID, movementID string) (*entity.InventoryMovement, error)
	// List devuelve una página ordenada por (created_at, seq) y el total de coincidencias.
	List(ctx context.Context, filter MovementFilter) ([]*entity.InventoryMovement, int, error)
	// SumByKey suma las cantidades de todos los movimientos de la clave (reconciliación).
	SumByKey(ctx context.Context, key entity.StockKey) (decimal.Decimal, error)
}
