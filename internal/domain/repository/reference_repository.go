package repository

import (
	"context"

	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
)

// ReferenceRepository consulta si el documento de origen de un movimiento existe
// (cita, venta, factura de proveedor) en las tablas de los módulos colaboradores.
type ReferenceRepository interface {
	DocumentExists(ctx context.Context, businessID string, ref entity.Reference) (bool, error)
	// LockReference serializa hasta el fin de la transacción las unidades que escriben
	// bajo el mismo origen (p. ej. dos traslados con el mismo ID).
	LockReference(ctx context.Context, businessID string, ref entity.Reference) error
}
