package postgres

import (
	"context"

	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	"github.com/jhoicas/stock-ledger-api/internal/domain/repository"
)

var _ repository.ReferenceRepository = (*ReferenceRepo)(nil)

// Tablas de los módulos colaboradores que originan movimientos.
var documentTables = map[entity.ReferenceType]string{
	entity.ReferenceAppointmentUsage: "appointments",
	entity.ReferenceDirectSale:       "sales",
	entity.ReferenceSupplierInvoice:  "supplier_invoices",
}

// ReferenceRepo verifica la existencia de documentos de origen.
type ReferenceRepo struct {
	q Querier
}

// NewReferenceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewReferenceRepository(q Querier) *ReferenceRepo {
	return &ReferenceRepo{q: q}
}

// DocumentExists indica si el documento existe en la empresa.
func (r *ReferenceRepo) DocumentExists(ctx context.Context, businessID string, ref entity.Reference) (bool, error) {
	table, ok := documentTables[ref.Type]
	if !ok {
		return false, domain.NewValidationError("reference_type", string(ref.Type)+" no tiene documento de origen")
	}
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE business_id = $1 AND id = $2)`,
		businessID, ref.ID).Scan(&exists)
	if err != nil {
		return false, wrapErr("document exists", err)
	}
	return exists, nil
}

// LockReference toma un advisory lock de transacción sobre la referencia. Serializa a quienes
// validan y crean movimientos con la misma referencia (p. ej. un transfer_id).
func (r *ReferenceRepo) LockReference(ctx context.Context, businessID string, ref entity.Reference) error {
	key := businessID + "|" + string(ref.Type) + "|" + ref.ID
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return wrapErr("lock reference", err)
	}
	return nil
}
