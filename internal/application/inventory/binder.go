package inventory

import (
	"context"
	"fmt"

	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	"github.com/jhoicas/stock-ledger-api/internal/domain/repository"
)

// ReferenceBinder asocia cada movimiento a su origen tipado y localiza movimientos por origen.
type ReferenceBinder struct{}

// Bind verifica que la referencia sea atribuible. Las citas, ventas y facturas de proveedor
// deben existir en su módulo; ajustes, cargas iniciales y traslados se originan en el propio
// ledger; una reversión debe apuntar a un movimiento existente.
func (b *ReferenceBinder) Bind(ctx context.Context, repos Repositories, businessID string, ref entity.Reference) error {
	if err := validateReference(ref); err != nil {
		return err
	}
	switch ref.Type {
	case entity.ReferenceAppointmentUsage, entity.ReferenceDirectSale, entity.ReferenceSupplierInvoice:
		ok, err := repos.References.DocumentExists(ctx, businessID, ref)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrReferenceNotFound, ref)
		}
		return nil
	case entity.ReferenceManualAdjustment, entity.ReferenceInitialStockLoad, entity.ReferenceBranchTransfer:
		return nil
	case entity.ReferenceReversal:
		m, err := repos.Movements.GetByID(ctx, businessID, ref.ID)
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("%w: %s", domain.ErrReferenceNotFound, ref)
		}
		return nil
	}
	return domain.NewValidationError("reference_type", "tipo de referencia desconocido")
}

// FindByReference devuelve los movimientos de un origen, ordenados por creación.
func (b *ReferenceBinder) FindByReference(ctx context.Context, movements repository.InventoryMovementRepository, businessID string, ref entity.Reference) ([]*entity.InventoryMovement, error) {
	if businessID == "" {
		return nil, domain.NewValidationError("business_id", "requerido")
	}
	if err := validateReference(ref); err != nil {
		return nil, err
	}
	return movements.FindByReference(ctx, businessID, ref)
}
