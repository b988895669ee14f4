package inventory

import (
	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// Direction sentido permitido de la cantidad para un tipo de movimiento.
type Direction int

const (
	DirectionAny Direction = 0  // ADJUSTMENT: positivo o negativo
	DirectionIn  Direction = 1  // cantidad > 0
	DirectionOut Direction = -1 // cantidad < 0
)

// DirectionOf devuelve el sentido que exige el tipo de movimiento.
func DirectionOf(t entity.MovementType) Direction {
	switch t {
	case entity.MovementTypeEntry, entity.MovementTypeTransferIn, entity.MovementTypeInitial:
		return DirectionIn
	case entity.MovementTypeConsumption, entity.MovementTypeTransferOut:
		return DirectionOut
	default:
		return DirectionAny
	}
}

// ValidateSign verifica que la cantidad no sea cero y que su signo coincida con el tipo.
func ValidateSign(t entity.MovementType, qty decimal.Decimal) error {
	if !t.Valid() {
		return domain.NewValidationError("type", "tipo de movimiento desconocido")
	}
	if qty.IsZero() {
		return domain.NewValidationError("quantity", "no puede ser cero")
	}
	switch DirectionOf(t) {
	case DirectionIn:
		if qty.IsNegative() {
			return domain.NewValidationError("quantity", "debe ser positiva para "+string(t))
		}
	case DirectionOut:
		if qty.IsPositive() {
			return domain.NewValidationError("quantity", "debe ser negativa para "+string(t))
		}
	}
	return nil
}

// InverseType tipo lógico inverso, usado para construir reversiones.
// INITIAL se revierte como ADJUSTMENT (no existe una "carga inicial" negativa).
func InverseType(t entity.MovementType) entity.MovementType {
	switch t {
	case entity.MovementTypeEntry:
		return entity.MovementTypeConsumption
	case entity.MovementTypeConsumption:
		return entity.MovementTypeEntry
	case entity.MovementTypeTransferOut:
		return entity.MovementTypeTransferIn
	case entity.MovementTypeTransferIn:
		return entity.MovementTypeTransferOut
	default:
		return entity.MovementTypeAdjustment
	}
}

// EntryType tipo de movimiento para una entrada según el origen.
func EntryType(ref entity.ReferenceType) (entity.MovementType, error) {
	switch ref {
	case entity.ReferenceSupplierInvoice:
		return entity.MovementTypeEntry, nil
	case entity.ReferenceManualAdjustment:
		return entity.MovementTypeAdjustment, nil
	case entity.ReferenceInitialStockLoad:
		return entity.MovementTypeInitial, nil
	case entity.ReferenceAppointmentUsage, entity.ReferenceDirectSale,
		entity.ReferenceBranchTransfer, entity.ReferenceReversal:
		return "", domain.NewValidationError("reference_type", string(ref)+" no admite entradas directas")
	}
	return "", domain.NewValidationError("reference_type", "tipo de referencia desconocido")
}

// ConsumptionType tipo de movimiento para un consumo según el origen.
func ConsumptionType(ref entity.ReferenceType) (entity.MovementType, error) {
	switch ref {
	case entity.ReferenceAppointmentUsage, entity.ReferenceDirectSale:
		return entity.MovementTypeConsumption, nil
	case entity.ReferenceManualAdjustment:
		return entity.MovementTypeAdjustment, nil
	case entity.ReferenceSupplierInvoice, entity.ReferenceInitialStockLoad,
		entity.ReferenceBranchTransfer, entity.ReferenceReversal:
		return "", domain.NewValidationError("reference_type", string(ref)+" no admite consumos directos")
	}
	return "", domain.NewValidationError("reference_type", "tipo de referencia desconocido")
}
