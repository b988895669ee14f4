package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementType código del tipo de movimiento de inventario.
type MovementType string

// Tipos de movimiento de inventario.
const (
	MovementTypeEntry       MovementType = "ENTRY"        // entrada (compra, recepción)
	MovementTypeConsumption MovementType = "CONSUMPTION"  // salida (venta, insumo de cita)
	MovementTypeTransferOut MovementType = "TRANSFER_OUT" // traslado, pierna de salida
	MovementTypeTransferIn  MovementType = "TRANSFER_IN"  // traslado, pierna de entrada
	MovementTypeAdjustment  MovementType = "ADJUSTMENT"   // ajuste manual (+/-)
	MovementTypeInitial     MovementType = "INITIAL"      // carga inicial
)

// Valid indica si el código pertenece al conjunto cerrado de tipos.
func (t MovementType) Valid() bool {
	switch t {
	case MovementTypeEntry, MovementTypeConsumption, MovementTypeTransferOut,
		MovementTypeTransferIn, MovementTypeAdjustment, MovementTypeInitial:
		return true
	}
	return false
}

// InventoryMovement es un hecho inmutable: un cambio de cantidad con signo de un producto
// en una sucursal, con origen tipado. Nunca se edita ni se elimina.
type InventoryMovement struct {
	ID         string
	Seq        int64 // orden de inserción; desempate cuando CreatedAt coincide
	BusinessID string
	BranchID   string
	ProductID  string
	Quantity   decimal.Decimal // con signo: positivo entra, negativo sale
	Type       MovementType
	Reference  Reference
	ActorID    string
	Note       string
	CreatedAt  time.Time
}

// Key devuelve la clave de stock (empresa, sucursal, producto) del movimiento.
func (m *InventoryMovement) Key() StockKey {
	return StockKey{BusinessID: m.BusinessID, BranchID: m.BranchID, ProductID: m.ProductID}
}

// IsReversal indica si el movimiento compensa a otro.
func (m *InventoryMovement) IsReversal() bool {
	return m.Reference.Type == ReferenceReversal
}
