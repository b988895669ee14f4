package entity

import "strings"

// ReferenceType tipo de origen de un movimiento (conjunto cerrado).
type ReferenceType string

const (
	ReferenceAppointmentUsage ReferenceType = "APPOINTMENT_USAGE"  // insumo usado en una cita
	ReferenceDirectSale       ReferenceType = "DIRECT_SALE"        // venta en punto de venta
	ReferenceSupplierInvoice  ReferenceType = "SUPPLIER_INVOICE"   // factura de proveedor aprobada
	ReferenceManualAdjustment ReferenceType = "MANUAL_ADJUSTMENT"  // ajuste manual
	ReferenceBranchTransfer   ReferenceType = "BRANCH_TRANSFER"    // traslado entre sucursales
	ReferenceInitialStockLoad ReferenceType = "INITIAL_STOCK_LOAD" // carga inicial de stock
	ReferenceReversal         ReferenceType = "REVERSAL"           // compensación de otro movimiento
)

// ReferenceTypes devuelve todos los tipos de referencia en orden estable.
func ReferenceTypes() []ReferenceType {
	return []ReferenceType{
		ReferenceAppointmentUsage,
		ReferenceDirectSale,
		ReferenceSupplierInvoice,
		ReferenceManualAdjustment,
		ReferenceBranchTransfer,
		ReferenceInitialStockLoad,
		ReferenceReversal,
	}
}

// Valid indica si el tipo pertenece al conjunto cerrado.
func (t ReferenceType) Valid() bool {
	for _, rt := range ReferenceTypes() {
		if rt == t {
			return true
		}
	}
	return false
}

// ParseReferenceType convierte texto (sin importar mayúsculas) en ReferenceType.
func ParseReferenceType(s string) (ReferenceType, bool) {
	t := ReferenceType(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Reference origen tipado de un movimiento. Reemplaza los mapas de metadatos libres.
type Reference struct {
	Type ReferenceType
	ID   string
}

// IsZero indica si la referencia está vacía.
func (r Reference) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

func (r Reference) String() string {
	return string(r.Type) + ":" + r.ID
}

// Constructores por tipo de origen.

func AppointmentUsage(appointmentID string) Reference {
	return Reference{Type: ReferenceAppointmentUsage, ID: appointmentID}
}

func DirectSale(saleID string) Reference {
	return Reference{Type: ReferenceDirectSale, ID: saleID}
}

func SupplierInvoice(invoiceID string) Reference {
	return Reference{Type: ReferenceSupplierInvoice, ID: invoiceID}
}

func ManualAdjustment(adjustmentID string) Reference {
	return Reference{Type: ReferenceManualAdjustment, ID: adjustmentID}
}

func BranchTransfer(transferID string) Reference {
	return Reference{Type: ReferenceBranchTransfer, ID: transferID}
}

func InitialStockLoad(loadID string) Reference {
	return Reference{Type: ReferenceInitialStockLoad, ID: loadID}
}

func ReversalOf(movementID string) Reference {
	return Reference{Type: ReferenceReversal, ID: movementID}
}
