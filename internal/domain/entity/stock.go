package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockKey identifica una fila de stock actual: (empresa, sucursal, producto).
type StockKey struct {
	BusinessID string
	BranchID   string
	ProductID  string
}

func (k StockKey) String() string {
	return k.BusinessID + "/" + k.BranchID + "/" + k.ProductID
}

// Less define el orden canónico de bloqueo entre claves.
func (k StockKey) Less(o StockKey) bool {
	if k.BusinessID != o.BusinessID {
		return k.BusinessID < o.BusinessID
	}
	if k.BranchID != o.BranchID {
		return k.BranchID < o.BranchID
	}
	return k.ProductID < o.ProductID
}

// Stock representa el stock actual de un producto en una sucursal (proyección materializada).
// Siempre igual a la suma de los movimientos de la misma clave.
type Stock struct {
	BusinessID string
	BranchID   string
	ProductID  string
	Quantity   decimal.Decimal
	UpdatedAt  time.Time
}

// Key devuelve la clave de la fila.
func (s *Stock) Key() StockKey {
	return StockKey{BusinessID: s.BusinessID, BranchID: s.BranchID, ProductID: s.ProductID}
}
