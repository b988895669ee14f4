package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductConfig configuración de inventario de un producto.
// Si TrackInventory es falso no se valida stock ni se mantiene la proyección.
type ProductConfig struct {
	ProductID      string
	BusinessID     string
	TrackInventory bool
	MinQuantity    decimal.Decimal // umbral de alerta de stock bajo
	MaxQuantity    decimal.Decimal // 0 = sin máximo
	UpdatedAt      time.Time
}

// BelowMin indica si la cantidad está por debajo del mínimo configurado.
func (c *ProductConfig) BelowMin(qty decimal.Decimal) bool {
	return c.MinQuantity.GreaterThan(decimal.Zero) && qty.LessThan(c.MinQuantity)
}

// AboveMax indica si la cantidad supera el máximo configurado.
func (c *ProductConfig) AboveMax(qty decimal.Decimal) bool {
	return c.MaxQuantity.GreaterThan(decimal.Zero) && qty.GreaterThan(c.MaxQuantity)
}
