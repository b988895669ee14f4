package entity

import "time"

// Branch representa una sucursal de la empresa donde se almacena inventario.
type Branch struct {
	ID         string
	BusinessID string
	Name       string
	CreatedAt  time.Time
}
