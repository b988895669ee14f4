package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
)

// Alta de datos maestros que en producción pertenecen a otros módulos
// (catálogo, sucursales, documentos). Usado por tests y el entorno local.

// AddBranch registra una sucursal.
func (s *Store) AddBranch(ctx context.Context, b entity.Branch) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO branches (id, business_id, name, created_at) VALUES (?, ?, ?, ?)`,
		b.ID, b.BusinessID, b.Name, formatTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert branch: %w", err)
	}
	return nil
}

// AddProduct registra la configuración de inventario de un producto.
func (s *Store) AddProduct(ctx context.Context, c entity.ProductConfig) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, business_id, track_inventory, min_quantity, max_quantity, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ProductID, c.BusinessID, c.TrackInventory, c.MinQuantity.String(), c.MaxQuantity.String(), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// AddDocument registra un documento de origen (cita, venta o factura).
func (s *Store) AddDocument(ctx context.Context, businessID string, ref entity.Reference) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO documents (business_id, reference_type, id) VALUES (?, ?, ?)`,
		businessID, string(ref.Type), ref.ID)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}
