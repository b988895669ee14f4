package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	"github.com/jhoicas/stock-ledger-api/internal/domain/repository"
)

var _ repository.ProductConfigRepository = (*ProductConfigRepo)(nil)

// ProductConfigRepo lee y actualiza las columnas de inventario de products (usable con pool o tx).
// El resto del producto pertenece al catálogo.
type ProductConfigRepo struct {
	q Querier
}

// NewProductConfigRepository construye el adaptador. Pasar pool o tx (Querier).
func NewProductConfigRepository(q Querier) *ProductConfigRepo {
	return &ProductConfigRepo{q: q}
}

const selectProductConfig = `
		SELECT id, business_id, track_inventory, min_quantity, max_quantity, updated_at
		FROM products WHERE business_id = $1 AND id = $2`

// Get obtiene la configuración de inventario; nil si el producto no existe en la empresa.
func (r *ProductConfigRepo) Get(ctx context.Context, businessID, productID string) (*entity.ProductConfig, error) {
	return r.get(ctx, selectProductConfig, businessID, productID)
}

// GetForShare lee la configuración con FOR SHARE: bloquea cambios de configuración hasta el commit
// sin bloquear a otras escrituras de stock del mismo producto.
func (r *ProductConfigRepo) GetForShare(ctx context.Context, businessID, productID string) (*entity.ProductConfig, error) {
	return r.get(ctx, selectProductConfig+" FOR SHARE", businessID, productID)
}

// GetForUpdate lee la configuración con FOR UPDATE; espera a las transacciones con FOR SHARE.
func (r *ProductConfigRepo) GetForUpdate(ctx context.Context, businessID, productID string) (*entity.ProductConfig, error) {
	return r.get(ctx, selectProductConfig+" FOR UPDATE", businessID, productID)
}

func (r *ProductConfigRepo) get(ctx context.Context, query, businessID, productID string) (*entity.ProductConfig, error) {
	var c entity.ProductConfig
	err := r.q.QueryRow(ctx, query, businessID, productID).Scan(
		&c.ProductID, &c.BusinessID, &c.TrackInventory, &c.MinQuantity, &c.MaxQuantity, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("get product config", err)
	}
	return &c, nil
}

// Update actualiza las columnas de inventario del producto.
func (r *ProductConfigRepo) Update(ctx context.Context, cfg *entity.ProductConfig) error {
	cmd, err := r.q.Exec(ctx, `
		UPDATE products SET track_inventory = $3, min_quantity = $4, max_quantity = $5, updated_at = $6
		WHERE business_id = $1 AND id = $2`,
		cfg.BusinessID, cfg.ProductID, cfg.TrackInventory, cfg.MinQuantity, cfg.MaxQuantity, cfg.UpdatedAt,
	)
	if err != nil {
		return wrapErr("update product config", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: producto %s", domain.ErrNotFound, cfg.ProductID)
	}
	return nil
}
