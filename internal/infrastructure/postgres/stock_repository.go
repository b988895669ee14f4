package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	"github.com/jhoicas/stock-ledger-api/internal/domain/repository"
)

var _ repository.StockRepository = (*StockRepo)(nil)

// StockRepo implementación de StockRepository sobre PostgreSQL (usable con pool o tx).
type StockRepo struct {
	q Querier
}

// NewStockRepository construye el adaptador de stock. Pasar pool o tx (Querier).
func NewStockRepository(q Querier) *StockRepo {
	return &StockRepo{q: q}
}

// Get obtiene el stock actual de una clave; nil si la fila no existe.
func (r *StockRepo) Get(ctx context.Context, key entity.StockKey) (*entity.Stock, error) {
	query := `
		SELECT business_id, branch_id, product_id, quantity, updated_at
		FROM current_stock WHERE business_id = $1 AND branch_id = $2 AND product_id = $3`
	return r.get(ctx, "get stock", query, key)
}

// GetForUpdate bloquea la fila de la clave (SELECT FOR UPDATE). Si no existe la crea en cero
// para que el bloqueo cubra también el primer movimiento de la clave.
func (r *StockRepo) GetForUpdate(ctx context.Context, key entity.StockKey) (*entity.Stock, error) {
	_, err := r.q.Exec(ctx, `
		INSERT INTO current_stock (business_id, branch_id, product_id, quantity, updated_at)
		VALUES ($1, $2, $3, 0, now())
		ON CONFLICT (business_id, branch_id, product_id) DO NOTHING`,
		key.BusinessID, key.BranchID, key.ProductID,
	)
	if err != nil {
		return nil, wrapErr("ensure stock row", err)
	}
	query := `
		SELECT business_id, branch_id, product_id, quantity, updated_at
		FROM current_stock WHERE business_id = $1 AND branch_id = $2 AND product_id = $3
		FOR UPDATE`
	return r.get(ctx, "get stock for update", query, key)
}

func (r *StockRepo) get(ctx context.Context, op, query string, key entity.StockKey) (*entity.Stock, error) {
	var s entity.Stock
	err := r.q.QueryRow(ctx, query, key.BusinessID, key.BranchID, key.ProductID).Scan(
		&s.BusinessID, &s.BranchID, &s.ProductID, &s.Quantity, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr(op, err)
	}
	return &s, nil
}

// AddQuantity suma delta a la fila en una sola sentencia (upsert) y devuelve la cantidad nueva.
func (r *StockRepo) AddQuantity(ctx context.Context, key entity.StockKey, delta decimal.Decimal) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := r.q.QueryRow(ctx, `
		INSERT INTO current_stock (business_id, branch_id, product_id, quantity, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (business_id, branch_id, product_id)
		DO UPDATE SET quantity = current_stock.quantity + EXCLUDED.quantity, updated_at = now()
		RETURNING quantity`,
		key.BusinessID, key.BranchID, key.ProductID, delta,
	).Scan(&qty)
	if err != nil {
		return decimal.Zero, wrapErr("add stock quantity", err)
	}
	return qty, nil
}

// SetQuantity fija la cantidad (solo reconstrucción desde el historial).
func (r *StockRepo) SetQuantity(ctx context.Context, key entity.StockKey, qty decimal.Decimal) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO current_stock (business_id, branch_id, product_id, quantity, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (business_id, branch_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = now()`,
		key.BusinessID, key.BranchID, key.ProductID, qty,
	)
	if err != nil {
		return wrapErr("set stock quantity", err)
	}
	return nil
}

// ListKeys lista las claves con fila de stock de una empresa.
func (r *StockRepo) ListKeys(ctx context.Context, businessID string) ([]entity.StockKey, error) {
	rows, err := r.q.Query(ctx, `
		SELECT business_id, branch_id, product_id FROM current_stock
		WHERE business_id = $1 ORDER BY branch_id, product_id`, businessID)
	if err != nil {
		return nil, wrapErr("list stock keys", err)
	}
	defer rows.Close()
	var keys []entity.StockKey
	for rows.Next() {
		var k entity.StockKey
		if err := rows.Scan(&k.BusinessID, &k.BranchID, &k.ProductID); err != nil {
			return nil, wrapErr("scan stock key", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
