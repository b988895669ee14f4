package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	"github.com/jhoicas/stock-ledger-api/internal/domain/repository"
)

var (
	_ repository.InventoryMovementRepository = (*MovementRepo)(nil)
	_ repository.StockRepository             = (*StockRepo)(nil)
	_ repository.ProductConfigRepository     = (*ProductConfigRepo)(nil)
	_ repository.BranchRepository            = (*BranchRepo)(nil)
	_ repository.ReferenceRepository         = (*ReferenceRepo)(nil)
)

// ────────────────────────────────────────────────────────────────
// Movimientos
// ────────────────────────────────────────────────────────────────

const movementColumns = `seq, id, business_id, branch_id, product_id, quantity, type,
	reference_type, reference_id, actor_id, note, created_at`

// MovementRepo historial solo inserción sobre SQLite.
type MovementRepo struct {
	q Querier
}

func (r *MovementRepo) Append(ctx context.Context, m *entity.InventoryMovement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO inventory_movements (id, business_id, branch_id, product_id, quantity, type,
			reference_type, reference_id, actor_id, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.BusinessID, m.BranchID, m.ProductID, m.Quantity.String(), string(m.Type),
		string(m.Reference.Type), m.Reference.ID, m.ActorID, m.Note, formatTime(m.CreatedAt),
	)
	if err != nil {
		if msg := uniqueViolation(err); msg != "" {
			switch {
			case isReferenceViolation(msg) && m.Reference.Type == entity.ReferenceBranchTransfer:
				return domain.NewValidationError("transfer_id", "ya fue utilizado")
			case isReferenceViolation(msg):
				return fmt.Errorf("%w: %s", domain.ErrAlreadyReversed, m.Reference.ID)
			}
			return fmt.Errorf("%w: movimiento %s", domain.ErrDuplicate, m.ID)
		}
		return wrapErr("append inventory movement", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return wrapErr("movement seq", err)
	}
	m.Seq = seq
	return nil
}

func (r *MovementRepo) GetByID(ctx context.Context, businessID, id string) (*entity.InventoryMovement, error) {
	m, err := scanMovement(r.q.QueryRowContext(ctx,
		`SELECT `+movementColumns+` FROM inventory_movements WHERE business_id = ? AND id = ?`, businessID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get movement", err)
	}
	return m, nil
}

func (r *MovementRepo) FindByReference(ctx context.Context, businessID string, ref entity.Reference) ([]*entity.InventoryMovement, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+movementColumns+` FROM inventory_movements
		WHERE business_id = ? AND reference_type = ? AND reference_id = ?
		ORDER BY created_at, seq`, businessID, string(ref.Type), ref.ID)
	if err != nil {
		return nil, wrapErr("find by reference", err)
	}
	return collectMovements(rows)
}

func (r *MovementRepo) FindReversalOf(ctx context.Context, businessID, movementID string) (*entity.InventoryMovement, error) {
	m, err := scanMovement(r.q.QueryRowContext(ctx, `SELECT `+movementColumns+` FROM inventory_movements
		WHERE business_id = ? AND reference_type = ? AND reference_id = ?`,
		businessID, string(entity.ReferenceReversal), movementID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("find reversal", err)
	}
	return m, nil
}

func (r *MovementRepo) List(ctx context.Context, f repository.MovementFilter) ([]*entity.InventoryMovement, int, error) {
	conds := []string{"business_id = ?"}
	args := []any{f.BusinessID}
	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
	}
	if f.ProductID != "" {
		add("product_id = ?", f.ProductID)
	}
	if f.BranchID != "" {
		add("branch_id = ?", f.BranchID)
	}
	if f.ReferenceType != "" {
		add("reference_type = ?", string(f.ReferenceType))
	}
	if f.ReferenceID != "" {
		add("reference_id = ?", f.ReferenceID)
	}
	if f.From != nil {
		add("created_at >= ?", formatTime(*f.From))
	}
	if f.To != nil {
		add("created_at <= ?", formatTime(*f.To))
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT count(*) FROM inventory_movements`+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapErr("count movements", err)
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+movementColumns+` FROM inventory_movements`+where+
		` ORDER BY created_at, seq LIMIT ? OFFSET ?`, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, wrapErr("list movements", err)
	}
	list, err := collectMovements(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// SumByKey suma en Go: las cantidades están guardadas como TEXT.
func (r *MovementRepo) SumByKey(ctx context.Context, key entity.StockKey) (decimal.Decimal, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT quantity FROM inventory_movements
		WHERE business_id = ? AND branch_id = ? AND product_id = ?`,
		key.BusinessID, key.BranchID, key.ProductID)
	if err != nil {
		return decimal.Zero, wrapErr("sum movements", err)
	}
	defer rows.Close()
	sum := decimal.Zero
	for rows.Next() {
		var q decimal.Decimal
		if err := rows.Scan(&q); err != nil {
			return decimal.Zero, fmt.Errorf("scan quantity: %w", err)
		}
		sum = sum.Add(q)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, wrapErr("iterate quantities", err)
	}
	return sum, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovement(row rowScanner) (*entity.InventoryMovement, error) {
	var m entity.InventoryMovement
	var typ, refType, created string
	if err := row.Scan(&m.Seq, &m.ID, &m.BusinessID, &m.BranchID, &m.ProductID, &m.Quantity, &typ,
		&refType, &m.Reference.ID, &m.ActorID, &m.Note, &created); err != nil {
		return nil, err
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = t
	m.Type = entity.MovementType(typ)
	m.Reference.Type = entity.ReferenceType(refType)
	return &m, nil
}

func collectMovements(rows *sql.Rows) ([]*entity.InventoryMovement, error) {
	defer rows.Close()
	list := []*entity.InventoryMovement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate movements", err)
	}
	return list, nil
}

// ────────────────────────────────────────────────────────────────
// Stock actual
// ────────────────────────────────────────────────────────────────

// StockRepo proyección de stock sobre SQLite.
type StockRepo struct {
	q Querier
}

func (r *StockRepo) Get(ctx context.Context, key entity.StockKey) (*entity.Stock, error) {
	var s entity.Stock
	var updated string
	err := r.q.QueryRowContext(ctx, `
		SELECT business_id, branch_id, product_id, quantity, updated_at
		FROM current_stock WHERE business_id = ? AND branch_id = ? AND product_id = ?`,
		key.BusinessID, key.BranchID, key.ProductID,
	).Scan(&s.BusinessID, &s.BranchID, &s.ProductID, &s.Quantity, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get stock", err)
	}
	if s.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetForUpdate la transacción ya tiene el bloqueo de escritura (BEGIN IMMEDIATE);
// solo se garantiza que la fila exista.
func (r *StockRepo) GetForUpdate(ctx context.Context, key entity.StockKey) (*entity.Stock, error) {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO current_stock (business_id, branch_id, product_id, quantity, updated_at)
		VALUES (?, ?, ?, '0', ?)
		ON CONFLICT (business_id, branch_id, product_id) DO NOTHING`,
		key.BusinessID, key.BranchID, key.ProductID, formatTime(time.Now()))
	if err != nil {
		return nil, wrapErr("ensure stock row", err)
	}
	return r.Get(ctx, key)
}

func (r *StockRepo) AddQuantity(ctx context.Context, key entity.StockKey, delta decimal.Decimal) (decimal.Decimal, error) {
	cur, err := r.Get(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	qty := delta
	if cur != nil {
		qty = cur.Quantity.Add(delta)
	}
	if err := r.SetQuantity(ctx, key, qty); err != nil {
		return decimal.Zero, err
	}
	return qty, nil
}

func (r *StockRepo) SetQuantity(ctx context.Context, key entity.StockKey, qty decimal.Decimal) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO current_stock (business_id, branch_id, product_id, quantity, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (business_id, branch_id, product_id)
		DO UPDATE SET quantity = excluded.quantity, updated_at = excluded.updated_at`,
		key.BusinessID, key.BranchID, key.ProductID, qty.String(), formatTime(time.Now()))
	if err != nil {
		return wrapErr("set stock quantity", err)
	}
	return nil
}

func (r *StockRepo) ListKeys(ctx context.Context, businessID string) ([]entity.StockKey, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT business_id, branch_id, product_id FROM current_stock
		WHERE business_id = ? ORDER BY branch_id, product_id`, businessID)
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

// ────────────────────────────────────────────────────────────────
// Productos, sucursales y documentos de origen
// ────────────────────────────────────────────────────────────────

// ProductConfigRepo configuración de inventario de productos.
type ProductConfigRepo struct {
	q Querier
}

func (r *ProductConfigRepo) Get(ctx context.Context, businessID, productID string) (*entity.ProductConfig, error) {
	var c entity.ProductConfig
	var updated string
	err := r.q.QueryRowContext(ctx, `
		SELECT id, business_id, track_inventory, min_quantity, max_quantity, updated_at
		FROM products WHERE business_id = ? AND id = ?`, businessID, productID,
	).Scan(&c.ProductID, &c.BusinessID, &c.TrackInventory, &c.MinQuantity, &c.MaxQuantity, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get product config", err)
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetForShare equivale a Get: BEGIN IMMEDIATE ya serializa las transacciones de escritura.
func (r *ProductConfigRepo) GetForShare(ctx context.Context, businessID, productID string) (*entity.ProductConfig, error) {
	return r.Get(ctx, businessID, productID)
}

// GetForUpdate equivale a Get por la misma razón que GetForShare.
func (r *ProductConfigRepo) GetForUpdate(ctx context.Context, businessID, productID string) (*entity.ProductConfig, error) {
	return r.Get(ctx, businessID, productID)
}

func (r *ProductConfigRepo) Update(ctx context.Context, cfg *entity.ProductConfig) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE products SET track_inventory = ?, min_quantity = ?, max_quantity = ?, updated_at = ?
		WHERE business_id = ? AND id = ?`,
		cfg.TrackInventory, cfg.MinQuantity.String(), cfg.MaxQuantity.String(), formatTime(cfg.UpdatedAt),
		cfg.BusinessID, cfg.ProductID)
	if err != nil {
		return wrapErr("update product config", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: producto %s", domain.ErrNotFound, cfg.ProductID)
	}
	return nil
}

// BranchRepo lectura de sucursales.
type BranchRepo struct {
	q Querier
}

func (r *BranchRepo) GetByID(ctx context.Context, id string) (*entity.Branch, error) {
	var b entity.Branch
	var created string
	err := r.q.QueryRowContext(ctx, `SELECT id, business_id, name, created_at FROM branches WHERE id = ?`, id).
		Scan(&b.ID, &b.BusinessID, &b.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get branch", err)
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &b, nil
}

// ReferenceRepo documentos de origen en una sola tabla (business_id, reference_type, id).
type ReferenceRepo struct {
	q Querier
}

func (r *ReferenceRepo) DocumentExists(ctx context.Context, businessID string, ref entity.Reference) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT count(*) FROM documents WHERE business_id = ? AND reference_type = ? AND id = ?`,
		businessID, string(ref.Type), ref.ID).Scan(&n)
	if err != nil {
		return false, wrapErr("document exists", err)
	}
	return n > 0, nil
}

// LockReference no hace nada: la transacción ya tiene el bloqueo de escritura de la base.
func (r *ReferenceRepo) LockReference(context.Context, string, entity.Reference) error {
	return nil
}
