package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	"github.com/jhoicas/stock-ledger-api/internal/domain/repository"
)

var _ repository.InventoryMovementRepository = (*InventoryMovementRepo)(nil)

const (
	reversalIndex    = "uq_inventory_movements_reversal"
	transferLegIndex = "uq_inventory_movements_transfer_leg"
)

const movementColumns = `seq, id, business_id, branch_id, product_id, quantity, type,
	reference_type, reference_id, actor_id, note, created_at`

// InventoryMovementRepo implementación sobre PostgreSQL (usable con pool o tx).
// Solo inserción: un trigger rechaza UPDATE y DELETE sobre la tabla.
type InventoryMovementRepo struct {
	q Querier
}

// NewInventoryMovementRepository construye el adaptador. Pasar pool o tx (Querier).
func NewInventoryMovementRepository(q Querier) *InventoryMovementRepo {
	return &InventoryMovementRepo{q: q}
}

// Append persiste un movimiento y asigna Seq desde la identidad de la tabla.
func (r *InventoryMovementRepo) Append(ctx context.Context, m *entity.InventoryMovement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	query := `
		INSERT INTO inventory_movements (id, business_id, branch_id, product_id, quantity, type,
			reference_type, reference_id, actor_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq`
	err := r.q.QueryRow(ctx, query,
		m.ID, m.BusinessID, m.BranchID, m.ProductID, m.Quantity, string(m.Type),
		string(m.Reference.Type), m.Reference.ID, m.ActorID, m.Note, m.CreatedAt,
	).Scan(&m.Seq)
	if err != nil {
		if isUniqueViolation(err) {
			return appendConflict(constraintName(err), m)
		}
		return wrapErr("append inventory movement", err)
	}
	return nil
}

// appendConflict traduce la restricción única violada al error de dominio.
func appendConflict(constraint string, m *entity.InventoryMovement) error {
	switch constraint {
	case reversalIndex:
		return fmt.Errorf("%w: %s", domain.ErrAlreadyReversed, m.Reference.ID)
	case transferLegIndex:
		return domain.NewValidationError("transfer_id", "ya fue utilizado")
	default:
		return fmt.Errorf("%w: movimiento %s", domain.ErrDuplicate, m.ID)
	}
}

// GetByID obtiene un movimiento por ID dentro de la empresa.
func (r *InventoryMovementRepo) GetByID(ctx context.Context, businessID, id string) (*entity.InventoryMovement, error) {
	query := `SELECT ` + movementColumns + ` FROM inventory_movements WHERE business_id = $1 AND id = $2`
	m, err := scanMovement(r.q.QueryRow(ctx, query, businessID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("get movement", err)
	}
	return m, nil
}

// FindByReference lista los movimientos de un origen en orden de creación.
func (r *InventoryMovementRepo) FindByReference(ctx context.Context, businessID string, ref entity.Reference) ([]*entity.InventoryMovement, error) {
	query := `SELECT ` + movementColumns + ` FROM inventory_movements
		WHERE business_id = $1 AND reference_type = $2 AND reference_id = $3
		ORDER BY created_at, seq`
	rows, err := r.q.Query(ctx, query, businessID, string(ref.Type), ref.ID)
	if err != nil {
		return nil, wrapErr("find by reference", err)
	}
	return collectMovements(rows)
}

// FindReversalOf devuelve la reversión de un movimiento, o nil.
func (r *InventoryMovementRepo) FindReversalOf(ctx context.Context, businessID, movementID string) (*entity.InventoryMovement, error) {
	query := `SELECT ` + movementColumns + ` FROM inventory_movements
		WHERE business_id = $1 AND reference_type = $2 AND reference_id = $3`
	m, err := scanMovement(r.q.QueryRow(ctx, query, businessID, string(entity.ReferenceReversal), movementID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("find reversal", err)
	}
	return m, nil
}

// List lista movimientos con filtros opcionales, paginados y en orden de creación.
func (r *InventoryMovementRepo) List(ctx context.Context, f repository.MovementFilter) ([]*entity.InventoryMovement, int, error) {
	where := ` WHERE business_id = $1`
	args := []any{f.BusinessID}
	pos := 2
	add := func(cond string, v any) {
		where += fmt.Sprintf(" AND "+cond, pos)
		args = append(args, v)
		pos++
	}
	if f.ProductID != "" {
		add("product_id = $%d", f.ProductID)
	}
	if f.BranchID != "" {
		add("branch_id = $%d", f.BranchID)
	}
	if f.ReferenceType != "" {
		add("reference_type = $%d", string(f.ReferenceType))
	}
	if f.ReferenceID != "" {
		add("reference_id = $%d", f.ReferenceID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	var total int
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM inventory_movements`+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapErr("count movements", err)
	}

	query := `SELECT ` + movementColumns + ` FROM inventory_movements` + where +
		fmt.Sprintf(" ORDER BY created_at, seq LIMIT $%d OFFSET $%d", pos, pos+1)
	args = append(args, f.Limit, f.Offset)
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, wrapErr("list movements", err)
	}
	list, err := collectMovements(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// SumByKey suma las cantidades del historial de una clave.
func (r *InventoryMovementRepo) SumByKey(ctx context.Context, key entity.StockKey) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM inventory_movements
		WHERE business_id = $1 AND branch_id = $2 AND product_id = $3`,
		key.BusinessID, key.BranchID, key.ProductID,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, wrapErr("sum movements", err)
	}
	return sum, nil
}

func scanMovement(row pgx.Row) (*entity.InventoryMovement, error) {
	var m entity.InventoryMovement
	var typ, refType string
	if err := row.Scan(&m.Seq, &m.ID, &m.BusinessID, &m.BranchID, &m.ProductID, &m.Quantity, &typ,
		&refType, &m.Reference.ID, &m.ActorID, &m.Note, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Type = entity.MovementType(typ)
	m.Reference.Type = entity.ReferenceType(refType)
	return &m, nil
}

func collectMovements(rows pgx.Rows) ([]*entity.InventoryMovement, error) {
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
