package memory

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

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

func cloneMovement(m *entity.InventoryMovement) *entity.InventoryMovement {
	c := *m
	return &c
}

// ── Movimientos ───────────────────────────────────────────────────────────────

// MovementRepo ledger en memoria (solo inserción).
type MovementRepo struct {
	v *view
}

// snapshot devuelve los movimientos confirmados más los pendientes de la transacción.
func (r *MovementRepo) snapshot() []*entity.InventoryMovement {
	r.v.s.mu.RLock()
	out := make([]*entity.InventoryMovement, 0, len(r.v.s.movements))
	out = append(out, r.v.s.movements...)
	r.v.s.mu.RUnlock()
	if r.v.t != nil {
		out = append(out, r.v.t.movements...)
	}
	return out
}

func (r *MovementRepo) Append(_ context.Context, m *entity.InventoryMovement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.IsReversal() {
		if rev, _ := r.FindReversalOf(context.Background(), m.BusinessID, m.Reference.ID); rev != nil {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyReversed, m.Reference.ID)
		}
	}
	if old, _ := r.GetByID(context.Background(), m.BusinessID, m.ID); old != nil {
		return fmt.Errorf("%w: movimiento %s", domain.ErrDuplicate, m.ID)
	}
	m.Seq = atomic.AddInt64(&r.v.s.seq, 1)
	stored := cloneMovement(m)
	if r.v.t != nil {
		r.v.t.movements = append(r.v.t.movements, stored)
		return nil
	}
	s := r.v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.IsReversal() {
		if _, dup := s.reversals[movementKey{m.BusinessID, m.Reference.ID}]; dup {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyReversed, m.Reference.ID)
		}
		s.reversals[movementKey{m.BusinessID, m.Reference.ID}] = m.ID
	}
	s.movements = append(s.movements, stored)
	s.byID[movementKey{m.BusinessID, m.ID}] = stored
	return nil
}

func (r *MovementRepo) GetByID(_ context.Context, businessID, id string) (*entity.InventoryMovement, error) {
	if r.v.t != nil {
		for _, m := range r.v.t.movements {
			if m.BusinessID == businessID && m.ID == id {
				return cloneMovement(m), nil
			}
		}
	}
	r.v.s.mu.RLock()
	defer r.v.s.mu.RUnlock()
	if m, ok := r.v.s.byID[movementKey{businessID, id}]; ok {
		return cloneMovement(m), nil
	}
	return nil, nil
}

func (r *MovementRepo) FindByReference(_ context.Context, businessID string, ref entity.Reference) ([]*entity.InventoryMovement, error) {
	var out []*entity.InventoryMovement
	for _, m := range r.snapshot() {
		if m.BusinessID == businessID && m.Reference == ref {
			out = append(out, cloneMovement(m))
		}
	}
	sortMovements(out)
	return out, nil
}

func (r *MovementRepo) FindReversalOf(_ context.Context, businessID, movementID string) (*entity.InventoryMovement, error) {
	for _, m := range r.snapshot() {
		if m.BusinessID == businessID && m.IsReversal() && m.Reference.ID == movementID {
			return cloneMovement(m), nil
		}
	}
	return nil, nil
}

func (r *MovementRepo) List(_ context.Context, f repository.MovementFilter) ([]*entity.InventoryMovement, int, error) {
	var matched []*entity.InventoryMovement
	for _, m := range r.snapshot() {
		if matches(m, f) {
			matched = append(matched, m)
		}
	}
	sortMovements(matched)
	total := len(matched)
	if f.Offset >= total {
		return []*entity.InventoryMovement{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	out := make([]*entity.InventoryMovement, 0, end-f.Offset)
	for _, m := range matched[f.Offset:end] {
		out = append(out, cloneMovement(m))
	}
	return out, total, nil
}

func (r *MovementRepo) SumByKey(_ context.Context, key entity.StockKey) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, m := range r.snapshot() {
		if m.Key() == key {
			sum = sum.Add(m.Quantity)
		}
	}
	return sum, nil
}

func matches(m *entity.InventoryMovement, f repository.MovementFilter) bool {
	switch {
	case m.BusinessID != f.BusinessID:
		return false
	case f.ProductID != "" && m.ProductID != f.ProductID:
		return false
	case f.BranchID != "" && m.BranchID != f.BranchID:
		return false
	case f.ReferenceType != "" && m.Reference.Type != f.ReferenceType:
		return false
	case f.ReferenceID != "" && m.Reference.ID != f.ReferenceID:
		return false
	case f.From != nil && m.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && m.CreatedAt.After(*f.To):
		return false
	}
	return true
}

func sortMovements(ms []*entity.InventoryMovement) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].Seq < ms[j].Seq
	})
}

// ── Stock ─────────────────────────────────────────────────────────────────────

// StockRepo proyección de stock actual en memoria.
type StockRepo struct {
	v *view
}

func (r *StockRepo) Get(_ context.Context, key entity.StockKey) (*entity.Stock, error) {
	if r.v.t != nil {
		if st, ok := r.v.t.stock[key]; ok {
			c := *st
			return &c, nil
		}
	}
	r.v.s.mu.RLock()
	defer r.v.s.mu.RUnlock()
	if st, ok := r.v.s.stock[key]; ok {
		c := *st
		return &c, nil
	}
	return nil, nil
}

func (r *StockRepo) GetForUpdate(ctx context.Context, key entity.StockKey) (*entity.Stock, error) {
	if r.v.t != nil {
		if err := r.v.t.lock(ctx, key); err != nil {
			return nil, err
		}
	}
	return r.Get(ctx, key)
}

func (r *StockRepo) AddQuantity(ctx context.Context, key entity.StockKey, delta decimal.Decimal) (decimal.Decimal, error) {
	if r.v.t == nil {
		s := r.v.s
		s.mu.Lock()
		defer s.mu.Unlock()
		qty := delta
		if st, ok := s.stock[key]; ok {
			qty = st.Quantity.Add(delta)
		}
		s.stock[key] = r.row(key, qty)
		return qty, nil
	}
	current, err := r.Get(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	qty := delta
	if current != nil {
		qty = current.Quantity.Add(delta)
	}
	r.v.t.stock[key] = r.row(key, qty)
	return qty, nil
}

func (r *StockRepo) SetQuantity(_ context.Context, key entity.StockKey, qty decimal.Decimal) error {
	if r.v.t != nil {
		r.v.t.stock[key] = r.row(key, qty)
		return nil
	}
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	r.v.s.stock[key] = r.row(key, qty)
	return nil
}

func (r *StockRepo) ListKeys(_ context.Context, businessID string) ([]entity.StockKey, error) {
	seen := make(map[entity.StockKey]bool)
	r.v.s.mu.RLock()
	for k := range r.v.s.stock {
		if k.BusinessID == businessID {
			seen[k] = true
		}
	}
	r.v.s.mu.RUnlock()
	if r.v.t != nil {
		for k := range r.v.t.stock {
			if k.BusinessID == businessID {
				seen[k] = true
			}
		}
	}
	keys := make([]entity.StockKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys, nil
}

func (r *StockRepo) row(key entity.StockKey, qty decimal.Decimal) *entity.Stock {
	return &entity.Stock{
		BusinessID: key.BusinessID, BranchID: key.BranchID, ProductID: key.ProductID,
		Quantity: qty, UpdatedAt: r.v.s.now().UTC(),
	}
}

// ── Productos, sucursales y documentos ────────────────────────────────────────

// ProductConfigRepo configuración de productos en memoria.
type ProductConfigRepo struct {
	v *view
}

func (r *ProductConfigRepo) Get(_ context.Context, businessID, productID string) (*entity.ProductConfig, error) {
	k := productKey{businessID, productID}
	if r.v.t != nil {
		if cfg, ok := r.v.t.products[k]; ok {
			c := *cfg
			return &c, nil
		}
	}
	r.v.s.mu.RLock()
	defer r.v.s.mu.RUnlock()
	if cfg, ok := r.v.s.products[k]; ok {
		c := *cfg
		return &c, nil
	}
	return nil, nil
}

func (r *ProductConfigRepo) GetForShare(ctx context.Context, businessID, productID string) (*entity.ProductConfig, error) {
	if r.v.t != nil {
		if err := r.v.t.lockProduct(ctx, productKey{businessID, productID}, 1); err != nil {
			return nil, err
		}
	}
	return r.Get(ctx, businessID, productID)
}

func (r *ProductConfigRepo) GetForUpdate(ctx context.Context, businessID, productID string) (*entity.ProductConfig, error) {
	if r.v.t != nil {
		if err := r.v.t.lockProduct(ctx, productKey{businessID, productID}, exclusiveWeight); err != nil {
			return nil, err
		}
	}
	return r.Get(ctx, businessID, productID)
}

func (r *ProductConfigRepo) Update(ctx context.Context, cfg *entity.ProductConfig) error {
	existing, err := r.Get(ctx, cfg.BusinessID, cfg.ProductID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: producto %s", domain.ErrNotFound, cfg.ProductID)
	}
	c := *cfg
	k := productKey{cfg.BusinessID, cfg.ProductID}
	if r.v.t != nil {
		r.v.t.products[k] = &c
		return nil
	}
	r.v.s.mu.Lock()
	defer r.v.s.mu.Unlock()
	r.v.s.products[k] = &c
	return nil
}

// BranchRepo sucursales en memoria.
type BranchRepo struct {
	v *view
}

func (r *BranchRepo) GetByID(_ context.Context, id string) (*entity.Branch, error) {
	r.v.s.mu.RLock()
	defer r.v.s.mu.RUnlock()
	if b, ok := r.v.s.branches[id]; ok {
		c := *b
		return &c, nil
	}
	return nil, nil
}

// ReferenceRepo documentos de origen registrados con Store.AddDocument.
type ReferenceRepo struct {
	v *view
}

func (r *ReferenceRepo) DocumentExists(_ context.Context, businessID string, ref entity.Reference) (bool, error) {
	r.v.s.mu.RLock()
	defer r.v.s.mu.RUnlock()
	_, ok := r.v.s.documents[documentKey{businessID, ref}]
	return ok, nil
}

func (r *ReferenceRepo) LockReference(ctx context.Context, businessID string, ref entity.Reference) error {
	if r.v.t == nil {
		return nil
	}
	return r.v.t.lock(ctx, referenceLock{businessID, ref})
}
