// Package memory implementa el almacén del ledger en memoria, con bloqueo por clave y
// transacciones con escrituras diferidas. Para desarrollo local y tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/jhoicas/stock-ledger-api/internal/application/inventory"
	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
)

var _ inventory.TxRunner = (*Store)(nil)

const defaultLockTimeout = 2 * time.Second

// exclusiveWeight peso de un bloqueo exclusivo sobre un producto; uno compartido pesa 1.
const exclusiveWeight int64 = 1 << 30

type productKey struct {
	BusinessID string
	ProductID  string
}

type movementKey struct {
	BusinessID string
	ID         string
}

type documentKey struct {
	BusinessID string
	Ref        entity.Reference
}

// referenceLock clave de bloqueo de una referencia; distinta de documentKey en el mapa de locks.
type referenceLock struct {
	BusinessID string
	Ref        entity.Reference
}

// Store almacén en memoria. Las claves de stock y las referencias se bloquean de forma
// exclusiva durante la transacción que las toma; la configuración de un producto admite
// bloqueo compartido (escrituras de stock) o exclusivo (cambio de configuración).
type Store struct {
	mu        sync.RWMutex
	movements []*entity.InventoryMovement
	byID      map[movementKey]*entity.InventoryMovement
	reversals map[movementKey]string
	stock     map[entity.StockKey]*entity.Stock
	products  map[productKey]*entity.ProductConfig
	branches  map[string]*entity.Branch
	documents map[documentKey]struct{}
	seq       int64

	locksMu      sync.Mutex
	locks        map[any]chan struct{}
	productLocks map[productKey]*semaphore.Weighted
	lockTimeout  time.Duration
	now         func() time.Time
}

// Option configura el Store.
type Option func(*Store)

// WithLockTimeout tiempo máximo de espera por el bloqueo de una clave.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithClock reloj usado para UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore construye un almacén vacío.
func NewStore(opts ...Option) *Store {
	s := &Store{
		byID:        make(map[movementKey]*entity.InventoryMovement),
		reversals:   make(map[movementKey]string),
		stock:       make(map[entity.StockKey]*entity.Stock),
		products:    make(map[productKey]*entity.ProductConfig),
		branches:    make(map[string]*entity.Branch),
		documents:   make(map[documentKey]struct{}),
		locks:        make(map[any]chan struct{}),
		productLocks: make(map[productKey]*semaphore.Weighted),
		lockTimeout:  defaultLockTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ── Datos de colaboradores ────────────────────────────────────────────────────

// AddBranch registra una sucursal.
func (s *Store) AddBranch(b entity.Branch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branches[b.ID] = &b
}

// AddProduct registra la configuración de inventario de un producto.
func (s *Store) AddProduct(cfg entity.ProductConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[productKey{cfg.BusinessID, cfg.ProductID}] = &cfg
}

// AddDocument registra un documento de origen (cita, venta, factura de proveedor).
func (s *Store) AddDocument(businessID string, ref entity.Reference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[documentKey{businessID, ref}] = struct{}{}
}

// ForceStock sobrescribe la proyección sin pasar por el ledger. Simula una desviación
// para las herramientas de reconciliación.
func (s *Store) ForceStock(key entity.StockKey, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[key] = &entity.Stock{
		BusinessID: key.BusinessID, BranchID: key.BranchID, ProductID: key.ProductID,
		Quantity: qty, UpdatedAt: s.now().UTC(),
	}
}

// ── Transacciones ─────────────────────────────────────────────────────────────

// Repositories devuelve repositorios sin transacción, sobre el estado confirmado.
func (s *Store) Repositories() inventory.Repositories {
	return s.repositories(nil)
}

func (s *Store) repositories(t *tx) inventory.Repositories {
	v := &view{s: s, t: t}
	return inventory.Repositories{
		Movements:  &MovementRepo{v: v},
		Stock:      &StockRepo{v: v},
		Products:   &ProductConfigRepo{v: v},
		Branches:   &BranchRepo{v: v},
		References: &ReferenceRepo{v: v},
	}
}

// Run ejecuta fn con repositorios atados a una transacción. Las escrituras se aplican al
// confirmar; si fn falla se descartan. Los bloqueos de clave se liberan al terminar.
func (s *Store) Run(ctx context.Context, fn func(ctx context.Context, repos inventory.Repositories) error) error {
	t := &tx{
		s:        s,
		held:        make(map[any]chan struct{}),
		productHeld: make(map[productKey]int64),
		stock:       make(map[entity.StockKey]*entity.Stock),
		products:    make(map[productKey]*entity.ProductConfig),
	}
	defer t.release()
	if err := fn(ctx, s.repositories(t)); err != nil {
		return err
	}
	return t.commit()
}

type tx struct {
	s         *Store
	held        map[any]chan struct{}
	productHeld map[productKey]int64
	movements   []*entity.InventoryMovement
	stock     map[entity.StockKey]*entity.Stock
	products  map[productKey]*entity.ProductConfig
}

func (s *Store) lockChan(k any) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[k]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[k] = ch
	}
	return ch
}

// lock toma la clave de forma exclusiva. Reentrante dentro de la misma transacción.
func (t *tx) lock(ctx context.Context, k any) error {
	if _, ok := t.held[k]; ok {
		return nil
	}
	ch := t.s.lockChan(k)
	timer := time.NewTimer(t.s.lockTimeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		t.held[k] = ch
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: tiempo de espera agotado bloqueando %v", domain.ErrConcurrencyConflict, k)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) productSem(k productKey) *semaphore.Weighted {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	sem, ok := s.productLocks[k]
	if !ok {
		sem = semaphore.NewWeighted(exclusiveWeight)
		s.productLocks[k] = sem
	}
	return sem
}

// lockProduct toma la configuración del producto con el peso pedido (1 compartido,
// exclusiveWeight exclusivo). Un bloqueo compartido ya tomado se amplía a exclusivo.
func (t *tx) lockProduct(ctx context.Context, k productKey, weight int64) error {
	have := t.productHeld[k]
	if have >= weight {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, t.s.lockTimeout)
	defer cancel()
	if err := t.s.productSem(k).Acquire(waitCtx, weight-have); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: tiempo de espera agotado bloqueando producto %s", domain.ErrConcurrencyConflict, k.ProductID)
	}
	t.productHeld[k] = weight
	return nil
}

func (t *tx) release() {
	for k, ch := range t.held {
		<-ch
		delete(t.held, k)
	}
	for k, n := range t.productHeld {
		t.s.productSem(k).Release(n)
		delete(t.productHeld, k)
	}
}

func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range t.movements {
		if m.IsReversal() {
			if _, dup := s.reversals[movementKey{m.BusinessID, m.Reference.ID}]; dup {
				return fmt.Errorf("%w: %s", domain.ErrAlreadyReversed, m.Reference.ID)
			}
		}
	}
	for _, m := range t.movements {
		s.movements = append(s.movements, m)
		s.byID[movementKey{m.BusinessID, m.ID}] = m
		if m.IsReversal() {
			s.reversals[movementKey{m.BusinessID, m.Reference.ID}] = m.ID
		}
	}
	for k, st := range t.stock {
		s.stock[k] = st
	}
	for k, cfg := range t.products {
		s.products[k] = cfg
	}
	return nil
}

// view acceso de lectura/escritura; con t != nil las escrituras quedan en la transacción.
type view struct {
	s *Store
	t *tx
}
