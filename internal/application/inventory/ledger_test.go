package inventory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/stock-ledger-api/internal/application/inventory"
	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	domaininv "github.com/jhoicas/stock-ledger-api/internal/domain/inventory"
	"github.com/jhoicas/stock-ledger-api/internal/domain/repository"
	"github.com/jhoicas/stock-ledger-api/internal/infrastructure/memory"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers de test
// ──────────────────────────────────────────────────────────────────────────────

const (
	testBusinessID  = "biz-1"
	otherBusinessID = "biz-2"
	testBranchA     = "branch-a"
	testBranchB     = "branch-b"
	testProductID   = "prod-tinte"
	untrackedID     = "prod-servicio"
	testActorID     = "user-1"
	testInvoiceID   = "inv-1"
)

func qty(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func requireQty(t *testing.T, want int64, got decimal.Decimal, msg string) {
	t.Helper()
	require.Truef(t, got.Equal(qty(want)), "%s: esperado %d, obtenido %s", msg, want, got.String())
}

func newStore() *memory.Store {
	store := memory.NewStore(memory.WithLockTimeout(2 * time.Second))
	store.AddBranch(entity.Branch{ID: testBranchA, BusinessID: testBusinessID, Name: "Centro"})
	store.AddBranch(entity.Branch{ID: testBranchB, BusinessID: testBusinessID, Name: "Norte"})
	store.AddBranch(entity.Branch{ID: "branch-otra", BusinessID: otherBusinessID, Name: "Otra"})
	store.AddProduct(entity.ProductConfig{ProductID: testProductID, BusinessID: testBusinessID, TrackInventory: true})
	store.AddProduct(entity.ProductConfig{ProductID: untrackedID, BusinessID: testBusinessID, TrackInventory: false})
	store.AddDocument(testBusinessID, entity.SupplierInvoice(testInvoiceID))
	return store
}

func newService(store *memory.Store, publisher inventory.EventPublisher) *inventory.LedgerService {
	return inventory.NewLedgerService(store, store.Repositories(), publisher, nil, inventory.Config{
		Retry: inventory.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
}

// seedStock registra una entrada por factura de proveedor en la sucursal indicada.
func seedStock(t *testing.T, svc *inventory.LedgerService, branchID string, n int64) string {
	t.Helper()
	id, err := svc.RecordEntry(context.Background(), inventory.MovementInput{
		BusinessID: testBusinessID, ProductID: testProductID, BranchID: branchID,
		Quantity: qty(n), ReferenceType: entity.ReferenceSupplierInvoice, ReferenceID: testInvoiceID,
		ActorID: testActorID,
	})
	require.NoError(t, err, "la entrada inicial debe registrarse")
	return id
}

func consume(svc *inventory.LedgerService, store *memory.Store, branchID, appointmentID string, n int64) (string, error) {
	store.AddDocument(testBusinessID, entity.AppointmentUsage(appointmentID))
	return svc.RecordConsumption(context.Background(), inventory.MovementInput{
		BusinessID: testBusinessID, ProductID: testProductID, BranchID: branchID,
		Quantity: qty(n), ReferenceType: entity.ReferenceAppointmentUsage, ReferenceID: appointmentID,
		ActorID: testActorID,
	})
}

func currentStock(t *testing.T, svc *inventory.LedgerService, branchID string) decimal.Decimal {
	t.Helper()
	level, err := svc.GetCurrentStock(context.Background(), testBusinessID, testProductID, branchID)
	require.NoError(t, err)
	return level.Quantity
}

// requireInvariant verifica que la proyección sea igual a la suma del historial en cada clave.
func requireInvariant(t *testing.T, store *memory.Store) {
	t.Helper()
	repos := store.Repositories()
	keys, err := repos.Stock.ListKeys(context.Background(), testBusinessID)
	require.NoError(t, err)
	for _, k := range keys {
		row, err := repos.Stock.Get(context.Background(), k)
		require.NoError(t, err)
		sum, err := repos.Movements.SumByKey(context.Background(), k)
		require.NoError(t, err)
		require.Truef(t, row.Quantity.Equal(sum), "clave %s: stock %s != historial %s", k, row.Quantity, sum)
		require.False(t, row.Quantity.IsNegative(), "el stock nunca debe ser negativo")
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []inventory.StockThresholdEvent
	err    error
}

func (p *recordingPublisher) PublishStockThreshold(_ context.Context, evt inventory.StockThresholdEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

// flakyRunner falla las primeras n transacciones con un conflicto de concurrencia.
type flakyRunner struct {
	inner    inventory.TxRunner
	failures int32
	calls    atomic.Int32
}

func (f *flakyRunner) Run(ctx context.Context, fn func(ctx context.Context, repos inventory.Repositories) error) error {
	if f.calls.Add(1) <= f.failures {
		return fmt.Errorf("%w: simulado", domain.ErrConcurrencyConflict)
	}
	return f.inner.Run(ctx, fn)
}

// hookedRunner envuelve el runner y ejecuta onShare tras cada lectura compartida de la
// configuración de un producto, dentro de la transacción.
type hookedRunner struct {
	inner   inventory.TxRunner
	onShare func(productID string)
}

func (h *hookedRunner) Run(ctx context.Context, fn func(ctx context.Context, repos inventory.Repositories) error) error {
	return h.inner.Run(ctx, func(ctx context.Context, repos inventory.Repositories) error {
		repos.Products = &hookedProducts{ProductConfigRepository: repos.Products, onShare: h.onShare}
		return fn(ctx, repos)
	})
}

type hookedProducts struct {
	repository.ProductConfigRepository
	onShare func(productID string)
}

func (p *hookedProducts) GetForShare(ctx context.Context, businessID, productID string) (*entity.ProductConfig, error) {
	cfg, err := p.ProductConfigRepository.GetForShare(ctx, businessID, productID)
	if err == nil && p.onShare != nil {
		p.onShare(productID)
	}
	return cfg, err
}

// testClock reloj ajustable para fijar created_at.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// ──────────────────────────────────────────────────────────────────────────────
// Consumos
// ──────────────────────────────────────────────────────────────────────────────

func TestRecordConsumption_StockInsuficienteNoModificaStock(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	seedStock(t, svc, testBranchA, 5)

	_, err := consume(svc, store, testBranchA, "appt-1", 6)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))
	var insuf *domaininv.InsufficientStockError
	require.True(t, errors.As(err, &insuf))
	requireQty(t, 5, insuf.Available, "disponible")
	requireQty(t, 6, insuf.Requested, "solicitado")
	requireQty(t, 5, currentStock(t, svc, testBranchA), "el stock no debe cambiar")

	page, err := svc.ListMovements(context.Background(), repository.MovementFilter{BusinessID: testBusinessID})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total, "un consumo rechazado no debe dejar movimientos")
}

func TestRecordConsumption_DescuentaStockYCreaUnMovimiento(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	seedStock(t, svc, testBranchA, 5)

	id, err := consume(svc, store, testBranchA, "appt-1", 3)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	requireQty(t, 2, currentStock(t, svc, testBranchA), "stock tras consumo")
	movs, err := svc.FindByReference(context.Background(), testBusinessID, entity.AppointmentUsage("appt-1"))
	require.NoError(t, err)
	require.Len(t, movs, 1)
	assert.Equal(t, id, movs[0].ID)
	assert.Equal(t, entity.MovementTypeConsumption, movs[0].Type)
	requireQty(t, -3, movs[0].Quantity, "cantidad con signo")
	assert.Equal(t, testActorID, movs[0].ActorID)
	requireInvariant(t, store)
}

func TestRecordConsumption_ConcurrentesSoloUnaGana(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	seedStock(t, svc, testBranchA, 5)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = consume(svc, store, testBranchA, fmt.Sprintf("appt-%d", i), 3)
		}()
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("error inesperado: %v", err)
		}
	}
	assert.Equal(t, 1, ok, "exactamente un consumo debe confirmarse")
	assert.Equal(t, 1, insufficient, "el otro debe fallar por stock insuficiente")
	requireQty(t, 2, currentStock(t, svc, testBranchA), "stock final")
	requireInvariant(t, store)
}

func TestRecordConsumption_MuchasConcurrentesNuncaNegativo(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	seedStock(t, svc, testBranchA, 5)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := consume(svc, store, testBranchA, fmt.Sprintf("appt-%d", i), 1); err == nil {
				ok.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrInsufficientStock)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), ok.Load())
	requireQty(t, 0, currentStock(t, svc, testBranchA), "stock final")
	requireInvariant(t, store)
}

func TestRecordConsumption_ClavesDistintasNoSeBloquean(t *testing.T) {
	store := memory.NewStore(memory.WithLockTimeout(50 * time.Millisecond))
	store.AddBranch(entity.Branch{ID: testBranchA, BusinessID: testBusinessID})
	store.AddBranch(entity.Branch{ID: testBranchB, BusinessID: testBusinessID})
	store.AddProduct(entity.ProductConfig{ProductID: testProductID, BusinessID: testBusinessID, TrackInventory: true})
	store.AddDocument(testBusinessID, entity.SupplierInvoice(testInvoiceID))
	svc := newService(store, nil)
	seedStock(t, svc, testBranchB, 5)

	// Una transacción retiene la clave de la sucursal A mientras se consume en B.
	keyA := entity.StockKey{BusinessID: testBusinessID, BranchID: testBranchA, ProductID: testProductID}
	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = store.Run(context.Background(), func(ctx context.Context, repos inventory.Repositories) error {
			_, err := repos.Stock.GetForUpdate(ctx, keyA)
			close(held)
			<-done
			return err
		})
	}()
	<-held
	defer close(done)

	_, err := consume(svc, store, testBranchB, "appt-b", 2)
	require.NoError(t, err, "una clave bloqueada no debe afectar a otra")
	requireQty(t, 3, currentStock(t, svc, testBranchB), "stock en B")
}

func TestRecordConsumption_ProductoSinInventarioNoValidaStock(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	store.AddDocument(testBusinessID, entity.DirectSale("sale-1"))

	id, err := svc.RecordConsumption(context.Background(), inventory.MovementInput{
		BusinessID: testBusinessID, ProductID: untrackedID, BranchID: testBranchA,
		Quantity: qty(10), ReferenceType: entity.ReferenceDirectSale, ReferenceID: "sale-1", ActorID: testActorID,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	level, err := svc.GetCurrentStock(context.Background(), testBusinessID, untrackedID, testBranchA)
	require.NoError(t, err)
	assert.False(t, level.Tracked)
	assert.True(t, level.Quantity.IsZero(), "la proyección no se mantiene para productos sin inventario")

	keys, err := store.Repositories().Stock.ListKeys(context.Background(), testBusinessID)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

// ──────────────────────────────────────────────────────────────────────────────
// Validación y binding
// ──────────────────────────────────────────────────────────────────────────────

func TestRecord_ValidacionSinEscrituras(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	ctx := context.Background()

	base := inventory.MovementInput{
		BusinessID: testBusinessID, ProductID: testProductID, BranchID: testBranchA,
		Quantity: qty(1), ReferenceType: entity.ReferenceSupplierInvoice, ReferenceID: testInvoiceID, ActorID: testActorID,
	}
	cases := []struct {
		name   string
		mutate func(in *inventory.MovementInput)
		target error
	}{
		{"cantidad cero", func(in *inventory.MovementInput) { in.Quantity = decimal.Zero }, domain.ErrInvalidInput},
		{"cantidad negativa", func(in *inventory.MovementInput) { in.Quantity = qty(-2) }, domain.ErrInvalidInput},
		{"sin referencia", func(in *inventory.MovementInput) { in.ReferenceID = "" }, domain.ErrInvalidInput},
		{"tipo de referencia no admitido", func(in *inventory.MovementInput) { in.ReferenceType = entity.ReferenceDirectSale }, domain.ErrInvalidInput},
		{"tipo desconocido", func(in *inventory.MovementInput) { in.ReferenceType = "GIFT" }, domain.ErrInvalidInput},
		{"sin actor", func(in *inventory.MovementInput) { in.ActorID = "" }, domain.ErrInvalidInput},
		{"factura inexistente", func(in *inventory.MovementInput) { in.ReferenceID = "inv-404" }, domain.ErrReferenceNotFound},
		{"sucursal inexistente", func(in *inventory.MovementInput) { in.BranchID = "branch-404" }, domain.ErrNotFound},
		{"sucursal de otra empresa", func(in *inventory.MovementInput) { in.BranchID = "branch-otra" }, domain.ErrNotFound},
		{"producto inexistente", func(in *inventory.MovementInput) { in.ProductID = "prod-404" }, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mutate(&in)
			_, err := svc.RecordEntry(ctx, in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.target)
		})
	}

	page, err := svc.ListMovements(ctx, repository.MovementFilter{BusinessID: testBusinessID})
	require.NoError(t, err)
	assert.Zero(t, page.Total, "ninguna entrada inválida debe persistir")
}

func TestRecordEntry_TipoSegunReferencia(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	ctx := context.Background()

	adjID, err := svc.RecordEntry(ctx, inventory.MovementInput{
		BusinessID: testBusinessID, ProductID: testProductID, BranchID: testBranchA,
		Quantity: qty(2), ReferenceType: entity.ReferenceManualAdjustment, ReferenceID: "adj-1", ActorID: testActorID,
	})
	require.NoError(t, err)
	loadID, err := svc.RecordEntry(ctx, inventory.MovementInput{
		BusinessID: testBusinessID, ProductID: testProductID, BranchID: testBranchA,
		Quantity: qty(8), ReferenceType: entity.ReferenceInitialStockLoad, ReferenceID: "load-1", ActorID: testActorID,
	})
	require.NoError(t, err)

	repos := store.Repositories()
	adj, err := repos.Movements.GetByID(ctx, testBusinessID, adjID)
	require.NoError(t, err)
	assert.Equal(t, entity.MovementTypeAdjustment, adj.Type)
	load, err := repos.Movements.GetByID(ctx, testBusinessID, loadID)
	require.NoError(t, err)
	assert.Equal(t, entity.MovementTypeInitial, load.Type)
	requireQty(t, 10, currentStock(t, svc, testBranchA), "stock tras ajuste y carga inicial")
}

// ──────────────────────────────────────────────────────────────────────────────
// Reversiones
// ──────────────────────────────────────────────────────────────────────────────

func TestReverseMovement_RestauraStockYSoloUnaVez(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	ctx := context.Background()
	seedStock(t, svc, testBranchA, 5)
	consID, err := consume(svc, store, testBranchA, "appt-1", 3)
	require.NoError(t, err)

	revID, err := svc.ReverseMovement(ctx, testBusinessID, consID, "user-2")
	require.NoError(t, err)
	requireQty(t, 5, currentStock(t, svc, testBranchA), "stock restaurado")

	revs, err := svc.FindByReference(ctx, testBusinessID, entity.ReversalOf(consID))
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, revID, revs[0].ID)
	requireQty(t, 3, revs[0].Quantity, "la reversión niega al original")
	assert.Equal(t, entity.MovementTypeEntry, revs[0].Type)
	assert.Equal(t, "user-2", revs[0].ActorID)

	_, err = svc.ReverseMovement(ctx, testBusinessID, consID, testActorID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAlreadyReversed)
	requireQty(t, 5, currentStock(t, svc, testBranchA), "el stock sigue en 5")

	original, err := store.Repositories().Movements.GetByID(ctx, testBusinessID, consID)
	require.NoError(t, err)
	requireQty(t, -3, original.Quantity, "el original nunca se modifica")
	requireInvariant(t, store)
}

func TestReverseMovement_ConcurrentesSoloUnaGana(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	seedStock(t, svc, testBranchA, 5)
	consID, err := consume(svc, store, testBranchA, "appt-1", 3)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.ReverseMovement(context.Background(), testBusinessID, consID, testActorID)
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadyReversed)
	}
	assert.Equal(t, 1, ok)
	requireQty(t, 5, currentStock(t, svc, testBranchA), "stock final")
	requireInvariant(t, store)
}

func TestReverseMovement_Errores(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	ctx := context.Background()
	entryID := seedStock(t, svc, testBranchA, 5)
	_, err := consume(svc, store, testBranchA, "appt-1", 5)
	require.NoError(t, err)

	t.Run("movimiento inexistente", func(t *testing.T) {
		_, err := svc.ReverseMovement(ctx, testBusinessID, "no-existe", testActorID)
		assert.ErrorIs(t, err, domain.ErrReferenceNotFound)
	})
	t.Run("movimiento de otra empresa", func(t *testing.T) {
		_, err := svc.ReverseMovement(ctx, otherBusinessID, entryID, testActorID)
		assert.ErrorIs(t, err, domain.ErrReferenceNotFound)
	})
	t.Run("dejaría stock negativo", func(t *testing.T) {
		_, err := svc.ReverseMovement(ctx, testBusinessID, entryID, testActorID)
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		requireQty(t, 0, currentStock(t, svc, testBranchA), "sin cambios")
	})
	t.Run("una reversión no se revierte", func(t *testing.T) {
		seedStock(t, svc, testBranchA, 1)
		consID, err := consume(svc, store, testBranchA, "appt-2", 1)
		require.NoError(t, err)
		revID, err := svc.ReverseMovement(ctx, testBusinessID, consID, testActorID)
		require.NoError(t, err)
		_, err = svc.ReverseMovement(ctx, testBusinessID, revID, testActorID)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
	requireInvariant(t, store)
}

func TestReverseReference_CancelaVentaCompleta(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	ctx := context.Background()
	seedStock(t, svc, testBranchA, 10)
	store.AddDocument(testBusinessID, entity.DirectSale("sale-1"))
	for _, n := range []int64{2, 3} {
		_, err := svc.RecordConsumption(ctx, inventory.MovementInput{
			BusinessID: testBusinessID, ProductID: testProductID, BranchID: testBranchA,
			Quantity: qty(n), ReferenceType: entity.ReferenceDirectSale, ReferenceID: "sale-1", ActorID: testActorID,
		})
		require.NoError(t, err)
	}
	requireQty(t, 5, currentStock(t, svc, testBranchA), "stock tras la venta")

	ids, err := svc.ReverseReference(ctx, testBusinessID, entity.DirectSale("sale-1"), testActorID)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	requireQty(t, 10, currentStock(t, svc, testBranchA), "stock tras cancelar la venta")

	_, err = svc.ReverseReference(ctx, testBusinessID, entity.DirectSale("sale-1"), testActorID)
	assert.ErrorIs(t, err, domain.ErrAlreadyReversed)

	_, err = svc.ReverseReference(ctx, testBusinessID, entity.DirectSale("sale-404"), testActorID)
	assert.ErrorIs(t, err, domain.ErrReferenceNotFound)
	requireInvariant(t, store)
}

func TestReverseReference_OmiteLineasYaRevertidas(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	ctx := context.Background()
	seedStock(t, svc, testBranchA, 10)
	first, err := consume(svc, store, testBranchA, "appt-1", 1)
	require.NoError(t, err)
	_, err = consume(svc, store, testBranchA, "appt-1", 2)
	require.NoError(t, err)
	_, err = svc.ReverseMovement(ctx, testBusinessID, first, testActorID)
	require.NoError(t, err)

	ids, err := svc.ReverseReference(ctx, testBusinessID, entity.AppointmentUsage("appt-1"), testActorID)
	require.NoError(t, err)
	assert.Len(t, ids, 1, "solo la línea pendiente se revierte")
	requireQty(t, 10, currentStock(t, svc, testBranchA), "stock restaurado")
}

// ──────────────────────────────────────────────────────────────────────────────
// Traslados
// ──────────────────────────────────────────────────────────────────────────────

func TestRecordTransfer_MueveStockEntreSucursales(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	ctx := context.Background()
	seedStock(t, svc, testBranchA, 10)

	res, err := svc.RecordTransfer(ctx, inventory.TransferInput{
		BusinessID: testBusinessID, ProductID: testProductID, FromBranchID: testBranchA, ToBranchID: testBranchB,
		Quantity: qty(4), ActorID: testActorID,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.TransferID)

	requireQty(t, 6, currentStock(t, svc, testBranchA), "origen")
	requireQty(t, 4, currentStock(t, svc, testBranchB), "destino")

	legs, err := svc.FindByReference(ctx, testBusinessID, entity.BranchTransfer(res.TransferID))
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Equal(t, res.OutMovementID, legs[0].ID)
	assert.Equal(t, entity.MovementTypeTransferOut, legs[0].Type)
	assert.Equal(t, res.InMovementID, legs[1].ID)
	assert.Equal(t, entity.MovementTypeTransferIn, legs[1].Type)
	requireInvariant(t, store)
}

func TestRecordTransfer_InsuficienteNoEscribeNingunaPierna(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	ctx := context.Background()
	seedStock(t, svc, testBranchA, 3)

	_, err := svc.RecordTransfer(ctx, inventory.TransferInput{
		BusinessID: testBusinessID, ProductID: testProductID, FromBranchID: testBranchA, ToBranchID: testBranchB,
		Quantity: qty(4), ActorID: testActorID, TransferID: "tr-1",
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	legs, err := svc.FindByReference(ctx, testBusinessID, entity.BranchTransfer("tr-1"))
	require.NoError(t, err)
	assert.Empty(t, legs)
	requireQty(t, 3, currentStock(t, svc, testBranchA), "origen sin cambios")
	requireQty(t, 0, currentStock(t, svc, testBranchB), "destino sin cambios")

	_, err = svc.RecordTransfer(ctx, inventory.TransferInput{
		BusinessID: testBusinessID, ProductID: testProductID, FromBranchID: testBranchA, ToBranchID: testBranchA,
		Quantity: qty(1), ActorID: testActorID,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "origen y destino iguales")
}

func TestRecordTransfer_SeRevierteCompletoNoPorPierna(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	ctx := context.Background()
	seedStock(t, svc, testBranchA, 10)
	res, err := svc.RecordTransfer(ctx, inventory.TransferInput{
		BusinessID: testBusinessID, ProductID: testProductID, FromBranchID: testBranchA, ToBranchID: testBranchB,
		Quantity: qty(4), ActorID: testActorID,
	})
	require.NoError(t, err)

	_, err = svc.ReverseMovement(ctx, testBusinessID, res.OutMovementID, testActorID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "/api/inventory/references/BRANCH_TRANSFER/"+res.TransferID+"/reverse",
		"el error indica la ruta de reversión del traslado")

	ids, err := svc.ReverseReference(ctx, testBusinessID, entity.BranchTransfer(res.TransferID), testActorID)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	requireQty(t, 10, currentStock(t, svc, testBranchA), "origen restaurado")
	requireQty(t, 0, currentStock(t, svc, testBranchB), "destino restaurado")
	requireInvariant(t, store)
}

func TestRecordTransfer_MismoTransferIDConcurrenteSoloUnaVez(t *testing.T) {
	store := newStore()
	var arrived sync.WaitGroup
	arrived.Add(2)
	release := make(chan struct{})
	go func() {
		arrived.Wait()
		close(release)
	}()
	runner := &hookedRunner{inner: store, onShare: func(string) {
		// Ambos traslados leen la configuración antes de que cualquiera escriba.
		arrived.Done()
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}}
	// Sin reintentos: un segundo intento pasaría por el gancho y desbalancearía la barrera.
	svc := inventory.NewLedgerService(runner, store.Repositories(), nil, nil, inventory.Config{
		Retry: inventory.RetryPolicy{MaxAttempts: 1},
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RecordTransfer(ctx, inventory.TransferInput{
				BusinessID: testBusinessID, ProductID: untrackedID, FromBranchID: testBranchA, ToBranchID: testBranchB,
				Quantity: qty(2), ActorID: testActorID, TransferID: "tr-dup",
			})
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInvalidInput):
			rejected++
		default:
			t.Fatalf("error inesperado: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)

	legs, err := svc.FindByReference(ctx, testBusinessID, entity.BranchTransfer("tr-dup"))
	require.NoError(t, err)
	assert.Len(t, legs, 2, "una pierna de salida y una de entrada")
}

func TestRecordTransfer_TransferIDRepetidoSeRechaza(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	ctx := context.Background()
	seedStock(t, svc, testBranchA, 10)

	in := inventory.TransferInput{
		BusinessID: testBusinessID, ProductID: testProductID, FromBranchID: testBranchA, ToBranchID: testBranchB,
		Quantity: qty(1), ActorID: testActorID, TransferID: "tr-7",
	}
	_, err := svc.RecordTransfer(ctx, in)
	require.NoError(t, err)
	_, err = svc.RecordTransfer(ctx, in)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "transfer_id", verr.Field)
	requireQty(t, 9, currentStock(t, svc, testBranchA), "solo el primer traslado")
}

// ──────────────────────────────────────────────────────────────────────────────
// Consultas
// ──────────────────────────────────────────────────────────────────────────────

func TestListMovements_PorReferenciaEnOrdenDeCreacion(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	ctx := context.Background()
	seedStock(t, svc, testBranchA, 20)

	var want []string
	for i := 0; i < 3; i++ {
		id, err := consume(svc, store, testBranchA, "appt-x", 1)
		require.NoError(t, err)
		want = append(want, id)
		_, err = consume(svc, store, testBranchA, "appt-y", 1)
		require.NoError(t, err)
	}

	page, err := svc.ListMovements(ctx, repository.MovementFilter{
		BusinessID: testBusinessID, ReferenceType: entity.ReferenceAppointmentUsage, ReferenceID: "appt-x",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	got := make([]string, len(page.Items))
	for i, m := range page.Items {
		got[i] = m.ID
		assert.Equal(t, "appt-x", m.Reference.ID)
	}
	assert.Equal(t, want, got)

	other, err := svc.ListMovements(ctx, repository.MovementFilter{
		BusinessID: otherBusinessID, ReferenceType: entity.ReferenceAppointmentUsage, ReferenceID: "appt-x",
	})
	require.NoError(t, err)
	assert.Zero(t, other.Total, "otra empresa no ve los movimientos")
}

func TestListMovements_PaginacionYFiltros(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	ctx := context.Background()
	seedStock(t, svc, testBranchA, 5)
	seedStock(t, svc, testBranchB, 5)
	for i := 0; i < 4; i++ {
		_, err := consume(svc, store, testBranchA, fmt.Sprintf("appt-%d", i), 1)
		require.NoError(t, err)
	}

	page, err := svc.ListMovements(ctx, repository.MovementFilter{BusinessID: testBusinessID, BranchID: testBranchA, Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.Limit)

	_, err = svc.ListMovements(ctx, repository.MovementFilter{BusinessID: testBusinessID, ReferenceID: "appt-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "reference_id requiere reference_type")

	from := time.Now().Add(time.Hour)
	to := time.Now()
	_, err = svc.ListMovements(ctx, repository.MovementFilter{BusinessID: testBusinessID, From: &from, To: &to})
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "rango de fechas invertido")
}

func TestListMovements_RangoDeFechasInclusivo(t *testing.T) {
	store := newStore()
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &testClock{t: t0}
	svc := inventory.NewLedgerService(store, store.Repositories(), nil, nil, inventory.Config{Now: clock.Now})
	ctx := context.Background()

	ids := make([]string, 4)
	for i := range ids {
		clock.Set(t0.Add(time.Duration(i) * time.Hour))
		ids[i] = seedStock(t, svc, testBranchA, 1)
	}

	at := func(h int) *time.Time {
		v := t0.Add(time.Duration(h) * time.Hour)
		return &v
	}
	cases := []struct {
		name     string
		from, to *time.Time
		want     []string
	}{
		{"ambos extremos incluidos", at(1), at(2), ids[1:3]},
		{"solo desde", at(2), nil, ids[2:]},
		{"solo hasta", nil, at(0), ids[:1]},
		{"mismo instante", at(3), at(3), ids[3:]},
		{"rango sin movimientos", at(5), at(6), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := svc.ListMovements(ctx, repository.MovementFilter{BusinessID: testBusinessID, From: tc.from, To: tc.to})
			require.NoError(t, err)
			assert.Equal(t, len(tc.want), page.Total, "el total cuenta solo el rango")
			got := make([]string, 0, len(page.Items))
			for _, m := range page.Items {
				got = append(got, m.ID)
			}
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}

	page, err := svc.ListMovements(ctx, repository.MovementFilter{BusinessID: testBusinessID, From: at(1), To: at(3), Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ids[2], page.Items[0].ID)
}

// ──────────────────────────────────────────────────────────────────────────────
// Concurrencia, reintentos y eventos
// ──────────────────────────────────────────────────────────────────────────────

func TestRetry_ConflictoTransitorioSeReintenta(t *testing.T) {
	store := newStore()
	runner := &flakyRunner{inner: store, failures: 2}
	svc := inventory.NewLedgerService(runner, store.Repositories(), nil, nil, inventory.Config{
		Retry: inventory.RetryPolicy{MaxAttempts: 3},
	})

	_, err := svc.RecordEntry(context.Background(), inventory.MovementInput{
		BusinessID: testBusinessID, ProductID: testProductID, BranchID: testBranchA,
		Quantity: qty(1), ReferenceType: entity.ReferenceManualAdjustment, ReferenceID: "adj-1", ActorID: testActorID,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), runner.calls.Load())
}

func TestRetry_PresupuestoAgotadoDevuelveConflicto(t *testing.T) {
	store := newStore()
	runner := &flakyRunner{inner: store, failures: 10}
	svc := inventory.NewLedgerService(runner, store.Repositories(), nil, nil, inventory.Config{
		Retry: inventory.RetryPolicy{MaxAttempts: 3},
	})

	_, err := svc.RecordEntry(context.Background(), inventory.MovementInput{
		BusinessID: testBusinessID, ProductID: testProductID, BranchID: testBranchA,
		Quantity: qty(1), ReferenceType: entity.ReferenceManualAdjustment, ReferenceID: "adj-1", ActorID: testActorID,
	})
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.Equal(t, int32(3), runner.calls.Load())
}

func TestThreshold_PublicaAlCruzarMinimo(t *testing.T) {
	store := newStore()
	store.AddProduct(entity.ProductConfig{ProductID: testProductID, BusinessID: testBusinessID, TrackInventory: true, MinQuantity: qty(3), MaxQuantity: qty(20)})
	pub := &recordingPublisher{}
	svc := newService(store, pub)
	seedStock(t, svc, testBranchA, 5)

	_, err := consume(svc, store, testBranchA, "appt-1", 1)
	require.NoError(t, err)
	assert.Empty(t, pub.events, "4 no cruza el mínimo")

	consID, err := consume(svc, store, testBranchA, "appt-2", 2)
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
	evt := pub.events[0]
	assert.Equal(t, inventory.ThresholdBelowMin, evt.Kind)
	assert.Equal(t, consID, evt.MovementID)
	requireQty(t, 2, evt.Quantity, "cantidad del evento")
	requireQty(t, 3, evt.Threshold, "umbral")

	_, err = consume(svc, store, testBranchA, "appt-3", 1)
	require.NoError(t, err)
	assert.Len(t, pub.events, 1, "seguir por debajo no vuelve a publicar")
}

func TestThreshold_FalloDelPublicadorNoRevierteLaOperacion(t *testing.T) {
	store := newStore()
	store.AddProduct(entity.ProductConfig{ProductID: testProductID, BusinessID: testBusinessID, TrackInventory: true, MaxQuantity: qty(3)})
	pub := &recordingPublisher{err: errors.New("redis caído")}
	svc := newService(store, pub)

	id := seedStock(t, svc, testBranchA, 5)
	require.NotEmpty(t, id)
	require.Len(t, pub.events, 1)
	assert.Equal(t, inventory.ThresholdAboveMax, pub.events[0].Kind)
	requireQty(t, 5, currentStock(t, svc, testBranchA), "el movimiento queda confirmado")
}

// ──────────────────────────────────────────────────────────────────────────────
// Configuración y reconciliación
// ──────────────────────────────────────────────────────────────────────────────

func TestSetProductConfig_ActivarInventarioReconstruyeProyeccion(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	ctx := context.Background()
	for _, branch := range []string{testBranchA, testBranchB} {
		_, err := svc.RecordEntry(ctx, inventory.MovementInput{
			BusinessID: testBusinessID, ProductID: untrackedID, BranchID: branch,
			Quantity: qty(3), ReferenceType: entity.ReferenceManualAdjustment, ReferenceID: "adj-" + branch, ActorID: testActorID,
		})
		require.NoError(t, err)
	}

	cfg, err := svc.SetProductConfig(ctx, inventory.ProductConfigInput{
		BusinessID: testBusinessID, ProductID: untrackedID, TrackInventory: true, MinQuantity: qty(1),
	})
	require.NoError(t, err)
	assert.True(t, cfg.TrackInventory)

	level, err := svc.GetCurrentStock(ctx, testBusinessID, untrackedID, testBranchB)
	require.NoError(t, err)
	assert.True(t, level.Tracked)
	requireQty(t, 3, level.Quantity, "proyección reconstruida")
	requireInvariant(t, store)

	_, err = svc.SetProductConfig(ctx, inventory.ProductConfigInput{
		BusinessID: testBusinessID, ProductID: untrackedID, TrackInventory: true, MinQuantity: qty(5), MaxQuantity: qty(2),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.SetProductConfig(ctx, inventory.ProductConfigInput{BusinessID: testBusinessID, ProductID: "prod-404"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetProductConfig_ActivarDuranteEscrituraNoPierdeMovimientos(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	read := make(chan struct{})
	resume := make(chan struct{})
	var once sync.Once
	runner := &hookedRunner{inner: store, onShare: func(productID string) {
		if productID != untrackedID {
			return
		}
		// La entrada ya leyó trackInventory=false y aún no escribe.
		once.Do(func() {
			close(read)
			<-resume
		})
	}}
	writer := inventory.NewLedgerService(runner, store.Repositories(), nil, nil, inventory.Config{})
	admin := newService(store, nil)

	entryErr := make(chan error, 1)
	go func() {
		_, err := writer.RecordEntry(ctx, inventory.MovementInput{
			BusinessID: testBusinessID, ProductID: untrackedID, BranchID: testBranchA,
			Quantity: qty(7), ReferenceType: entity.ReferenceManualAdjustment, ReferenceID: "adj-7", ActorID: testActorID,
		})
		entryErr <- err
	}()
	<-read

	configErr := make(chan error, 1)
	go func() {
		_, err := admin.SetProductConfig(ctx, inventory.ProductConfigInput{
			BusinessID: testBusinessID, ProductID: untrackedID, TrackInventory: true,
		})
		configErr <- err
	}()

	select {
	case err := <-configErr:
		t.Fatalf("el cambio de configuración no debe completarse con una escritura en curso: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(resume)
	require.NoError(t, <-entryErr)
	require.NoError(t, <-configErr)

	level, err := admin.GetCurrentStock(ctx, testBusinessID, untrackedID, testBranchA)
	require.NoError(t, err)
	assert.True(t, level.Tracked)
	requireQty(t, 7, level.Quantity, "la proyección incluye la entrada concurrente")

	report, err := admin.Reconcile(ctx, testBusinessID, untrackedID, testBranchA, false)
	require.NoError(t, err)
	assert.True(t, report.InSync(), "proyección %s, historial %s", report.Projected, report.Ledger)
	requireInvariant(t, store)
}

func TestReconcile_DetectaYReparaDesviacion(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)
	ctx := context.Background()
	seedStock(t, svc, testBranchA, 5)
	seedStock(t, svc, testBranchB, 2)

	keyA := entity.StockKey{BusinessID: testBusinessID, BranchID: testBranchA, ProductID: testProductID}
	store.ForceStock(keyA, qty(9))

	report, err := svc.Reconcile(ctx, testBusinessID, testProductID, testBranchA, false)
	require.NoError(t, err)
	assert.False(t, report.InSync())
	requireQty(t, 4, report.Drift, "desviación")
	requireQty(t, 9, currentStock(t, svc, testBranchA), "sin reparar no se toca")

	summary, err := svc.ReconcileBusiness(ctx, testBusinessID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Checked)
	assert.Equal(t, 1, summary.Drifted)
	assert.Equal(t, 1, summary.Repaired)
	requireQty(t, 5, currentStock(t, svc, testBranchA), "reparado desde el historial")
	requireInvariant(t, store)

	_, err = svc.Reconcile(ctx, testBusinessID, untrackedID, testBranchA, false)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
