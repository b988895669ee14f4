package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/stock-ledger-api/internal/application/inventory"
	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	"github.com/jhoicas/stock-ledger-api/internal/infrastructure/postgres"
	"github.com/jhoicas/stock-ledger-api/pkg/config"
)

// Requiere una base PostgreSQL desechable: LEDGER_TEST_DATABASE_URL=postgres://...
func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL no definido")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, config.DBConfig{DatabaseURL: url, MaxConns: 10})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.Migrate(ctx, pool))
	return pool
}

// seedTenant crea una empresa aislada con dos sucursales, un producto con inventario y una factura.
func seedTenant(t *testing.T, pool *pgxpool.Pool) (businessID, branchA, branchB, productID string) {
	t.Helper()
	ctx := context.Background()
	businessID = "biz-" + uuid.NewString()
	branchA, branchB = "br-a-"+uuid.NewString(), "br-b-"+uuid.NewString()
	productID = "prod-" + uuid.NewString()
	_, err := pool.Exec(ctx, `INSERT INTO branches (id, business_id, name) VALUES ($1, $3, 'A'), ($2, $3, 'B')`, branchA, branchB, businessID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO products (id, business_id, track_inventory) VALUES ($1, $2, TRUE)`, productID, businessID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO supplier_invoices (id, business_id) VALUES ('inv-1', $1)`, businessID)
	require.NoError(t, err)
	return businessID, branchA, branchB, productID
}

func TestPostgres_ConsumosConcurrentesYReversion(t *testing.T) {
	pool := openTestPool(t)
	businessID, branchA, _, productID := seedTenant(t, pool)
	ctx := context.Background()

	svc := inventory.NewLedgerService(postgres.NewTxRunner(pool, 2*time.Second), postgres.Repositories(pool), nil, nil, inventory.Config{})
	_, err := svc.RecordEntry(ctx, inventory.MovementInput{
		BusinessID: businessID, ProductID: productID, BranchID: branchA, Quantity: decimal.NewFromInt(5),
		ReferenceType: entity.ReferenceSupplierInvoice, ReferenceID: "inv-1", ActorID: "user-1",
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	ids := make([]string, 2)
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], errs[i] = svc.RecordConsumption(ctx, inventory.MovementInput{
				BusinessID: businessID, ProductID: productID, BranchID: branchA, Quantity: decimal.NewFromInt(3),
				ReferenceType: entity.ReferenceManualAdjustment, ReferenceID: fmt.Sprintf("adj-%d", i), ActorID: "user-1",
			})
		}()
	}
	wg.Wait()

	var winner string
	for i, err := range errs {
		if err == nil {
			winner = ids[i]
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrInsufficientStock), "error inesperado: %v", err)
	}
	require.NotEmpty(t, winner, "un consumo debe confirmarse")

	level, err := svc.GetCurrentStock(ctx, businessID, productID, branchA)
	require.NoError(t, err)
	assert.True(t, level.Quantity.Equal(decimal.NewFromInt(2)))

	_, err = svc.ReverseMovement(ctx, businessID, winner, "user-1")
	require.NoError(t, err)
	_, err = svc.ReverseMovement(ctx, businessID, winner, "user-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyReversed)

	report, err := svc.Reconcile(ctx, businessID, productID, branchA, false)
	require.NoError(t, err)
	assert.True(t, report.InSync())
	assert.True(t, report.Ledger.Equal(decimal.NewFromInt(5)))
}

func TestPostgres_HistorialSoloInsercion(t *testing.T) {
	pool := openTestPool(t)
	businessID, branchA, branchB, productID := seedTenant(t, pool)
	ctx := context.Background()

	svc := inventory.NewLedgerService(postgres.NewTxRunner(pool, 2*time.Second), postgres.Repositories(pool), nil, nil, inventory.Config{})
	_, err := svc.RecordEntry(ctx, inventory.MovementInput{
		BusinessID: businessID, ProductID: productID, BranchID: branchA, Quantity: decimal.NewFromInt(4),
		ReferenceType: entity.ReferenceSupplierInvoice, ReferenceID: "inv-1", ActorID: "user-1",
	})
	require.NoError(t, err)
	res, err := svc.RecordTransfer(ctx, inventory.TransferInput{
		BusinessID: businessID, ProductID: productID, FromBranchID: branchA, ToBranchID: branchB,
		Quantity: decimal.NewFromInt(4), ActorID: "user-1",
	})
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `UPDATE inventory_movements SET quantity = 1 WHERE id = $1`, res.InMovementID)
	assert.Error(t, err, "el trigger debe rechazar UPDATE")
	_, err = pool.Exec(ctx, `DELETE FROM inventory_movements WHERE id = $1`, res.OutMovementID)
	assert.Error(t, err, "el trigger debe rechazar DELETE")
}

func TestPostgres_TrasladosConcurrentesMismoTransferID(t *testing.T) {
	pool := openTestPool(t)
	businessID, branchA, branchB, productID := seedTenant(t, pool)
	ctx := context.Background()
	_, err := pool.Exec(ctx, `UPDATE products SET track_inventory = FALSE WHERE business_id = $1 AND id = $2`, businessID, productID)
	require.NoError(t, err)

	svc := inventory.NewLedgerService(postgres.NewTxRunner(pool, 2*time.Second), postgres.Repositories(pool), nil, nil, inventory.Config{})
	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.RecordTransfer(ctx, inventory.TransferInput{
				BusinessID: businessID, ProductID: productID, FromBranchID: branchA, ToBranchID: branchB,
				Quantity: decimal.NewFromInt(1), ActorID: "user-1", TransferID: "tr-dup",
			})
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	}
	assert.Equal(t, 1, ok)
	legs, err := svc.FindByReference(ctx, businessID, entity.BranchTransfer("tr-dup"))
	require.NoError(t, err)
	assert.Len(t, legs, 2)
}

func TestPostgres_ActivarInventarioEsperaEscriturasEnCurso(t *testing.T) {
	pool := openTestPool(t)
	businessID, branchA, _, productID := seedTenant(t, pool)
	ctx := context.Background()
	_, err := pool.Exec(ctx, `UPDATE products SET track_inventory = FALSE WHERE business_id = $1 AND id = $2`, businessID, productID)
	require.NoError(t, err)

	svc := inventory.NewLedgerService(postgres.NewTxRunner(pool, 5*time.Second), postgres.Repositories(pool), nil, nil, inventory.Config{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordEntry(ctx, inventory.MovementInput{
				BusinessID: businessID, ProductID: productID, BranchID: branchA, Quantity: decimal.NewFromInt(1),
				ReferenceType: entity.ReferenceManualAdjustment, ReferenceID: fmt.Sprintf("adj-%d", i), ActorID: "user-1",
			})
			assert.NoError(t, err)
		}()
	}
	_, err = svc.SetProductConfig(ctx, inventory.ProductConfigInput{BusinessID: businessID, ProductID: productID, TrackInventory: true})
	require.NoError(t, err)
	wg.Wait()

	report, err := svc.Reconcile(ctx, businessID, productID, branchA, false)
	require.NoError(t, err)
	assert.True(t, report.InSync(), "proyección %s, historial %s", report.Projected, report.Ledger)
	assert.True(t, report.Ledger.Equal(decimal.NewFromInt(8)))
}
