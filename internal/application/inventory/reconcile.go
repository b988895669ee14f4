package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
)

// ReconcileReport resultado de comparar la proyección con la suma del historial.
type ReconcileReport struct {
	Key       entity.StockKey
	Projected decimal.Decimal
	Ledger    decimal.Decimal
	Drift     decimal.Decimal // Projected - Ledger
	Repaired  bool
}

// InSync indica si la proyección coincide con el historial.
func (r ReconcileReport) InSync() bool { return r.Drift.IsZero() }

// ReconcileSummary resultado agregado de una empresa. Reports solo incluye las claves con diferencia.
type ReconcileSummary struct {
	BusinessID string
	Checked    int
	Drifted    int
	Repaired   int
	Reports    []ReconcileReport
}

// Reconcile bloquea la clave, suma el historial y lo compara con la proyección.
// Con repair=true y diferencia, el proyector reconstruye la fila desde el historial.
func (s *LedgerService) Reconcile(ctx context.Context, businessID, productID, branchID string, repair bool) (ReconcileReport, error) {
	key := entity.StockKey{BusinessID: businessID, BranchID: branchID, ProductID: productID}
	if businessID == "" || productID == "" || branchID == "" {
		return ReconcileReport{}, domain.NewValidationError("key", "business_id, product_id y branch_id son requeridos")
	}
	var report ReconcileReport
	_, err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return s.tx.Run(ctx, func(ctx context.Context, repos Repositories) error {
			cfg, err := repos.Products.GetForShare(ctx, businessID, productID)
			if err != nil {
				return err
			}
			if cfg == nil {
				return fmt.Errorf("%w: producto %s", domain.ErrNotFound, productID)
			}
			if !cfg.TrackInventory {
				return domain.NewValidationError("product_id", "el producto no controla inventario")
			}
			projected, err := s.guard.Acquire(ctx, repos.Stock, cfg, key)
			if err != nil {
				return err
			}
			sum, err := repos.Movements.SumByKey(ctx, key)
			if err != nil {
				return err
			}
			report = ReconcileReport{Key: key, Projected: projected, Ledger: sum, Drift: projected.Sub(sum)}
			if repair && !report.InSync() {
				if _, err := s.projector.Rebuild(ctx, repos, key); err != nil {
					return err
				}
				report.Repaired = true
			}
			return nil
		})
	})
	if err != nil {
		return ReconcileReport{}, err
	}
	if !report.InSync() {
		s.log.Warn().Str("key", key.String()).Str("projected", report.Projected.String()).
			Str("ledger", report.Ledger.String()).Bool("repaired", report.Repaired).
			Msg("inventario: proyección desalineada con el historial")
	}
	return report, nil
}

// ReconcileBusiness reconcilia todas las claves con stock de una empresa, con un número
// acotado de workers. Las claves de productos sin control de inventario se omiten.
func (s *LedgerService) ReconcileBusiness(ctx context.Context, businessID string, repair bool) (ReconcileSummary, error) {
	if businessID == "" {
		return ReconcileSummary{}, domain.NewValidationError("business_id", "requerido")
	}
	keys, err := s.reads.Stock.ListKeys(ctx, businessID)
	if err != nil {
		return ReconcileSummary{}, err
	}

	summary := ReconcileSummary{BusinessID: businessID}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ReconcileConcurrency)
	for _, k := range keys {
		g.Go(func() error {
			r, err := s.Reconcile(gctx, k.BusinessID, k.ProductID, k.BranchID, repair)
			if errors.Is(err, domain.ErrInvalidInput) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reconciliar %s: %w", k, err)
			}
			mu.Lock()
			defer mu.Unlock()
			summary.Checked++
			if !r.InSync() {
				summary.Drifted++
				summary.Reports = append(summary.Reports, r)
			}
			if r.Repaired {
				summary.Repaired++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	s.log.Info().Str("business_id", businessID).Int("checked", summary.Checked).
		Int("drifted", summary.Drifted).Int("repaired", summary.Repaired).Msg("inventario: reconciliación completada")
	return summary, nil
}
