package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/jhoicas/stock-ledger-api/internal/application/inventory"
	"github.com/jhoicas/stock-ledger-api/pkg/logger"
)

// Reconciler subconjunto del servicio de inventario usado por el worker.
type Reconciler interface {
	ReconcileBusiness(ctx context.Context, businessID string, repair bool) (inventory.ReconcileSummary, error)
}

// Handlers procesa las tareas del ledger.
type Handlers struct {
	reconciler Reconciler
	log        *logger.Logger
}

// NewHandlers construye los handlers. log puede ser nil.
func NewHandlers(reconciler Reconciler, log *logger.Logger) *Handlers {
	if log == nil {
		log = logger.Nop()
	}
	return &Handlers{reconciler: reconciler, log: log.Component("queue")}
}

// HandleStockThreshold registra la alerta. Un payload corrupto no se reintenta.
func (h *Handlers) HandleStockThreshold(_ context.Context, t *asynq.Task) error {
	var evt inventory.StockThresholdEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return fmt.Errorf("payload inválido: %v: %w", err, asynq.SkipRetry)
	}
	h.log.Warn().Str("business_id", evt.BusinessID).Str("branch_id", evt.BranchID).
		Str("product_id", evt.ProductID).Str("kind", string(evt.Kind)).
		Str("quantity", evt.Quantity.String()).Str("threshold", evt.Threshold.String()).
		Str("movement_id", evt.MovementID).Msg("inventario: alerta de umbral de stock")
	return nil
}

// HandleReconcile reconcilia cada empresa del payload. Los errores se acumulan para que
// una empresa con fallo no impida revisar las demás; asynq reintenta la tarea completa.
func (h *Handlers) HandleReconcile(ctx context.Context, t *asynq.Task) error {
	var p ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("payload inválido: %v: %w", err, asynq.SkipRetry)
	}
	var errs []error
	for _, businessID := range p.BusinessIDs {
		summary, err := h.reconciler.ReconcileBusiness(ctx, businessID, p.Repair)
		if err != nil {
			h.log.Error().Err(err).Str("business_id", businessID).Msg("inventario: reconciliación fallida")
			errs = append(errs, err)
			continue
		}
		h.log.Info().Str("business_id", businessID).Int("checked", summary.Checked).
			Int("drifted", summary.Drifted).Int("repaired", summary.Repaired).Msg("inventario: reconciliación programada")
	}
	return errors.Join(errs...)
}
