package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger-api/internal/domain/repository"
)

// Repositories agrupa los repositorios que usa el ledger. Dentro de TxRunner.Run
// todos están atados a la misma transacción; fuera de ella sirven para lecturas.
type Repositories struct {
	Movements  repository.InventoryMovementRepository
	Stock      repository.StockRepository
	Products   repository.ProductConfigRepository
	Branches   repository.BranchRepository
	References repository.ReferenceRepository
}

// TxRunner ejecuta una función dentro de una transacción de BD, pasando repositorios atados a esa tx.
// Garantiza atomicidad para el motor de inventario: Commit si fn retorna nil, Rollback si no.
// Los conflictos de bloqueo o serialización se devuelven envueltos en domain.ErrConcurrencyConflict.
type TxRunner interface {
	Run(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// ThresholdKind tipo de alerta de umbral.
type ThresholdKind string

const (
	ThresholdBelowMin ThresholdKind = "below_min"
	ThresholdAboveMax ThresholdKind = "above_max"
)

// StockThresholdEvent se publica después del commit cuando el stock cruza un umbral.
type StockThresholdEvent struct {
	BusinessID string          `json:"business_id"`
	BranchID   string          `json:"branch_id"`
	ProductID  string          `json:"product_id"`
	Kind       ThresholdKind   `json:"kind"`
	Quantity   decimal.Decimal `json:"quantity"`
	Threshold  decimal.Decimal `json:"threshold"`
	MovementID string          `json:"movement_id"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// EventPublisher publica eventos fuera de la transacción (best-effort).
type EventPublisher interface {
	PublishStockThreshold(ctx context.Context, evt StockThresholdEvent) error
}
