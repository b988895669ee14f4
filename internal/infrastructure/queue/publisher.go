package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/jhoicas/stock-ledger-api/internal/application/inventory"
)

var _ inventory.EventPublisher = (*Publisher)(nil)

// Enqueuer subconjunto de *asynq.Client usado por el publicador.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Publisher publica los eventos del ledger como tareas asynq.
type Publisher struct {
	client Enqueuer
}

// NewPublisher construye el publicador sobre un cliente asynq (o un doble de pruebas).
func NewPublisher(client Enqueuer) *Publisher {
	return &Publisher{client: client}
}

// PublishStockThreshold encola la alerta de umbral.
func (p *Publisher) PublishStockThreshold(ctx context.Context, evt inventory.StockThresholdEvent) error {
	task, err := NewStockThresholdTask(evt)
	if err != nil {
		return err
	}
	if _, err := p.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("encolar %s: %w", TaskStockThreshold, err)
	}
	return nil
}

// EnqueueReconcile encola una reconciliación inmediata de las empresas indicadas.
func (p *Publisher) EnqueueReconcile(ctx context.Context, businessIDs []string, repair bool) (string, error) {
	task, err := NewReconcileTask(ReconcilePayload{BusinessIDs: businessIDs, Repair: repair, ScheduledFor: time.Now().UTC()})
	if err != nil {
		return "", err
	}
	info, err := p.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("encolar %s: %w", TaskReconcile, err)
	}
	return info.ID, nil
}
