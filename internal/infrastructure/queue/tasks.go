// Package queue conecta el ledger con la cola de trabajos asynq: publica las alertas de
// umbral de stock y ejecuta la reconciliación programada.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/jhoicas/stock-ledger-api/internal/application/inventory"
)

const (
	// QueueDefault cola por defecto de los trabajos del ledger.
	QueueDefault = "default"
	// TaskStockThreshold alerta de stock por debajo del mínimo o por encima del máximo.
	TaskStockThreshold = "inventory:stock_threshold"
	// TaskReconcile reconciliación de la proyección de stock contra el historial.
	TaskReconcile = "inventory:reconcile"
)

// ReconcilePayload empresas a reconciliar y si se repara la proyección.
type ReconcilePayload struct {
	BusinessIDs  []string  `json:"business_ids"`
	Repair       bool      `json:"repair"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewStockThresholdTask construye la tarea de alerta. Se reintenta pocas veces: es best-effort.
func NewStockThresholdTask(evt inventory.StockThresholdEvent) (*asynq.Task, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("serializar alerta: %w", err)
	}
	return asynq.NewTask(TaskStockThreshold, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewReconcileTask construye la tarea de reconciliación.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serializar reconciliación: %w", err)
	}
	return asynq.NewTask(TaskReconcile, body, asynq.Queue(QueueDefault)), nil
}
