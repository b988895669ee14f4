package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger-api/internal/application/inventory"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
)

// MovementRequest body para POST /api/inventory/entries y /api/inventory/consumptions.
// Quantity siempre positiva; el endpoint decide el signo.
type MovementRequest struct {
	ProductID     string          `json:"product_id" validate:"required"`
	BranchID      string          `json:"branch_id" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity" swaggertype:"string" example:"3"`
	ReferenceType string          `json:"reference_type" validate:"required" example:"DIRECT_SALE"`
	ReferenceID   string          `json:"reference_id" validate:"required"`
	Note          string          `json:"note,omitempty" validate:"max=500"`
}

// TransferRequest body para POST /api/inventory/transfers.
type TransferRequest struct {
	ProductID    string          `json:"product_id" validate:"required"`
	FromBranchID string          `json:"from_branch_id" validate:"required"`
	ToBranchID   string          `json:"to_branch_id" validate:"required,nefield=FromBranchID"`
	Quantity     decimal.Decimal `json:"quantity" swaggertype:"string" example:"4"`
	TransferID   string          `json:"transfer_id,omitempty"`
	Note         string          `json:"note,omitempty" validate:"max=500"`
}

// MovementCreatedResponse ID del movimiento creado (o de la reversión).
type MovementCreatedResponse struct {
	MovementID string `json:"movement_id"`
}

// TransferResponse IDs de las dos piernas del traslado.
type TransferResponse struct {
	TransferID    string `json:"transfer_id"`
	OutMovementID string `json:"out_movement_id"`
	InMovementID  string `json:"in_movement_id"`
}

// ReverseReferenceResponse IDs de las reversiones creadas.
type ReverseReferenceResponse struct {
	ReversalIDs []string `json:"reversal_ids"`
}

// MovementQuery filtros de GET /api/inventory/movements. From/To en RFC3339.
type MovementQuery struct {
	ProductID     string `query:"product_id"`
	BranchID      string `query:"branch_id"`
	ReferenceType string `query:"reference_type"`
	ReferenceID   string `query:"reference_id"`
	From          string `query:"from" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	To            string `query:"to" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Limit         int    `query:"limit" validate:"min=0"`
	Offset        int    `query:"offset" validate:"min=0"`
}

// MovementResponse movimiento del historial.
type MovementResponse struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	BranchID      string          `json:"branch_id"`
	ProductID     string          `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity" swaggertype:"string"`
	Type          string          `json:"type"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	ActorID       string          `json:"actor_id"`
	Note          string          `json:"note,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MovementListResponse página de movimientos.
type MovementListResponse struct {
	Items []MovementResponse `json:"items"`
	Page  PageResponse       `json:"page"`
}

// StockResponse stock actual de un producto en una sucursal.
type StockResponse struct {
	ProductID string          `json:"product_id"`
	BranchID  string          `json:"branch_id"`
	Tracked   bool            `json:"track_inventory"`
	Quantity  decimal.Decimal `json:"quantity" swaggertype:"string"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// ProductConfigRequest body para PUT /api/inventory/products/:id/config.
type ProductConfigRequest struct {
	TrackInventory *bool           `json:"track_inventory" validate:"required"`
	MinQuantity    decimal.Decimal `json:"min_quantity" swaggertype:"string"`
	MaxQuantity    decimal.Decimal `json:"max_quantity" swaggertype:"string"`
}

// ProductConfigResponse configuración de inventario del producto.
type ProductConfigResponse struct {
	ProductID      string          `json:"product_id"`
	TrackInventory bool            `json:"track_inventory"`
	MinQuantity    decimal.Decimal `json:"min_quantity" swaggertype:"string"`
	MaxQuantity    decimal.Decimal `json:"max_quantity" swaggertype:"string"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ReconcileRequest body para POST /api/inventory/reconcile.
// Con product_id y branch_id reconcilia una clave; sin ellos, toda la empresa.
// Async encola la reconciliación de empresa en el worker.
type ReconcileRequest struct {
	ProductID string `json:"product_id,omitempty" validate:"required_with=BranchID"`
	BranchID  string `json:"branch_id,omitempty" validate:"required_with=ProductID"`
	Repair    bool   `json:"repair"`
	Async     bool   `json:"async"`
}

// ReconcileReportResponse resultado de una clave.
type ReconcileReportResponse struct {
	ProductID string          `json:"product_id"`
	BranchID  string          `json:"branch_id"`
	Projected decimal.Decimal `json:"projected" swaggertype:"string"`
	Ledger    decimal.Decimal `json:"ledger" swaggertype:"string"`
	Drift     decimal.Decimal `json:"drift" swaggertype:"string"`
	InSync    bool            `json:"in_sync"`
	Repaired  bool            `json:"repaired"`
}

// ReconcileSummaryResponse resultado de una empresa.
type ReconcileSummaryResponse struct {
	Checked  int                       `json:"checked"`
	Drifted  int                       `json:"drifted"`
	Repaired int                       `json:"repaired"`
	Reports  []ReconcileReportResponse `json:"reports"`
}

// ReconcileQueuedResponse reconciliación encolada.
type ReconcileQueuedResponse struct {
	TaskID string `json:"task_id"`
}

// InsufficientStockResponse detalle de un consumo rechazado.
type InsufficientStockResponse struct {
	ErrorResponse
	ProductID string          `json:"product_id"`
	BranchID  string          `json:"branch_id"`
	Available decimal.Decimal `json:"available" swaggertype:"string"`
	Requested decimal.Decimal `json:"requested" swaggertype:"string"`
}

// ────────────────────────────────────────────────────────────────
// Conversión
// ────────────────────────────────────────────────────────────────

// NewMovementResponse convierte un movimiento del dominio.
func NewMovementResponse(m *entity.InventoryMovement) MovementResponse {
	return MovementResponse{
		ID:            m.ID,
		Seq:           m.Seq,
		BranchID:      m.BranchID,
		ProductID:     m.ProductID,
		Quantity:      m.Quantity,
		Type:          string(m.Type),
		ReferenceType: string(m.Reference.Type),
		ReferenceID:   m.Reference.ID,
		ActorID:       m.ActorID,
		Note:          m.Note,
		CreatedAt:     m.CreatedAt,
	}
}

// NewMovementResponses convierte una lista; nunca devuelve nil.
func NewMovementResponses(ms []*entity.InventoryMovement) []MovementResponse {
	out := make([]MovementResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, NewMovementResponse(m))
	}
	return out
}

// NewStockResponse convierte una lectura de stock.
func NewStockResponse(l inventory.StockLevel) StockResponse {
	out := StockResponse{
		ProductID: l.Key.ProductID,
		BranchID:  l.Key.BranchID,
		Tracked:   l.Tracked,
		Quantity:  l.Quantity,
	}
	if !l.UpdatedAt.IsZero() {
		t := l.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// NewProductConfigResponse convierte la configuración de inventario.
func NewProductConfigResponse(c *entity.ProductConfig) ProductConfigResponse {
	return ProductConfigResponse{
		ProductID:      c.ProductID,
		TrackInventory: c.TrackInventory,
		MinQuantity:    c.MinQuantity,
		MaxQuantity:    c.MaxQuantity,
		UpdatedAt:      c.UpdatedAt,
	}
}

// NewReconcileReportResponse convierte el resultado de una clave.
func NewReconcileReportResponse(r inventory.ReconcileReport) ReconcileReportResponse {
	return ReconcileReportResponse{
		ProductID: r.Key.ProductID,
		BranchID:  r.Key.BranchID,
		Projected: r.Projected,
		Ledger:    r.Ledger,
		Drift:     r.Drift,
		InSync:    r.InSync(),
		Repaired:  r.Repaired,
	}
}

// NewReconcileSummaryResponse convierte el resultado de una empresa.
func NewReconcileSummaryResponse(s inventory.ReconcileSummary) ReconcileSummaryResponse {
	out := ReconcileSummaryResponse{
		Checked:  s.Checked,
		Drifted:  s.Drifted,
		Repaired: s.Repaired,
		Reports:  make([]ReconcileReportResponse, 0, len(s.Reports)),
	}
	for _, r := range s.Reports {
		out.Reports = append(out.Reports, NewReconcileReportResponse(r))
	}
	return out
}
