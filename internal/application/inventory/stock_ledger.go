package inventory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	domaininv "github.com/jhoicas/stock-ledger-api/internal/domain/inventory"
	"github.com/jhoicas/stock-ledger-api/internal/domain/repository"
)

// StockLedger almacén de movimientos, solo inserción. Única fuente de verdad del historial.
type StockLedger struct {
	now   func() time.Time
	newID func() string
}

// NewStockLedger construye el ledger. now puede ser nil (usa time.Now).
func NewStockLedger(now func() time.Time) *StockLedger {
	if now == nil {
		now = time.Now
	}
	return &StockLedger{now: now, newID: func() string { return uuid.New().String() }}
}

// Append valida y persiste el movimiento; asigna ID y CreatedAt si vienen vacíos.
func (l *StockLedger) Append(ctx context.Context, movements repository.InventoryMovementRepository, m *entity.InventoryMovement) (string, error) {
	if err := ValidateMovement(m); err != nil {
		return "", err
	}
	if m.ID == "" {
		m.ID = l.newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = l.now().UTC()
	}
	if err := movements.Append(ctx, m); err != nil {
		return "", err
	}
	return m.ID, nil
}

// ValidateMovement verifica las restricciones de entrada del ledger.
func ValidateMovement(m *entity.InventoryMovement) error {
	if m == nil {
		return domain.NewValidationError("movement", "requerido")
	}
	switch {
	case strings.TrimSpace(m.BusinessID) == "":
		return domain.NewValidationError("business_id", "requerido")
	case strings.TrimSpace(m.BranchID) == "":
		return domain.NewValidationError("branch_id", "requerido")
	case strings.TrimSpace(m.ProductID) == "":
		return domain.NewValidationError("product_id", "requerido")
	case strings.TrimSpace(m.ActorID) == "":
		return domain.NewValidationError("actor_id", "requerido")
	}
	if err := validateReference(m.Reference); err != nil {
		return err
	}
	return domaininv.ValidateSign(m.Type, m.Quantity)
}

func validateReference(ref entity.Reference) error {
	if ref.Type == "" {
		return domain.NewValidationError("reference_type", "requerido")
	}
	if !ref.Type.Valid() {
		return domain.NewValidationError("reference_type", "tipo de referencia desconocido")
	}
	if strings.TrimSpace(ref.ID) == "" {
		return domain.NewValidationError("reference_id", "requerido")
	}
	return nil
}
