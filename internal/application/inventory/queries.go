package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	"github.com/jhoicas/stock-ledger-api/internal/domain/repository"
)

// StockLevel lectura del stock actual de una clave.
// Si Tracked es falso la cantidad no se mantiene y siempre es cero.
type StockLevel struct {
	Key       entity.StockKey
	Tracked   bool
	Quantity  decimal.Decimal
	UpdatedAt time.Time
}

// MovementPage página de movimientos ordenada por (created_at, seq).
type MovementPage struct {
	Items  []*entity.InventoryMovement
	Total  int
	Limit  int
	Offset int
}

// GetCurrentStock lee la proyección sin tomar el bloqueo de escritura.
func (s *LedgerService) GetCurrentStock(ctx context.Context, businessID, productID, branchID string) (StockLevel, error) {
	key := entity.StockKey{BusinessID: businessID, BranchID: branchID, ProductID: productID}
	switch {
	case strings.TrimSpace(businessID) == "":
		return StockLevel{}, domain.NewValidationError("business_id", "requerido")
	case strings.TrimSpace(productID) == "":
		return StockLevel{}, domain.NewValidationError("product_id", "requerido")
	case strings.TrimSpace(branchID) == "":
		return StockLevel{}, domain.NewValidationError("branch_id", "requerido")
	}
	if err := s.checkBranch(ctx, s.reads, businessID, branchID); err != nil {
		return StockLevel{}, err
	}
	cfg, err := s.reads.Products.Get(ctx, businessID, productID)
	if err != nil {
		return StockLevel{}, err
	}
	if cfg == nil {
		return StockLevel{}, fmt.Errorf("%w: producto %s", domain.ErrNotFound, productID)
	}
	level := StockLevel{Key: key, Tracked: cfg.TrackInventory}
	if !cfg.TrackInventory {
		return level, nil
	}
	row, err := s.reads.Stock.Get(ctx, key)
	if err != nil {
		return StockLevel{}, err
	}
	if row != nil {
		level.Quantity = row.Quantity
		level.UpdatedAt = row.UpdatedAt
	}
	return level, nil
}

// ListMovements lista movimientos filtrados y paginados. BusinessID es obligatorio.
func (s *LedgerService) ListMovements(ctx context.Context, filter repository.MovementFilter) (MovementPage, error) {
	if strings.TrimSpace(filter.BusinessID) == "" {
		return MovementPage{}, domain.NewValidationError("business_id", "requerido")
	}
	if filter.ReferenceType != "" && !filter.ReferenceType.Valid() {
		return MovementPage{}, domain.NewValidationError("reference_type", "tipo de referencia desconocido")
	}
	if filter.ReferenceID != "" && filter.ReferenceType == "" {
		return MovementPage{}, domain.NewValidationError("reference_type", "requerido cuando se filtra por reference_id")
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return MovementPage{}, domain.NewValidationError("from", "debe ser anterior a to")
	}
	if filter.Offset < 0 {
		return MovementPage{}, domain.NewValidationError("offset", "no puede ser negativo")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > s.cfg.MaxPageSize {
		filter.Limit = s.cfg.MaxPageSize
	}
	items, total, err := s.reads.Movements.List(ctx, filter)
	if err != nil {
		return MovementPage{}, err
	}
	if items == nil {
		items = []*entity.InventoryMovement{}
	}
	return MovementPage{Items: items, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// FindByReference devuelve todos los movimientos de un origen, sin paginar.
func (s *LedgerService) FindByReference(ctx context.Context, businessID string, ref entity.Reference) ([]*entity.InventoryMovement, error) {
	return s.binder.FindByReference(ctx, s.reads.Movements, businessID, ref)
}

// GetProductConfig lee la configuración de inventario de un producto.
func (s *LedgerService) GetProductConfig(ctx context.Context, businessID, productID string) (*entity.ProductConfig, error) {
	cfg, err := s.reads.Products.Get(ctx, businessID, productID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: producto %s", domain.ErrNotFound, productID)
	}
	return cfg, nil
}
