package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	"github.com/jhoicas/stock-ledger-api/internal/domain/repository"
)

// ProductConfigInput entrada para SetProductConfig.
type ProductConfigInput struct {
	BusinessID     string
	ProductID      string
	TrackInventory bool
	MinQuantity    decimal.Decimal
	MaxQuantity    decimal.Decimal
}

// SetProductConfig actualiza la configuración de inventario. Al activar el control de
// inventario, la proyección de cada sucursal con historial se reconstruye desde el ledger.
// El bloqueo exclusivo sobre la configuración espera a las escrituras en curso del producto,
// así la reconstrucción ve todo el historial confirmado.
func (s *LedgerService) SetProductConfig(ctx context.Context, in ProductConfigInput) (*entity.ProductConfig, error) {
	if strings.TrimSpace(in.BusinessID) == "" {
		return nil, domain.NewValidationError("business_id", "requerido")
	}
	if strings.TrimSpace(in.ProductID) == "" {
		return nil, domain.NewValidationError("product_id", "requerido")
	}
	if in.MinQuantity.IsNegative() {
		return nil, domain.NewValidationError("min_quantity", "no puede ser negativa")
	}
	if in.MaxQuantity.IsNegative() {
		return nil, domain.NewValidationError("max_quantity", "no puede ser negativa")
	}
	if in.MaxQuantity.IsPositive() && in.MaxQuantity.LessThan(in.MinQuantity) {
		return nil, domain.NewValidationError("max_quantity", "debe ser mayor o igual que min_quantity")
	}

	var saved *entity.ProductConfig
	_, err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return s.tx.Run(ctx, func(ctx context.Context, repos Repositories) error {
			current, err := repos.Products.GetForUpdate(ctx, in.BusinessID, in.ProductID)
			if err != nil {
				return err
			}
			if current == nil {
				return fmt.Errorf("%w: producto %s", domain.ErrNotFound, in.ProductID)
			}
			enabling := in.TrackInventory && !current.TrackInventory
			cfg := &entity.ProductConfig{
				ProductID:      in.ProductID,
				BusinessID:     in.BusinessID,
				TrackInventory: in.TrackInventory,
				MinQuantity:    in.MinQuantity,
				MaxQuantity:    in.MaxQuantity,
				UpdatedAt:      s.cfg.Now().UTC(),
			}
			if err := repos.Products.Update(ctx, cfg); err != nil {
				return err
			}
			if enabling {
				if err := s.rebuildProduct(ctx, repos, in.BusinessID, in.ProductID); err != nil {
					return err
				}
			}
			saved = cfg
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// rebuildProduct reconstruye la proyección de todas las sucursales con movimientos del producto.
func (s *LedgerService) rebuildProduct(ctx context.Context, repos Repositories, businessID, productID string) error {
	seen := make(map[entity.StockKey]bool)
	var keys []entity.StockKey
	filter := repository.MovementFilter{BusinessID: businessID, ProductID: productID, Limit: s.cfg.MaxPageSize}
	for {
		page, total, err := repos.Movements.List(ctx, filter)
		if err != nil {
			return err
		}
		for _, m := range page {
			if k := m.Key(); !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		filter.Offset += len(page)
		if len(page) == 0 || filter.Offset >= total {
			break
		}
	}
	sortKeys(keys)
	for _, k := range keys {
		if _, err := repos.Stock.GetForUpdate(ctx, k); err != nil {
			return err
		}
		if _, err := s.projector.Rebuild(ctx, repos, k); err != nil {
			return err
		}
	}
	return nil
}
