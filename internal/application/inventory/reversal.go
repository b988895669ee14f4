package inventory

import (
	"context"
	"fmt"

	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	domaininv "github.com/jhoicas/stock-ledger-api/internal/domain/inventory"
	"github.com/jhoicas/stock-ledger-api/internal/domain/repository"
)

// ReversalEngine construye movimientos compensatorios. El original nunca se modifica:
// la reversión es un movimiento nuevo con cantidad negada, tipo inverso y referencia REVERSAL.
type ReversalEngine struct{}

// Build construye la reversión de original.
func (e *ReversalEngine) Build(original *entity.InventoryMovement, actorID string) (*entity.InventoryMovement, error) {
	if original.IsReversal() {
		return nil, domain.NewValidationError("movement_id", "una reversión no puede revertirse")
	}
	return &entity.InventoryMovement{
		BusinessID: original.BusinessID,
		BranchID:   original.BranchID,
		ProductID:  original.ProductID,
		Quantity:   original.Quantity.Neg(),
		Type:       domaininv.InverseType(original.Type),
		Reference:  entity.ReversalOf(original.ID),
		ActorID:    actorID,
		Note:       "Reversión de " + original.ID,
	}, nil
}

// EnsureNotReversed devuelve domain.ErrAlreadyReversed si ya existe una reversión del movimiento.
func (e *ReversalEngine) EnsureNotReversed(ctx context.Context, movements repository.InventoryMovementRepository, original *entity.InventoryMovement) error {
	rev, err := movements.FindReversalOf(ctx, original.BusinessID, original.ID)
	if err != nil {
		return err
	}
	if rev != nil {
		return fmt.Errorf("%w: %s (reversión %s)", domain.ErrAlreadyReversed, original.ID, rev.ID)
	}
	return nil
}

// ReverseMovement compensa un movimiento. Una reversión que dejaría negativo el stock de un
// producto con inventario se rechaza con *inventory.InsufficientStockError.
// Una pierna de traslado no se revierte sola: use ReverseReference sobre el traslado.
func (s *LedgerService) ReverseMovement(ctx context.Context, businessID, movementID, actorID string) (string, error) {
	if movementID == "" {
		return "", domain.NewValidationError("movement_id", "requerido")
	}
	written, err := s.execute(ctx, "reverse_movement", businessID, func(ctx context.Context, repos Repositories) (*unitPlan, error) {
		original, err := repos.Movements.GetByID(ctx, businessID, movementID)
		if err != nil {
			return nil, err
		}
		if original == nil {
			return nil, fmt.Errorf("%w: movimiento %s", domain.ErrReferenceNotFound, movementID)
		}
		if original.Reference.Type == entity.ReferenceBranchTransfer {
			return nil, domain.NewValidationError("movement_id", fmt.Sprintf(
				"pierna de traslado: revierta el traslado completo con POST /api/inventory/references/%s/%s/reverse",
				entity.ReferenceBranchTransfer, original.Reference.ID))
		}
		rev, err := s.reversals.Build(original, actorID)
		if err != nil {
			return nil, err
		}
		if err := s.reversals.EnsureNotReversed(ctx, repos.Movements, original); err != nil {
			return nil, err
		}
		return &unitPlan{
			movements: []*entity.InventoryMovement{rev},
			verify: func(ctx context.Context, repos Repositories) error {
				return s.reversals.EnsureNotReversed(ctx, repos.Movements, original)
			},
		}, nil
	})
	if err != nil {
		return "", err
	}
	return written[0].ID, nil
}

// ReverseReference revierte en una sola unidad todos los movimientos aún no revertidos de un
// origen (cancelación de venta, factura rechazada, traslado completo). El guard se aplica al
// delta neto por clave.
func (s *LedgerService) ReverseReference(ctx context.Context, businessID string, ref entity.Reference, actorID string) ([]string, error) {
	if err := validateReference(ref); err != nil {
		return nil, err
	}
	if ref.Type == entity.ReferenceReversal {
		return nil, domain.NewValidationError("reference_type", "una reversión no puede revertirse")
	}
	written, err := s.execute(ctx, "reverse_reference", businessID, func(ctx context.Context, repos Repositories) (*unitPlan, error) {
		movements, err := repos.Movements.FindByReference(ctx, businessID, ref)
		if err != nil {
			return nil, err
		}
		if len(movements) == 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrReferenceNotFound, ref)
		}
		var originals, reversals []*entity.InventoryMovement
		for _, m := range movements {
			if m.IsReversal() {
				continue
			}
			existing, err := repos.Movements.FindReversalOf(ctx, businessID, m.ID)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				continue
			}
			rev, err := s.reversals.Build(m, actorID)
			if err != nil {
				return nil, err
			}
			originals = append(originals, m)
			reversals = append(reversals, rev)
		}
		if len(reversals) == 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyReversed, ref)
		}
		return &unitPlan{
			movements: reversals,
			verify: func(ctx context.Context, repos Repositories) error {
				for _, m := range originals {
					if err := s.reversals.EnsureNotReversed(ctx, repos.Movements, m); err != nil {
						// otra unidad revirtió parte del origen entre la lectura y el bloqueo
						return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
					}
				}
				return nil
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(written))
	for i, m := range written {
		ids[i] = m.ID
	}
	return ids, nil
}
