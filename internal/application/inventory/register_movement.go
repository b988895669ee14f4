package inventory

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	domaininv "github.com/jhoicas/stock-ledger-api/internal/domain/inventory"
)

// MovementInput entrada para RecordEntry y RecordConsumption.
// Quantity siempre positiva; el signo lo decide la operación.
type MovementInput struct {
	BusinessID    string
	ProductID     string
	BranchID      string
	Quantity      decimal.Decimal
	ReferenceType entity.ReferenceType
	ReferenceID   string
	ActorID       string
	Note          string
}

// TransferInput entrada para RecordTransfer. TransferID es opcional (se genera si viene vacío).
type TransferInput struct {
	BusinessID   string
	ProductID    string
	FromBranchID string
	ToBranchID   string
	Quantity     decimal.Decimal
	ActorID      string
	TransferID   string
	Note         string
}

// TransferResult IDs de las dos piernas del traslado.
type TransferResult struct {
	TransferID    string
	OutMovementID string
	InMovementID  string
}

// RecordEntry registra una entrada de stock (factura de proveedor, ajuste o carga inicial).
func (s *LedgerService) RecordEntry(ctx context.Context, in MovementInput) (string, error) {
	if err := validatePositive(in.Quantity); err != nil {
		return "", err
	}
	typ, err := domaininv.EntryType(in.ReferenceType)
	if err != nil {
		return "", err
	}
	return s.recordSingle(ctx, "record_entry", in, typ, in.Quantity)
}

// RecordConsumption registra una salida de stock (insumo de cita, venta directa o ajuste).
// Para productos con inventario, devuelve *inventory.InsufficientStockError si la cantidad
// proyectada quedaría negativa.
func (s *LedgerService) RecordConsumption(ctx context.Context, in MovementInput) (string, error) {
	if err := validatePositive(in.Quantity); err != nil {
		return "", err
	}
	typ, err := domaininv.ConsumptionType(in.ReferenceType)
	if err != nil {
		return "", err
	}
	return s.recordSingle(ctx, "record_consumption", in, typ, in.Quantity.Neg())
}

func (s *LedgerService) recordSingle(ctx context.Context, op string, in MovementInput, typ entity.MovementType, signed decimal.Decimal) (string, error) {
	written, err := s.execute(ctx, op, in.BusinessID, func(ctx context.Context, _ Repositories) (*unitPlan, error) {
		m := &entity.InventoryMovement{
			BusinessID: in.BusinessID,
			BranchID:   in.BranchID,
			ProductID:  in.ProductID,
			Quantity:   signed,
			Type:       typ,
			Reference:  entity.Reference{Type: in.ReferenceType, ID: strings.TrimSpace(in.ReferenceID)},
			ActorID:    in.ActorID,
			Note:       in.Note,
		}
		return &unitPlan{movements: []*entity.InventoryMovement{m}}, nil
	})
	if err != nil {
		return "", err
	}
	return written[0].ID, nil
}

// RecordTransfer traslada stock entre dos sucursales: una salida en origen y una entrada
// en destino con la misma referencia BRANCH_TRANSFER, confirmadas juntas.
func (s *LedgerService) RecordTransfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if err := validatePositive(in.Quantity); err != nil {
		return TransferResult{}, err
	}
	if strings.TrimSpace(in.FromBranchID) == "" {
		return TransferResult{}, domain.NewValidationError("from_branch_id", "requerido")
	}
	if strings.TrimSpace(in.ToBranchID) == "" {
		return TransferResult{}, domain.NewValidationError("to_branch_id", "requerido")
	}
	if in.FromBranchID == in.ToBranchID {
		return TransferResult{}, domain.NewValidationError("to_branch_id", "debe ser distinta de la sucursal de origen")
	}
	transferID := strings.TrimSpace(in.TransferID)
	if transferID == "" {
		transferID = uuid.New().String()
	}
	ref := entity.BranchTransfer(transferID)

	written, err := s.execute(ctx, "record_transfer", in.BusinessID, func(ctx context.Context, repos Repositories) (*unitPlan, error) {
		out := &entity.InventoryMovement{
			BusinessID: in.BusinessID,
			BranchID:   in.FromBranchID,
			ProductID:  in.ProductID,
			Quantity:   in.Quantity.Neg(),
			Type:       entity.MovementTypeTransferOut,
			Reference:  ref,
			ActorID:    in.ActorID,
			Note:       transferNote(in.Note, "Traslado a "+in.ToBranchID),
		}
		inLeg := &entity.InventoryMovement{
			BusinessID: in.BusinessID,
			BranchID:   in.ToBranchID,
			ProductID:  in.ProductID,
			Quantity:   in.Quantity,
			Type:       entity.MovementTypeTransferIn,
			Reference:  ref,
			ActorID:    in.ActorID,
			Note:       transferNote(in.Note, "Traslado desde "+in.FromBranchID),
		}
		return &unitPlan{
			movements: []*entity.InventoryMovement{out, inLeg},
			verify: func(ctx context.Context, repos Repositories) error {
				return ensureTransferUnused(ctx, repos, in.BusinessID, ref)
			},
		}, nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	return TransferResult{TransferID: transferID, OutMovementID: written[0].ID, InMovementID: written[1].ID}, nil
}

// ensureTransferUnused bloquea la referencia del traslado hasta el commit y comprueba que no
// tenga piernas. Dos traslados con el mismo transfer_id quedan serializados aunque el producto
// no controle inventario y no haya claves de stock que bloquear.
func ensureTransferUnused(ctx context.Context, repos Repositories, businessID string, ref entity.Reference) error {
	if err := repos.References.LockReference(ctx, businessID, ref); err != nil {
		return err
	}
	existing, err := repos.Movements.FindByReference(ctx, businessID, ref)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return domain.NewValidationError("transfer_id", "ya fue utilizado")
	}
	return nil
}

func transferNote(note, fallback string) string {
	if strings.TrimSpace(note) != "" {
		return note
	}
	return fallback
}

func validatePositive(q decimal.Decimal) error {
	if !q.GreaterThan(decimal.Zero) {
		return domain.NewValidationError("quantity", "debe ser mayor que cero")
	}
	return nil
}
