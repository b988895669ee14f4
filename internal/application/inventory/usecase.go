package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	"github.com/jhoicas/stock-ledger-api/pkg/logger"
)

const (
	defaultPageSize    = 50
	defaultMaxPageSize = 500
)

// Config parámetros del servicio de inventario.
type Config struct {
	Retry                RetryPolicy
	MaxPageSize          int
	ReconcileConcurrency int
	Now                  func() time.Time
}

// LedgerService expone las operaciones del ledger de inventario a los módulos colaboradores
// (citas, punto de venta, facturas de proveedor, ajustes, traslados).
// Toda escritura pasa por guard → ledger → proyector dentro de una sola transacción.
type LedgerService struct {
	tx        TxRunner
	reads     Repositories
	publisher EventPublisher
	log       *logger.Logger
	cfg       Config

	guard     *ConsumptionGuard
	ledger    *StockLedger
	projector *StockProjector
	binder    *ReferenceBinder
	reversals *ReversalEngine
}

// NewLedgerService construye el servicio. reads se usa para consultas fuera de transacción;
// publisher y log pueden ser nil.
func NewLedgerService(tx TxRunner, reads Repositories, publisher EventPublisher, log *logger.Logger, cfg Config) *LedgerService {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = defaultMaxPageSize
	}
	if cfg.ReconcileConcurrency <= 0 {
		cfg.ReconcileConcurrency = 4
	}
	return &LedgerService{
		tx:        tx,
		reads:     reads,
		publisher: publisher,
		log:       log.Component("ledger"),
		cfg:       cfg,
		guard:     &ConsumptionGuard{},
		ledger:    NewStockLedger(cfg.Now),
		projector: &StockProjector{},
		binder:    &ReferenceBinder{},
		reversals: &ReversalEngine{},
	}
}

// unitPlan movimientos a escribir en una unidad atómica. verify se ejecuta con todas
// las claves ya bloqueadas, antes de decidir y escribir.
type unitPlan struct {
	movements []*entity.InventoryMovement
	verify    func(ctx context.Context, repos Repositories) error
}

type keyState struct {
	cfg     *entity.ProductConfig
	current decimal.Decimal
	delta   decimal.Decimal
	lastID  string
}

// execute corre la unidad atómica con reintentos ante conflictos de concurrencia
// y publica los eventos de umbral después del commit.
func (s *LedgerService) execute(ctx context.Context, op, businessID string, prepare func(ctx context.Context, repos Repositories) (*unitPlan, error)) ([]*entity.InventoryMovement, error) {
	var (
		written []*entity.InventoryMovement
		events  []StockThresholdEvent
	)
	attempts, err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		written, events = nil, nil
		return s.tx.Run(ctx, func(ctx context.Context, repos Repositories) error {
			plan, err := prepare(ctx, repos)
			if err != nil {
				return err
			}
			written, events, err = s.apply(ctx, repos, businessID, plan)
			return err
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			s.log.Warn().Str("op", op).Str("business_id", businessID).Int("attempts", attempts).
				Err(err).Msg("inventario: reintentos agotados por contención")
		}
		return nil, err
	}
	for _, m := range written {
		s.log.Debug().Str("op", op).Str("movement_id", m.ID).Str("key", m.Key().String()).
			Str("type", string(m.Type)).Str("quantity", m.Quantity.String()).Msg("movimiento registrado")
	}
	s.publish(ctx, events)
	return written, nil
}

func (s *LedgerService) apply(ctx context.Context, repos Repositories, businessID string, plan *unitPlan) ([]*entity.InventoryMovement, []StockThresholdEvent, error) {
	if plan == nil || len(plan.movements) == 0 {
		return nil, nil, domain.NewValidationError("movement", "requerido")
	}

	// 1. Validación y binding de origen, sin escrituras.
	branches := make(map[string]bool)
	configs := make(map[string]*entity.ProductConfig)
	var products []string
	for _, m := range plan.movements {
		if m.BusinessID != businessID {
			return nil, nil, domain.NewValidationError("business_id", "no coincide con la operación")
		}
		if err := ValidateMovement(m); err != nil {
			return nil, nil, err
		}
		if err := s.binder.Bind(ctx, repos, businessID, m.Reference); err != nil {
			return nil, nil, err
		}
		if !branches[m.BranchID] {
			if err := s.checkBranch(ctx, repos, businessID, m.BranchID); err != nil {
				return nil, nil, err
			}
			branches[m.BranchID] = true
		}
		if _, ok := configs[m.ProductID]; !ok {
			configs[m.ProductID] = nil
			products = append(products, m.ProductID)
		}
	}

	// La configuración queda bloqueada en modo compartido hasta el commit: un cambio de
	// trackInventory no puede intercalarse entre esta lectura y la proyección.
	sort.Strings(products)
	for _, productID := range products {
		cfg, err := repos.Products.GetForShare(ctx, businessID, productID)
		if err != nil {
			return nil, nil, err
		}
		if cfg == nil {
			return nil, nil, fmt.Errorf("%w: producto %s", domain.ErrNotFound, productID)
		}
		configs[productID] = cfg
	}

	// 2. Delta neto por clave y bloqueo en orden canónico.
	states := make(map[entity.StockKey]*keyState)
	keys := make([]entity.StockKey, 0, len(plan.movements))
	for _, m := range plan.movements {
		k := m.Key()
		st, ok := states[k]
		if !ok {
			st = &keyState{cfg: configs[m.ProductID]}
			states[k] = st
			keys = append(keys, k)
		}
		st.delta = st.delta.Add(m.Quantity)
	}
	sortKeys(keys)
	for _, k := range keys {
		st := states[k]
		current, err := s.guard.Acquire(ctx, repos.Stock, st.cfg, k)
		if err != nil {
			return nil, nil, err
		}
		st.current = current
	}

	if plan.verify != nil {
		if err := plan.verify(ctx, repos); err != nil {
			return nil, nil, err
		}
	}

	// 3. Decisión del guard sobre el delta neto de cada clave.
	for _, k := range keys {
		st := states[k]
		if _, err := s.guard.Decide(st.cfg, k, st.current, st.delta); err != nil {
			return nil, nil, err
		}
	}

	// 4. Inserción en el ledger y proyección.
	for _, m := range plan.movements {
		if _, err := s.ledger.Append(ctx, repos.Movements, m); err != nil {
			return nil, nil, err
		}
		st := states[m.Key()]
		if _, err := s.projector.Apply(ctx, repos.Stock, m, st.cfg.TrackInventory); err != nil {
			return nil, nil, err
		}
		st.lastID = m.ID
	}

	var events []StockThresholdEvent
	for _, k := range keys {
		events = append(events, s.thresholdEvents(k, states[k])...)
	}
	return plan.movements, events, nil
}

// sortKeys ordena las claves en el orden canónico de bloqueo.
func sortKeys(keys []entity.StockKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

func (s *LedgerService) checkBranch(ctx context.Context, repos Repositories, businessID, branchID string) error {
	b, err := repos.Branches.GetByID(ctx, branchID)
	if err != nil {
		return err
	}
	if b == nil || b.BusinessID != businessID {
		return fmt.Errorf("%w: sucursal %s", domain.ErrNotFound, branchID)
	}
	return nil
}

// thresholdEvents detecta cruces de umbral (antes fuera, después dentro).
func (s *LedgerService) thresholdEvents(k entity.StockKey, st *keyState) []StockThresholdEvent {
	if st.cfg == nil || !st.cfg.TrackInventory {
		return nil
	}
	after := st.current.Add(st.delta)
	now := s.cfg.Now().UTC()
	var out []StockThresholdEvent
	if !st.cfg.BelowMin(st.current) && st.cfg.BelowMin(after) {
		out = append(out, StockThresholdEvent{
			BusinessID: k.BusinessID, BranchID: k.BranchID, ProductID: k.ProductID,
			Kind: ThresholdBelowMin, Quantity: after, Threshold: st.cfg.MinQuantity,
			MovementID: st.lastID, OccurredAt: now,
		})
	}
	if !st.cfg.AboveMax(st.current) && st.cfg.AboveMax(after) {
		out = append(out, StockThresholdEvent{
			BusinessID: k.BusinessID, BranchID: k.BranchID, ProductID: k.ProductID,
			Kind: ThresholdAboveMax, Quantity: after, Threshold: st.cfg.MaxQuantity,
			MovementID: st.lastID, OccurredAt: now,
		})
	}
	return out
}

// publish envía eventos post-commit. Un fallo nunca se propaga al llamador.
func (s *LedgerService) publish(ctx context.Context, events []StockThresholdEvent) {
	if s.publisher == nil {
		return
	}
	for _, evt := range events {
		if err := s.publisher.PublishStockThreshold(context.WithoutCancel(ctx), evt); err != nil {
			s.log.Warn().Err(err).Str("business_id", evt.BusinessID).Str("branch_id", evt.BranchID).
				Str("product_id", evt.ProductID).Str("kind", string(evt.Kind)).
				Msg("inventario: no se pudo publicar alerta de umbral")
		}
	}
}
