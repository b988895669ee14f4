package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/stock-ledger-api/internal/application/dto"
	"github.com/jhoicas/stock-ledger-api/internal/application/inventory"
	"github.com/jhoicas/stock-ledger-api/internal/domain"
	"github.com/jhoicas/stock-ledger-api/internal/domain/entity"
	"github.com/jhoicas/stock-ledger-api/internal/domain/repository"
	"github.com/jhoicas/stock-ledger-api/pkg/logger"
)

// ReconcileScheduler encola reconciliaciones en el worker.
type ReconcileScheduler interface {
	EnqueueReconcile(ctx context.Context, businessIDs []string, repair bool) (string, error)
}

// InventoryHandler maneja las peticiones HTTP del ledger de inventario (protegido).
// businessId y actorId salen siempre del token, nunca del cuerpo.
type InventoryHandler struct {
	svc       *inventory.LedgerService
	scheduler ReconcileScheduler
	log       *logger.Logger
}

// NewInventoryHandler construye el handler. scheduler puede ser nil (sin cola de trabajos).
func NewInventoryHandler(svc *inventory.LedgerService, scheduler ReconcileScheduler, log *logger.Logger) *InventoryHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &InventoryHandler{svc: svc, scheduler: scheduler, log: log.Component("http")}
}

// RecordEntry godoc
// @Summary      Registrar entrada de stock
// @Description  SUPPLIER_INVOICE → ENTRY, MANUAL_ADJUSTMENT → ADJUSTMENT, INITIAL_STOCK_LOAD → INITIAL.
// @Tags         inventory
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        X-Idempotency-Key  header  string               false  "UUID para reintentos seguros"
// @Param        body               body    dto.MovementRequest  true   "Movimiento"
// @Success      201  {object}  dto.MovementCreatedResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      503  {object}  dto.ErrorResponse
// @Router       /api/inventory/entries [post]
func (h *InventoryHandler) RecordEntry(c *fiber.Ctx) error {
	return h.recordMovement(c, h.svc.RecordEntry)
}

// RecordConsumption godoc
// @Summary      Registrar consumo de stock
// @Description  APPOINTMENT_USAGE / DIRECT_SALE → CONSUMPTION, MANUAL_ADJUSTMENT → ADJUSTMENT negativo.
// @Tags         inventory
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        X-Idempotency-Key  header  string               false  "UUID para reintentos seguros"
// @Param        body               body    dto.MovementRequest  true   "Movimiento"
// @Success      201  {object}  dto.MovementCreatedResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.InsufficientStockResponse
// @Failure      503  {object}  dto.ErrorResponse
// @Router       /api/inventory/consumptions [post]
func (h *InventoryHandler) RecordConsumption(c *fiber.Ctx) error {
	return h.recordMovement(c, h.svc.RecordConsumption)
}

func (h *InventoryHandler) recordMovement(c *fiber.Ctx, record func(context.Context, inventory.MovementInput) (string, error)) error {
	businessID, userID := GetBusinessID(c), GetUserID(c)
	if businessID == "" || userID == "" {
		return unauthorized(c)
	}
	var in dto.MovementRequest
	if err := c.BodyParser(&in); err != nil {
		return invalidBody(c)
	}
	if ok, err := validateStruct(c, in); !ok {
		return err
	}
	refType, ok := entity.ParseReferenceType(in.ReferenceType)
	if !ok {
		return writeError(c, h.log, domain.NewValidationError("reference_type", "desconocido: "+in.ReferenceType))
	}
	id, err := record(c.UserContext(), inventory.MovementInput{
		BusinessID:    businessID,
		ProductID:     in.ProductID,
		BranchID:      in.BranchID,
		Quantity:      in.Quantity,
		ReferenceType: refType,
		ReferenceID:   in.ReferenceID,
		ActorID:       userID,
		Note:          in.Note,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.MovementCreatedResponse{MovementID: id})
}

// RecordTransfer godoc
// @Summary      Trasladar stock entre sucursales
// @Tags         inventory
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        X-Idempotency-Key  header  string               false  "UUID para reintentos seguros"
// @Param        body               body    dto.TransferRequest  true   "Traslado"
// @Success      201  {object}  dto.TransferResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.InsufficientStockResponse
// @Router       /api/inventory/transfers [post]
func (h *InventoryHandler) RecordTransfer(c *fiber.Ctx) error {
	businessID, userID := GetBusinessID(c), GetUserID(c)
	if businessID == "" || userID == "" {
		return unauthorized(c)
	}
	var in dto.TransferRequest
	if err := c.BodyParser(&in); err != nil {
		return invalidBody(c)
	}
	if ok, err := validateStruct(c, in); !ok {
		return err
	}
	res, err := h.svc.RecordTransfer(c.UserContext(), inventory.TransferInput{
		BusinessID:   businessID,
		ProductID:    in.ProductID,
		FromBranchID: in.FromBranchID,
		ToBranchID:   in.ToBranchID,
		Quantity:     in.Quantity,
		ActorID:      userID,
		TransferID:   in.TransferID,
		Note:         in.Note,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.TransferResponse{
		TransferID:    res.TransferID,
		OutMovementID: res.OutMovementID,
		InMovementID:  res.InMovementID,
	})
}

// ReverseMovement godoc
// @Summary      Revertir un movimiento
// @Tags         inventory
// @Security     Bearer
// @Produce      json
// @Param        id   path  string  true  "ID del movimiento"
// @Success      201  {object}  dto.MovementCreatedResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /api/inventory/movements/{id}/reverse [post]
func (h *InventoryHandler) ReverseMovement(c *fiber.Ctx) error {
	businessID, userID := GetBusinessID(c), GetUserID(c)
	if businessID == "" || userID == "" {
		return unauthorized(c)
	}
	id, err := h.svc.ReverseMovement(c.UserContext(), businessID, c.Params("id"), userID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.MovementCreatedResponse{MovementID: id})
}

// ReverseReference godoc
// @Summary      Revertir todos los movimientos de un origen
// @Description  Cancelación de venta, factura rechazada o traslado deshecho, en una sola unidad atómica.
// @Tags         inventory
// @Security     Bearer
// @Produce      json
// @Param        type  path  string  true  "Tipo de referencia"
// @Param        id    path  string  true  "ID del documento de origen"
// @Success      201   {object}  dto.ReverseReferenceResponse
// @Failure      404   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/inventory/references/{type}/{id}/reverse [post]
func (h *InventoryHandler) ReverseReference(c *fiber.Ctx) error {
	businessID, userID := GetBusinessID(c), GetUserID(c)
	if businessID == "" || userID == "" {
		return unauthorized(c)
	}
	ref, err := referenceFromPath(c)
	if err != nil {
		return writeError(c, h.log, err)
	}
	ids, err := h.svc.ReverseReference(c.UserContext(), businessID, ref, userID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.ReverseReferenceResponse{ReversalIDs: ids})
}

// FindByReference godoc
// @Summary      Movimientos de un origen
// @Tags         inventory
// @Security     Bearer
// @Produce      json
// @Param        type  path  string  true  "Tipo de referencia"
// @Param        id    path  string  true  "ID del documento de origen"
// @Success      200   {array}   dto.MovementResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Router       /api/inventory/references/{type}/{id}/movements [get]
func (h *InventoryHandler) FindByReference(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	ref, err := referenceFromPath(c)
	if err != nil {
		return writeError(c, h.log, err)
	}
	list, err := h.svc.FindByReference(c.UserContext(), businessID, ref)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.NewMovementResponses(list))
}

// ListMovements godoc
// @Summary      Listar movimientos
// @Description  Orden de creación; from/to en RFC3339.
// @Tags         inventory
// @Security     Bearer
// @Produce      json
// @Param        product_id      query  string  false  "Producto"
// @Param        branch_id       query  string  false  "Sucursal"
// @Param        reference_type  query  string  false  "Tipo de referencia"
// @Param        reference_id    query  string  false  "ID de referencia (requiere reference_type)"
// @Param        from            query  string  false  "Desde (RFC3339)"
// @Param        to              query  string  false  "Hasta (RFC3339)"
// @Param        limit           query  int     false  "Tamaño de página"
// @Param        offset          query  int     false  "Desplazamiento"
// @Success      200  {object}  dto.MovementListResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/inventory/movements [get]
func (h *InventoryHandler) ListMovements(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	var q dto.MovementQuery
	if err := c.QueryParser(&q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_QUERY", Message: "parámetros inválidos"})
	}
	if ok, err := validateStruct(c, q); !ok {
		return err
	}
	filter := repository.MovementFilter{
		BusinessID:  businessID,
		ProductID:   q.ProductID,
		BranchID:    q.BranchID,
		ReferenceID: q.ReferenceID,
		Limit:       q.Limit,
		Offset:      q.Offset,
	}
	if q.ReferenceType != "" {
		t, ok := entity.ParseReferenceType(q.ReferenceType)
		if !ok {
			return writeError(c, h.log, domain.NewValidationError("reference_type", "desconocido: "+q.ReferenceType))
		}
		filter.ReferenceType = t
	}
	if q.From != "" {
		t, _ := time.Parse(time.RFC3339, q.From)
		filter.From = &t
	}
	if q.To != "" {
		t, _ := time.Parse(time.RFC3339, q.To)
		filter.To = &t
	}
	page, err := h.svc.ListMovements(c.UserContext(), filter)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.MovementListResponse{
		Items: dto.NewMovementResponses(page.Items),
		Page:  dto.PageResponse{Limit: page.Limit, Offset: page.Offset, Total: page.Total},
	})
}

// GetStock godoc
// @Summary      Stock actual
// @Tags         inventory
// @Security     Bearer
// @Produce      json
// @Param        product_id  query  string  true  "Producto"
// @Param        branch_id   query  string  true  "Sucursal"
// @Success      200  {object}  dto.StockResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/inventory/stock [get]
func (h *InventoryHandler) GetStock(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	level, err := h.svc.GetCurrentStock(c.UserContext(), businessID, c.Query("product_id"), c.Query("branch_id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.NewStockResponse(level))
}

// GetProductConfig godoc
// @Summary      Configuración de inventario del producto
// @Tags         inventory
// @Security     Bearer
// @Produce      json
// @Param        id   path  string  true  "ID del producto"
// @Success      200  {object}  dto.ProductConfigResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/inventory/products/{id}/config [get]
func (h *InventoryHandler) GetProductConfig(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	cfg, err := h.svc.GetProductConfig(c.UserContext(), businessID, c.Params("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.NewProductConfigResponse(cfg))
}

// SetProductConfig godoc
// @Summary      Actualizar configuración de inventario
// @Description  Al activar track_inventory la proyección se reconstruye desde el historial. Solo admin.
// @Tags         inventory
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string                    true  "ID del producto"
// @Param        body  body  dto.ProductConfigRequest  true  "Configuración"
// @Success      200   {object}  dto.ProductConfigResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      403   {object}  dto.ErrorResponse
// @Failure      404   {object}  dto.ErrorResponse
// @Router       /api/inventory/products/{id}/config [put]
func (h *InventoryHandler) SetProductConfig(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	var in dto.ProductConfigRequest
	if err := c.BodyParser(&in); err != nil {
		return invalidBody(c)
	}
	if ok, err := validateStruct(c, in); !ok {
		return err
	}
	cfg, err := h.svc.SetProductConfig(c.UserContext(), inventory.ProductConfigInput{
		BusinessID:     businessID,
		ProductID:      c.Params("id"),
		TrackInventory: *in.TrackInventory,
		MinQuantity:    in.MinQuantity,
		MaxQuantity:    in.MaxQuantity,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.NewProductConfigResponse(cfg))
}

// Reconcile godoc
// @Summary      Reconciliar proyección de stock
// @Description  Con product_id y branch_id revisa una clave; sin ellos, toda la empresa. async=true encola en el worker. Solo admin.
// @Tags         inventory
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.ReconcileRequest  true  "Alcance"
// @Success      200   {object}  dto.ReconcileSummaryResponse
// @Success      202   {object}  dto.ReconcileQueuedResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      403   {object}  dto.ErrorResponse
// @Router       /api/inventory/reconcile [post]
func (h *InventoryHandler) Reconcile(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	var in dto.ReconcileRequest
	if err := c.BodyParser(&in); err != nil {
		return invalidBody(c)
	}
	if ok, err := validateStruct(c, in); !ok {
		return err
	}
	ctx := c.UserContext()

	if in.ProductID != "" {
		report, err := h.svc.Reconcile(ctx, businessID, in.ProductID, in.BranchID, in.Repair)
		if err != nil {
			return writeError(c, h.log, err)
		}
		return c.JSON(dto.NewReconcileReportResponse(report))
	}
	if in.Async {
		if h.scheduler == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Code: "QUEUE_DISABLED", Message: "cola de trabajos no configurada"})
		}
		taskID, err := h.scheduler.EnqueueReconcile(ctx, []string{businessID}, in.Repair)
		if err != nil {
			return writeError(c, h.log, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(dto.ReconcileQueuedResponse{TaskID: taskID})
	}
	summary, err := h.svc.ReconcileBusiness(ctx, businessID, in.Repair)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.NewReconcileSummaryResponse(summary))
}

func referenceFromPath(c *fiber.Ctx) (entity.Reference, error) {
	t, ok := entity.ParseReferenceType(c.Params("type"))
	if !ok {
		return entity.Reference{}, domain.NewValidationError("reference_type", "desconocido: "+c.Params("type"))
	}
	return entity.Reference{Type: t, ID: c.Params("id")}, nil
}
