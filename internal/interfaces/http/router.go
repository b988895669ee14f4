package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/idempotency"
	"github.com/google/uuid"

	"github.com/jhoicas/stock-ledger-api/internal/application/inventory"
	"github.com/jhoicas/stock-ledger-api/pkg/logger"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Ledger    *inventory.LedgerService
	Scheduler ReconcileScheduler // nil = sin cola de trabajos
	// IdempotencyStorage guarda las respuestas por X-Idempotency-Key; nil = memoria del proceso.
	IdempotencyStorage fiber.Storage
	JWTSecret          string
	Logger             *logger.Logger
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	// Rutas protegidas (requieren Bearer Token)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))

	// Los POST con X-Idempotency-Key repiten la primera respuesta en vez de duplicar movimientos.
	// La clave se guarda con la empresa del token como prefijo.
	invGroup := protected.Group("/inventory", scopeIdempotencyKey, idempotency.New(idempotency.Config{
		Lifetime:          24 * time.Hour,
		KeyHeader:         idempotencyKeyHeader,
		KeyHeaderValidate: validateScopedKey,
		Storage:           deps.IdempotencyStorage,
	}))
	h := NewInventoryHandler(deps.Ledger, deps.Scheduler, deps.Logger)

	invGroup.Post("/entries", h.RecordEntry)
	invGroup.Post("/consumptions", h.RecordConsumption)
	invGroup.Post("/transfers", h.RecordTransfer)
	invGroup.Get("/movements", h.ListMovements)
	invGroup.Post("/movements/:id/reverse", h.ReverseMovement)
	invGroup.Get("/references/:type/:id/movements", h.FindByReference)
	invGroup.Post("/references/:type/:id/reverse", h.ReverseReference)
	invGroup.Get("/stock", h.GetStock)
	invGroup.Get("/products/:id/config", h.GetProductConfig)

	// Solo admin
	invGroup.Put("/products/:id/config", RequireRole(RoleAdmin), h.SetProductConfig)
	invGroup.Post("/reconcile", RequireRole(RoleAdmin), h.Reconcile)
}

const idempotencyKeyHeader = "X-Idempotency-Key"

// scopeIdempotencyKey reescribe X-Idempotency-Key como "<business_id>:<clave>". Dos empresas
// con la misma clave no comparten respuesta guardada.
func scopeIdempotencyKey(c *fiber.Ctx) error {
	if key := c.Get(idempotencyKeyHeader); key != "" {
		c.Request().Header.Set(idempotencyKeyHeader, GetBusinessID(c)+":"+key)
	}
	return c.Next()
}

// validateScopedKey exige que la clave enviada por el cliente sea un UUID.
func validateScopedKey(scoped string) error {
	key := scoped[strings.LastIndexByte(scoped, ':')+1:]
	if _, err := uuid.Parse(key); err != nil || len(key) != 36 {
		return fiber.NewError(fiber.StatusBadRequest, idempotencyKeyHeader+" debe ser un UUID")
	}
	return nil
}
