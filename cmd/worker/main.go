package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/jhoicas/stock-ledger-api/internal/application/inventory"
	"github.com/jhoicas/stock-ledger-api/internal/infrastructure/queue"
	"github.com/jhoicas/stock-ledger-api/internal/infrastructure/store"
	"github.com/jhoicas/stock-ledger-api/pkg/config"
	"github.com/jhoicas/stock-ledger-api/pkg/logger"
)

// Worker asynq: alertas de umbral de stock y reconciliación programada (RECONCILE_CRON).
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: cfg.App.Name + "-worker",
	})
	if err := cfg.ValidateWorker(); err != nil {
		log.Fatal().Err(err).Str("db_driver", cfg.DB.Driver).Msg("configuración del worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("almacenamiento")
	}
	defer backend.Close()

	// Las alertas no se vuelven a publicar desde el worker: la reconciliación no cruza umbrales.
	svc := inventory.NewLedgerService(backend.Tx, backend.Reads, nil, log, store.ServiceConfig(cfg))

	var cron []queue.CronRegistration
	if cfg.Reconcile.Cron != "" && len(cfg.Reconcile.BusinessIDs) > 0 {
		task, err := queue.NewReconcileTask(queue.ReconcilePayload{
			BusinessIDs: cfg.Reconcile.BusinessIDs,
			Repair:      cfg.Reconcile.Repair,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("tarea de reconciliación")
		}
		cron = append(cron, queue.CronRegistration{Spec: cfg.Reconcile.Cron, Task: task})
	} else {
		log.Warn().Msg("reconciliación programada deshabilitada (RECONCILE_CRON o RECONCILE_BUSINESS_IDS vacío)")
	}

	worker, err := queue.NewWorker(queue.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		Logger:      log,
		Concurrency: cfg.Reconcile.Concurrency,
		Handlers:    queue.NewHandlers(svc, log),
		Cron:        cron,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("configurar worker")
	}

	log.Info().
		Str("app", cfg.App.Name).
		Str("cron", cfg.Reconcile.Cron).
		Strs("businesses", cfg.Reconcile.BusinessIDs).
		Msg("worker iniciado")

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("worker finalizado")
	}
	log.Info().Msg("worker detenido")
}
