package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/budgetwatch/budgetwatch/internal/config"
	"github.com/budgetwatch/budgetwatch/internal/database"
	"github.com/budgetwatch/budgetwatch/internal/event_bus"
	"github.com/budgetwatch/budgetwatch/internal/utils"
	"github.com/budgetwatch/budgetwatch/pkg/budget"
	"github.com/budgetwatch/budgetwatch/pkg/job"
	"github.com/budgetwatch/budgetwatch/pkg/receipt"
	"github.com/budgetwatch/budgetwatch/pkg/store"
	"github.com/budgetwatch/budgetwatch/pkg/store/pgstore"
	"github.com/budgetwatch/budgetwatch/pkg/store/sqlstore"
	"github.com/budgetwatch/budgetwatch/pkg/transaction"
	"github.com/budgetwatch/budgetwatch/pkg/transfer"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Dependencies holds all services and handlers for the application.
type Dependencies struct {
	Clock    utils.Clock
	Store    store.Store
	Receipts *receipt.Dir
	EventBus *event_bus.EventBus

	TransferService *transfer.ServiceImpl
	JobManager      *job.Manager
	JobHandler      *job.Handler

	BudgetService *budget.BudgetServiceImpl
	BudgetHandler *budget.BudgetHandler

	TransactionService *transaction.ServiceImpl
	TransactionHandler *transaction.Handler
}

// OpenStore connects to the configured database, applies pending migrations and wraps
// the connection in a store.
func OpenStore(ctx context.Context, cfg config.Database) (store.Store, error) {
	switch cfg.Driver {
	case database.DriverSQLite:
		db, err := database.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := database.MigrateSQLite(db); err != nil {
			db.Close()
			return nil, err
		}
		log.Infof("Using SQLite database at %s", cfg.Path)
		return sqlstore.New(db), nil
	case database.DriverPostgres:
		if err := database.MigratePostgres(cfg); err != nil {
			return nil, err
		}
		pool, err := database.OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Infof("Using PostgreSQL database %s on %s:%d", cfg.Name, cfg.Host, cfg.Port)
		return pgstore.New(pool), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// BuildDependencies initializes and wires all application services and handlers on top
// of an open store. Receipts and transfer files live on fs.
func BuildDependencies(st store.Store, cfg config.Application, fs afero.Fs, clock utils.Clock) (*Dependencies, error) {
	deps := &Dependencies{Clock: clock, Store: st}

	receipts, err := receipt.NewDir(fs, cfg.Receipts.Dir)
	if err != nil {
		return nil, err
	}
	deps.Receipts = receipts
	deps.EventBus = event_bus.NewEventBusWithClock(clock)

	deps.TransferService = transfer.NewTransferService(st, receipts, transfer.Options{
		ProgressInterval: cfg.Transfer.ProgressInterval,
		SpoolFs:          fs,
		SpoolDir:         cfg.Transfer.Dir,
		Clock:            clock,
	})
	deps.JobManager, err = job.NewManager(deps.TransferService, deps.EventBus, fs, cfg.Transfer.Dir, clock)
	if err != nil {
		return nil, err
	}
	deps.JobHandler = job.NewHandler(deps.JobManager)

	deps.BudgetService = budget.NewBudgetServiceImpl(st)
	deps.BudgetHandler = budget.NewBudgetHandler(deps.BudgetService, clock)

	deps.TransactionService = transaction.NewService(st, receipts)
	deps.TransactionHandler = transaction.NewHandler(deps.TransactionService, receipts)

	return deps, nil
}

// Close stops running jobs and releases the store.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	if err := d.JobManager.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("could not stop jobs: %w", err))
	}
	if err := d.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("could not close store: %w", err))
	}
	return errors.Join(errs...)
}
