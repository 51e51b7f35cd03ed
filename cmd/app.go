package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/rs/zerolog"

	"finance-backoffice/internal/audit"
	billingapp "finance-backoffice/internal/billing/application"
	billing "finance-backoffice/internal/billing/domain"
	chargebolt "finance-backoffice/internal/billing/infrastructure/boltstore"
	chargepg "finance-backoffice/internal/billing/infrastructure/postgres"
	"finance-backoffice/internal/config"
	"finance-backoffice/internal/eventing"
	eventbolt "finance-backoffice/internal/eventing/infrastructure/boltstore"
	eventpg "finance-backoffice/internal/eventing/infrastructure/postgres"
	ledgerapp "finance-backoffice/internal/ledger/application"
	ledger "finance-backoffice/internal/ledger/domain"
	ledgerbolt "finance-backoffice/internal/ledger/infrastructure/boltstore"
	ledgerpg "finance-backoffice/internal/ledger/infrastructure/postgres"
	"finance-backoffice/internal/logger"
	"finance-backoffice/internal/notify"
	"finance-backoffice/internal/observability/metrics"
	"finance-backoffice/internal/storage/boltdb"
	pgstore "finance-backoffice/internal/storage/postgres"
	vendorapp "finance-backoffice/internal/vendorpay/application"
	vendorpay "finance-backoffice/internal/vendorpay/domain"
	vendorbolt "finance-backoffice/internal/vendorpay/infrastructure/boltstore"
	vendorpg "finance-backoffice/internal/vendorpay/infrastructure/postgres"
)

type outboxStore interface {
	eventing.OutboxStore
	eventing.OutboxWriter
}

// app holds the stores and services shared by every command.
type app struct {
	loc  *time.Location
	opts billing.ExpandOptions

	sqlDB  *sql.DB
	boltDB *bolt.DB

	charges   billing.ChargeRepository
	entries   ledger.EntryRepository
	accounts  vendorpay.AccountRepository
	outbox    outboxStore
	processed eventing.ProcessedStore
	dlq       eventing.DLQStore
	access    audit.Logger

	publisher  *eventing.Publisher
	syncer     *ledgerapp.Synchronizer
	writer     *billingapp.HistoryWriter
	commands   *billingapp.CommandService
	queries    *billingapp.QueryService
	sweeper    *billingapp.Sweeper
	statements *ledgerapp.StatementService
	propagator *vendorapp.Propagator
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	loc, err := cfg.Engine.Location()
	if err != nil {
		return nil, err
	}
	minAmount, err := cfg.Engine.MinAmount()
	if err != nil {
		return nil, err
	}
	vocab, err := cfg.Engine.Vocabulary()
	if err != nil {
		return nil, err
	}
	a := &app{loc: loc, opts: billing.ExpandOptions{MinAmount: minAmount, Vocabulary: vocab}}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.sqlDB = db
		a.charges = chargepg.NewChargeRepository(db)
		a.entries = ledgerpg.NewEntryRepository(db)
		a.accounts = vendorpg.NewAccountRepository(db)
		a.outbox = eventpg.NewOutboxStore(db)
		a.processed = eventpg.NewProcessedStore(db)
		a.dlq = eventpg.NewDLQStore(db)
		a.access = audit.NewRepository(db)
	case config.DriverBolt:
		db, err := boltdb.Open(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("bolt: %w", err)
		}
		a.boltDB = db
		a.charges = chargebolt.NewChargeRepository(db)
		a.entries = ledgerbolt.NewEntryRepository(db)
		a.accounts = vendorbolt.NewAccountRepository(db)
		a.outbox = eventbolt.NewOutboxStore(db)
		a.processed = eventbolt.NewProcessedStore(db)
		a.dlq = eventbolt.NewDLQStore(db)
		a.access = audit.NewLogWriter(logger.WithComponent("audit"))
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if err := a.wire(cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(cfg config.Config) error {
	var err error
	a.publisher = eventing.NewPublisher(a.outbox, logger.WithComponent("outbox"))
	a.syncer, err = ledgerapp.NewSynchronizer(a.entries, ledgerapp.SystemClock{}, logger.WithComponent("ledger_sync"))
	if err != nil {
		return err
	}
	a.writer, err = billingapp.NewHistoryWriter(a.charges, logger.WithComponent("history"),
		billingapp.WithMaxAttempts(cfg.Engine.Audit.MaxAttempts),
		billingapp.WithRetryBackoff(cfg.Engine.Audit.RetryBackoff),
		billingapp.WithLocation(a.loc),
	)
	if err != nil {
		return err
	}
	a.commands, err = billingapp.NewCommandService(a.charges, a.writer, a.syncer, a.publisher, a.opts.Vocabulary, logger.WithComponent("billing"))
	if err != nil {
		return err
	}
	a.sweeper, err = billingapp.NewSweeper(a.charges, a.writer, a.opts, logger.WithComponent("overdue_sweep"))
	if err != nil {
		return err
	}
	a.queries, err = billingapp.NewQueryService(a.charges, a.sweeper, a.opts, a.loc, logger.WithComponent("charge_queries"))
	if err != nil {
		return err
	}
	a.statements, err = ledgerapp.NewStatementService(a.entries, ledgerapp.SystemClock{})
	if err != nil {
		return err
	}
	a.propagator, err = vendorapp.NewPropagator(a.accounts, a.entries, vendorapp.SystemClock{}, logger.WithComponent("vendor_propagation"))
	if err != nil {
		return err
	}
	alerts, err := newNotifier(cfg.Notify)
	if err != nil {
		return err
	}
	a.commands.SetMinAmount(a.opts.MinAmount)
	a.commands.SetAlerter(alerts)
	a.propagator.SetAlerter(alerts)
	return nil
}

func newNotifier(cfg config.NotifyConfig) (*notify.Notifier, error) {
	log := logger.WithComponent("notify")
	var channel notify.Channel = notify.NewLogChannel(log)
	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookChannel(cfg.WebhookURL)
		if err != nil {
			return nil, err
		}
		channel = notify.NewMultiChannel(channel, webhook)
	}
	return notify.NewNotifier(channel, nil, notify.WithDedupeWindow(cfg.DedupeWindow), notify.WithLogger(log))
}

// dispatcher builds the outbox dispatcher with the ledger retry consumer
// subscribed.
func (a *app) dispatcher(cfg config.Config, log zerolog.Logger) (*eventing.Dispatcher, error) {
	registry := eventing.NewRegistry()
	registry.Register(billingapp.LedgerSyncRequested{})

	retry, err := billingapp.NewLedgerRetryHandler(a.charges, a.syncer, logger.WithComponent("ledger_retry"))
	if err != nil {
		return nil, err
	}
	bus := eventing.NewInMemoryBus()
	eventing.Subscribe(bus, eventing.EventTypeOf[billingapp.LedgerSyncRequested](), billingapp.LedgerRetryConsumer, retry.Handle, a.processed)

	return eventing.NewDispatcher(bus, a.outbox, registry, a.dlq,
		eventing.WithMaxAttempts(cfg.Engine.Outbox.MaxAttempts),
		eventing.WithDispatcherLogger(log),
	), nil
}

func (a *app) initMetrics() {
	metrics.Init(a.sqlDB, logger.WithComponent("metrics"))
}

// Close releases the underlying store.
func (a *app) Close() {
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	if a.boltDB != nil {
		_ = a.boltDB.Close()
	}
}
