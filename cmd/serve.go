package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	apihttp "finance-backoffice/internal/api/http"
	"finance-backoffice/internal/auth"
	billingapp "finance-backoffice/internal/billing/application"
	billinghttp "finance-backoffice/internal/billing/interfaces/http"
	"finance-backoffice/internal/eventing"
	ledgerhttp "finance-backoffice/internal/ledger/interfaces/http"
	"finance-backoffice/internal/logger"
	vendorhttp "finance-backoffice/internal/vendorpay/interfaces/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the overdue sweep and outbox dispatcher loops",
	Example: `  # Postgres store
  DATABASE_URL=postgres://... AUTH_JWT_SECRET=... backoffice serve

  # Embedded store, no background sweep
  STORE_DRIVER=bolt backoffice serve --no-sweep`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("no-sweep", false, "Disable the scheduled overdue sweep")
	serveCmd.Flags().Bool("no-dispatch", false, "Disable the outbox dispatcher loop")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")
	if cfg.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required")
	}
	noSweep, _ := cmd.Flags().GetBool("no-sweep")
	noDispatch, _ := cmd.Flags().GetBool("no-dispatch")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.initMetrics()

	chargeHandler, err := billinghttp.NewHandler(a.commands, a.queries, a.access, a.loc, logger.WithComponent("charges_http"))
	if err != nil {
		return err
	}
	ledgerHandler, err := ledgerhttp.NewHandler(a.statements, a.access, a.loc, logger.WithComponent("ledger_http"))
	if err != nil {
		return err
	}
	vendorHandler, err := vendorhttp.NewHandler(a.propagator, a.access, a.loc, logger.WithComponent("vendor_http"))
	if err != nil {
		return err
	}
	csvHandler, err := apihttp.NewExportLedgerCSVHandler(a.statements, a.loc)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/charges", chargeHandler)
	mux.Handle("/api/v1/charges/", chargeHandler)
	mux.Handle("/api/v1/ledger/", ledgerHandler)
	mux.Handle("/api/v1/vendor-accounts", vendorHandler)
	mux.Handle("/api/v1/vendor-accounts/", vendorHandler)
	mux.Handle("/api/v1/exports/ledger.csv", csvHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy, logger.WithComponent("auth"))

	if !noSweep {
		scheduler := billingapp.NewScheduler(a.sweeper, cfg.Engine.Sweep.Interval, cfg.Engine.Sweep.DailyAt, logger.WithComponent("sweep_scheduler"))
		go scheduler.Start(ctx)
	}
	if !noDispatch {
		dispatcher, err := a.dispatcher(cfg, logger.WithComponent("dispatcher"))
		if err != nil {
			return err
		}
		go runDispatchLoop(ctx, dispatcher, cfg.Engine.Outbox.Interval, cfg.Engine.Outbox.BatchSize)
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apihttp.LoggingMiddleware(authMiddleware.Wrap(mux), logger.WithComponent("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.StoreDriver).Msg("http listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	return server.Shutdown(shutdownCtx)
}

func runDispatchLoop(ctx context.Context, dispatcher *eventing.Dispatcher, interval time.Duration, batch int) {
	log := logger.WithComponent("dispatcher")
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := dispatcher.Dispatch(ctx, batch); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("outbox dispatch failed")
			}
		}
	}
}
