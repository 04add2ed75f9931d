package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gescom/backoffice/internal/audit"
	"github.com/gescom/backoffice/internal/config"
	"github.com/gescom/backoffice/internal/db"
	"github.com/gescom/backoffice/internal/handler"
	"github.com/gescom/backoffice/internal/invoice"
	"github.com/gescom/backoffice/internal/notify"
	"github.com/gescom/backoffice/internal/order"
	"github.com/gescom/backoffice/internal/payment"
	"github.com/gescom/backoffice/internal/product"
	"github.com/gescom/backoffice/internal/security"
	"github.com/gescom/backoffice/internal/stock"
	"github.com/gescom/backoffice/internal/transport"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "backoffice").Logger()

	log.Info().Msg("Backoffice starting...")

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if cfg.App.Env == "dev" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx := context.Background()

	database, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	if err := database.ApplyMigrations(cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	var publisher notify.Publisher = notify.Nop{}
	if cfg.AMQPURL != "" {
		publisher, err = notify.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to message broker")
		}
	}
	defer publisher.Close()

	defaultTaxRate, err := decimal.NewFromString(cfg.Invoice.DefaultTaxRate)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid INVOICE_DEFAULT_TAX_RATE")
	}

	auditLog := audit.NewPostgresLog(database.Pool)

	productRepo := product.NewRepository(database.Pool)
	catalog := product.NewCatalog(productRepo)

	stockRepo := stock.NewRepository(database.Pool)
	stockSvc := stock.NewService(stockRepo, productRepo)

	orderRepo := order.NewRepository(database.Pool)
	orderSvc := order.NewService(orderRepo, stockSvc, auditLog, catalog)

	invoiceRepo := invoice.NewRepository(database.Pool)
	invoiceSvc := invoice.NewService(invoiceRepo, orderRepo, auditLog, defaultTaxRate, cfg.Invoice.DueDays)

	// Delivered orders are invoiced automatically; wired after both
	// services exist to avoid a package cycle.
	orderSvc.SetBiller(invoiceSvc)

	store := security.NewMemoryStore(time.Minute)
	defer store.Close()
	gate := security.NewGate(store, cfg.Security)

	gateway := payment.NewCheckoutGateway(cfg.Payment)
	paymentRepo := payment.NewRepository(database.Pool)
	paymentSvc := payment.NewService(paymentRepo, invoiceSvc, gate, gateway, publisher, auditLog,
		cfg.Payment.Provider, cfg.Payment.SessionTTL)

	router := transport.NewRouter(transport.Handlers{
		Product:  handler.NewProductHandler(productRepo, auditLog),
		Stock:    handler.NewStockHandler(stockSvc),
		Order:    handler.NewOrderHandler(orderSvc),
		Invoice:  handler.NewInvoiceHandler(invoiceSvc),
		Payment:  handler.NewPaymentHandler(paymentSvc, gateway, gate),
		Security: handler.NewSecurityHandler(gate),
	}, cfg.App.TrustProxy)

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	sweeperCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go runSweeper(sweeperCtx, paymentSvc, gate, cfg.Payment.CleanupInterval)

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}

	log.Info().Msg("Backoffice stopped gracefully")
}

// runSweeper cancels payment sessions whose TTL lapsed without a
// terminal webhook.
func runSweeper(ctx context.Context, payments payment.Service, gate *security.Gate, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := payments.CleanupExpired(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to clean up expired payments")
			}
			gate.CleanupExpired(ctx)
		}
	}
}
