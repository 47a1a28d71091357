/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the lead distribution server: configuration,
  dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from environment (config package)
  2. Initialize SQLite store
  3. Wire wallet, recharger, filter, dispatcher, engine
  4. Configure HTTP router
  5. Start server with graceful shutdown

FLAGS:
  -db    Override DB_PATH (":memory:" for in-memory)
  -seed  Insert demo buyers/campaigns/subscriptions on startup

EXTERNAL COLLABORATORS:
  The payment gateway and notifier are external systems. This binary
  wires log-only development stand-ins; production deployments inject
  real implementations of market.PaymentGateway and market.Notifier.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, wait for active
  requests (30s timeout), drain the notification queue, close the
  database.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/lead-engine/api"
	"github.com/warp/lead-engine/config"
	"github.com/warp/lead-engine/market"
	"github.com/warp/lead-engine/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	seed := flag.Bool("seed", false, "seed demo data on startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log)

	path := cfg.DB.Path
	if *dbPath != "" {
		path = *dbPath
	}
	store, err := sqlite.New(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("failed to initialize database")
	}
	defer store.Close()

	if *seed {
		if err := api.SeedDemo(context.Background(), store); err != nil {
			log.Fatal().Err(err).Msg("seeding failed")
		}
		log.Info().Msg("demo data seeded")
	}

	wallet := market.NewWallet(store, store)
	recharger := market.NewRecharger(store, wallet, &devGateway{log: log}, log)
	filter := market.NewFilter(store, recharger, log)

	dispatcher := market.NewDispatcher(&devNotifier{log: log}, log)
	dispatcher.Workers = cfg.Notifier.Workers
	dispatcher.QueueSize = cfg.Notifier.QueueSize
	dispatcher.Start()
	defer dispatcher.Stop()

	engine := market.NewEngine(store, wallet, filter, dispatcher, log)
	handler := api.NewHandler(store, engine, wallet, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Uint16("port", cfg.HTTP.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server stopped")
}

func newLogger(cfg config.Log) zerolog.Logger {
	var log zerolog.Logger
	if cfg.Format == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(cfg.ZerologLevel()).With().Timestamp().Logger()
}

// =============================================================================
// DEV STAND-INS - External collaborators for local runs
// =============================================================================

// devGateway approves every charge and logs it. Never use outside dev.
type devGateway struct{ log zerolog.Logger }

func (g *devGateway) Charge(_ context.Context, customerRef string, amount market.Money, description, paymentMethodRef string) (market.ChargeResult, error) {
	id := "ch_" + uuid.NewString()
	g.log.Info().Str("customer", customerRef).Str("amount", amount.String()).
		Str("method", paymentMethodRef).Str("charge", id).Msg(description)
	return market.ChargeResult{ID: id, Status: market.ChargeSucceeded}, nil
}

// devNotifier logs deliveries instead of sending them.
type devNotifier struct{ log zerolog.Logger }

func (n *devNotifier) NotifyEmail(_ context.Context, buyerID market.BuyerID, payload map[string]string) error {
	n.log.Info().Str("buyer", string(buyerID)).Str("lead", payload["lead_id"]).Msg("email notification")
	return nil
}

func (n *devNotifier) NotifySMS(_ context.Context, buyerID market.BuyerID, payload map[string]string) error {
	n.log.Info().Str("buyer", string(buyerID)).Str("lead", payload["lead_id"]).Msg("sms notification")
	return nil
}

func (n *devNotifier) NotifyWebhook(_ context.Context, buyerID market.BuyerID, leadID market.LeadID, payload map[string]string) error {
	n.log.Info().Str("buyer", string(buyerID)).Str("lead", string(leadID)).Msg("webhook notification")
	return nil
}
