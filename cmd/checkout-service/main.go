package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/itayshmool/ucp-payments-go/internal/api"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/coordinator"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/handler"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/ledger"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/registry"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/store"
	"github.com/itayshmool/ucp-payments-go/pkg/contracts"
	"github.com/itayshmool/ucp-payments-go/pkg/kafka"
	"github.com/itayshmool/ucp-payments-go/pkg/metrics"
	"github.com/itayshmool/ucp-payments-go/pkg/outbox"
)

type cfg struct {
	Port           string
	DatabaseURL    string
	KafkaBrokers   string
	EventsTopic    string
	HandlersConfig string
	MintTimeout    time.Duration
	OutboxInterval time.Duration
}

func readCfg() (cfg, error) {
	mintMS, err := strconv.Atoi(getenv("MINT_TIMEOUT_MS", "5000"))
	if err != nil || mintMS <= 0 {
		return cfg{}, errors.New("MINT_TIMEOUT_MS must be a positive integer")
	}
	relayMS, err := strconv.Atoi(getenv("OUTBOX_RELAY_MS", "500"))
	if err != nil || relayMS <= 0 {
		return cfg{}, errors.New("OUTBOX_RELAY_MS must be a positive integer")
	}
	return cfg{
		Port:           getenv("PORT", "8080"),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		KafkaBrokers:   strings.TrimSpace(os.Getenv("KAFKA_BROKERS")),
		EventsTopic:    getenv("EVENTS_TOPIC", "checkout-events"),
		HandlersConfig: strings.TrimSpace(os.Getenv("HANDLERS_CONFIG")),
		MintTimeout:    time.Duration(mintMS) * time.Millisecond,
		OutboxInterval: time.Duration(relayMS) * time.Millisecond,
	}, nil
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handlers, err := handler.LoadConfig(cfg.HandlersConfig)
	if err != nil {
		log.Fatalf("handler config error: %v", err)
	}

	var (
		checkouts   store.CheckoutStore
		instruments store.InstrumentStore
		records     store.IdempotencyStore
		txRunner    store.TxRunner
		pool        *pgxpool.Pool
	)
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
		defer cancel()
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect error: %v", err)
		}
		defer pool.Close()
		if err := store.EnsureSchema(ctx, pool); err != nil {
			log.Fatalf("db schema error: %v", err)
		}
		checkouts = store.NewPostgresCheckoutStore(pool)
		instruments = store.NewPostgresInstrumentStore(pool)
		records = store.NewPostgresIdempotencyStore(pool)
		txRunner = store.NewPgxTxRunner(pool)
	} else {
		checkouts = store.NewMemoryCheckoutStore()
		instruments = store.NewMemoryInstrumentStore()
		records = store.NewMemoryIdempotencyStore()
	}

	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	var publisher contracts.Publisher = contracts.NopPublisher{}
	switch {
	case pool != nil:
		// Events go through the outbox table; the relay drains them
		// to Kafka when a broker is configured.
		publisher = &outbox.Publisher{Pool: pool, Topic: cfg.EventsTopic}
		if kafkaClient.Enabled() {
			go outbox.Relay(rootCtx, pool, kafkaClient, "checkout-service", cfg.OutboxInterval)
		}
	case kafkaClient.Enabled():
		p, err := kafka.NewEventPublisher(kafkaClient, cfg.EventsTopic)
		if err != nil {
			log.Fatalf("kafka error: %v", err)
		}
		defer p.Close()
		publisher = p
	}

	instrumentRegistry := registry.New(instruments, handlers)
	idemLedger := ledger.New(records)
	coord := coordinator.New(checkouts, instrumentRegistry, idemLedger, publisher, txRunner)

	srvMetrics := metrics.NewServerMetrics("checkout_service")
	apiHandler := &api.Handler{
		Coordinator: coord,
		Registry:    instrumentRegistry,
		Checkouts:   checkouts,
		Publisher:   publisher,
		Metrics:     srvMetrics,
		MintTimeout: cfg.MintTimeout,
	}

	mux := api.NewRouter(apiHandler)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"db_error"}`))
				srvMetrics.Record("health", http.StatusServiceUnavailable, start)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
		srvMetrics.Record("health", http.StatusOK, start)
	})
	mux.Handle("GET /metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("checkout-service listening on :%s (durable=%v, kafka=%v)", cfg.Port, pool != nil, kafkaClient.Enabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	case <-rootCtx.Done():
		// Signal received: stop the relay via rootCtx and drain the
		// server before exiting.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
