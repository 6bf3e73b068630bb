package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marginledger/internal/api"
	"marginledger/internal/feed"
	"marginledger/internal/ledger"
	"marginledger/internal/observability"
	"marginledger/internal/sweep"
)

// Config holds all application configuration, loaded from environment
// variables with sensible local-dev defaults.
type Config struct {
	NATSURL string

	HTTPAddr    string
	MetricsAddr string

	SeedCash     float64
	TickChanSize int
}

func DefaultConfig() Config {
	return Config{
		NATSURL:      envOrDefault("MARGIN_NATS_URL", "nats://localhost:4222"),
		HTTPAddr:     envOrDefault("MARGIN_HTTP_ADDR", ":8080"),
		MetricsAddr:  envOrDefault("MARGIN_METRICS_ADDR", ":9091"),
		SeedCash:     envFloatOrDefault("MARGIN_SEED_CASH", 10_000),
		TickChanSize: envIntOrDefault("MARGIN_TICK_CHAN_SIZE", 4096),
	}
}

func main() {
	// .env is optional; real deployments set the environment directly.
	godotenv.Load()

	log := observability.NewLogger("marginledger")
	log.Info().Msg("margin ledger starting")

	cfg := DefaultConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker("marginledger")

	// --- Ledger ---
	book := ledger.New()
	book.Deposit(ledger.CashAsset, cfg.SeedCash)
	log.Info().Float64("amount", cfg.SeedCash).Msg("seeded cash balance")

	sweeper := sweep.New(book, observability.NewLogger("sweep"), metrics)

	// --- NATS ---
	nc, js, err := feed.ConnectNATS(cfg.NATSURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	log.Info().Str("url", cfg.NATSURL).Msg("NATS connected")

	if err := feed.EnsureTickStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure tick stream")
	}
	if err := feed.EnsureUpdateStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure update stream")
	}

	// --- Feed pipeline ---
	publisher := feed.NewUpdatePublisher(js)
	adapter := feed.NewAdapter(sweeper, publisher, observability.NewLogger("feed"), metrics)

	tickChan := make(chan feed.RawTick, cfg.TickChanSize)
	subscriber := feed.NewSubscriber(js, tickChan, observability.NewLogger("feed"))
	if err := subscriber.Subscribe(ctx); err != nil {
		log.Fatal().Err(err).Msg("nats subscribe")
	}

	// --- API server ---
	apiServer := api.NewServer(book, observability.NewLogger("api"), metrics, healthChecker)

	errChan := make(chan error, 4)

	// 1. Tick consumption loop: NATS → adapter → per-asset workers.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-tickChan:
				if !ok {
					return
				}
				adapter.HandleRaw(ctx, raw.Data)
			}
		}
	}()

	// 2. REST API.
	go func() {
		errChan <- apiServer.Start(ctx, cfg.HTTPAddr)
	}()

	// 3. Prometheus metrics server.
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// 4. State gauges, sampled rather than updated inline so the hot path
	// stays free of gauge writes.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.OpenPositions.Set(float64(len(book.OpenPositions(""))))
				metrics.CashBalance.Set(book.Balance(ledger.CashAsset))
			}
		}
	}()

	healthChecker.SetReady(true)
	log.Info().
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("margin ledger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	healthChecker.SetReady(false)

	// Stop intake first, then drain in-flight ticks, then release servers.
	subscriber.Stop()
	adapter.Close()
	cancel()

	log.Info().Msg("margin ledger shutdown complete")
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloatOrDefault(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
