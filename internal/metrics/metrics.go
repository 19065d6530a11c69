// Package metrics provides the prometheus collectors for popfleet and an
// optional HTTP listener exposing them.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline metrics
	pipelinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popfleet_pipelines_total",
			Help: "Total number of wallet pipelines by result",
		},
		[]string{"result"},
	)

	pipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "popfleet_pipeline_duration_seconds",
			Help:    "Wallet pipeline duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"result"},
	)

	pipelineErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popfleet_pipeline_errors_total",
			Help: "Total number of pipeline failures by step",
		},
		[]string{"step"},
	)

	// Chain activity metrics
	depositsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "popfleet_deposits_total",
			Help: "Total number of L1 to L2 deposits confirmed on both layers",
		},
	)

	tokensDeployedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "popfleet_tokens_deployed_total",
			Help: "Total number of ERC-20 contracts deployed",
		},
	)

	airdropTransfersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "popfleet_airdrop_transfers_total",
			Help: "Total number of confirmed airdrop transfers",
		},
	)

	// Discovery metrics
	blocksScannedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "popfleet_discovery_blocks_scanned_total",
			Help: "Total number of L2 blocks read by recipient discovery",
		},
	)

	recipientsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popfleet_discovery_recipients_total",
			Help: "Total number of sampled recipients by pool",
		},
		[]string{"pool"},
	)

	roundsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "popfleet_rounds_total",
			Help: "Total number of completed rounds",
		},
	)
)

// RecordPipeline records one settled pipeline.
func RecordPipeline(result string, d time.Duration) {
	pipelinesTotal.WithLabelValues(result).Inc()
	pipelineDuration.WithLabelValues(result).Observe(d.Seconds())
}

// PipelineError counts a failure at the given step.
func PipelineError(step string) {
	pipelineErrorsTotal.WithLabelValues(step).Inc()
}

// DepositConfirmed counts a deposit confirmed on both layers.
func DepositConfirmed() {
	depositsTotal.Inc()
}

// TokenDeployed counts a deployed token contract.
func TokenDeployed() {
	tokensDeployedTotal.Inc()
}

// AirdropTransfer counts a confirmed transfer.
func AirdropTransfer() {
	airdropTransfersTotal.Inc()
}

// BlocksScanned adds n to the scanned block counter.
func BlocksScanned(n int) {
	blocksScannedTotal.Add(float64(n))
}

// RecipientsSampled counts sampled recipients by pool ("eoa" or "raw").
func RecipientsSampled(pool string, n int) {
	recipientsTotal.WithLabelValues(pool).Add(float64(n))
}

// RoundCompleted counts a completed round.
func RoundCompleted() {
	roundsTotal.Inc()
}

// Router returns a chi router serving /metrics and /health.
func Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Serve exposes Router on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", slog.Any("error", err))
		}
		return nil
	}
}
