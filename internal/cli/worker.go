package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"chainquiz-service/internal/chain"
	"chainquiz-service/internal/config"
	"chainquiz-service/internal/infra/postgres"
	"chainquiz-service/internal/settlement"
)

// NewWorkerCmd builds the CLI subcommand that runs the settlement worker.
func NewWorkerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the settlement worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), *configPath)
		},
	}
}

func runWorker(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger()

	if err := runMigrationsWithConfig(ctx, cfg); err != nil {
		return err
	}
	db := openBunDB(cfg.Postgres.URL)
	defer db.Close()

	relay := chain.NewClient(cfg.Chain.RelayURL, cfg.Chain.SignerAddress,
		config.TTLDuration(cfg.Chain.ConfirmTimeout, 90*time.Second))

	registry := prometheus.NewRegistry()
	metrics := settlement.NewMetrics(registry)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("metrics server failed")
		}
	}()
	defer metricsServer.Close()

	worker := settlement.NewWorker(
		postgres.NewJobStore(db),
		relay,
		config.TTLDuration(cfg.Worker.Interval, 5*time.Second),
		log,
		metrics,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-stop:
			log.Info("signal received, stopping worker")
			cancel()
		case <-runCtx.Done():
		}
	}()

	return worker.Run(runCtx)
}
