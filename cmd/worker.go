package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/venue-research/internal/schedule"
)

var workerMetricsPort int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker for research sweeps",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		reg := newRegistry()
		env, err := initPipeline(ctx, reg)
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		if workerMetricsPort > 0 {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", workerMetricsPort),
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					zap.L().Error("worker metrics server failed", zap.Error(err))
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		w := schedule.NewWorker(c, cfg.Temporal.TaskQueue, &schedule.Activities{Runner: env.Orchestrator})
		zap.L().Info("starting worker",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("namespace", cfg.Temporal.Namespace),
			zap.String("task_queue", cfg.Temporal.TaskQueue),
		)
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "worker run")
		}
		return nil
	},
}

// dialTemporal connects to the configured Temporal frontend.
func dialTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    schedule.NewLogger(zap.L()),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dial temporal %s", cfg.Temporal.HostPort)
	}
	return c, nil
}

func init() {
	workerCmd.Flags().IntVar(&workerMetricsPort, "metrics-port", 0, "serve /metrics on this port (0 disables)")
	rootCmd.AddCommand(workerCmd)
}
