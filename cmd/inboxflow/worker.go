package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxflow/internal/execute"
	"github.com/joshsymonds/inboxflow/internal/resolve"
	"github.com/joshsymonds/inboxflow/internal/schedule"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the delayed-action worker",
	Long: `Poll the schedule queue and execute actions whose delay has elapsed.
Actions in the queue have already passed approval, so they run directly.
Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		executors := map[string]*execute.Executor{}
		run := func(ctx context.Context, action resolve.Action) error {
			x, ok := executors[action.AccountID]
			if !ok {
				acct, err := cfg.Account(action.AccountID)
				if err != nil {
					return err
				}
				client, err := newMailClient(ctx, acct)
				if err != nil {
					return err
				}
				x = newExecutor(client)
				executors[action.AccountID] = x
			}
			res := x.Run(ctx, action)
			if res.Error != "" {
				return errors.New(res.Error)
			}
			return nil
		}

		if cfg.Metrics.Addr != "" {
			go serveMetrics(ctx, cfg.Metrics.Addr)
		}

		poller := schedule.NewPoller(st.Schedule(), run, logger)
		poller.Interval = cfg.PollInterval()
		logger.Info("worker started", "interval", poller.Interval)
		err := poller.Start(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
