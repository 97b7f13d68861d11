package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/knightchaser/ticksched/internal/config"
	"github.com/knightchaser/ticksched/internal/logging"
	"github.com/knightchaser/ticksched/internal/metrics"
	"github.com/knightchaser/ticksched/internal/sched"
	"github.com/knightchaser/ticksched/internal/server"
	"github.com/knightchaser/ticksched/internal/workload"
)

func newRunCmd() *cobra.Command {
	var (
		duration time.Duration
		csvPath  string
		httpAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured tasks until interrupted or --duration elapses",
		Long: `Run registers the tasks and interrupts of the configuration file and
starts the scheduler. Without a task list a small demo set is used.
Per-task statistics are printed on exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if csvPath != "" {
				cfg.CSVLog = csvPath
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			if len(cfg.Tasks) == 0 && len(cfg.Interrupts) == 0 {
				cfg.Tasks, cfg.Interrupts = demoTasks(), demoInterrupts()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return run(ctx, cmd, cfg)
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Write scheduler events to this CSV file")
	cmd.Flags().StringVar(&httpAddr, "http", "", "Serve diagnostics on this address, e.g. :8080")
	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, cfg config.File) error {
	logger := logging.NewWithWriter(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format, cmd.ErrOrStderr())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	col, err := metrics.NewCollector("ticksched", reg)
	if err != nil {
		return err
	}

	s := sched.New(cfg.Scheduler, sched.WithLogger(logger), sched.WithRecorder(col))
	defer s.Close()

	if cfg.CSVLog != "" {
		if err := s.EnableCSVLogging(cfg.CSVLog); err != nil {
			return err
		}
	}

	flags, err := cfg.Register(s)
	if err != nil {
		return err
	}

	if cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           server.New(s, flags, reg, logger).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.HTTPAddr).Msg("diagnostics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("diagnostics server listening")
	}

	s.Start()
	<-ctx.Done()
	if err := s.Close(); err != nil {
		logger.Error().Err(err).Msg("close csv log")
	}

	fmt.Fprintln(cmd.OutOrStdout(), s.StatsString())
	return nil
}

// demoTasks mirrors a small telemetry dashboard: a heartbeat, a telemetry poll that
// sometimes fails, and a UI refresh with a soft deadline.
func demoTasks() []config.TaskDef {
	return []config.TaskDef{
		{
			Name: "heartbeat", Kind: "interval", Priority: 5, IntervalMS: 100,
			MissedPolicy: sched.Skip.String(), Work: workload.Spec{Type: "noop"},
		},
		{
			Name: "telemetry", Kind: "interval", Priority: 3, IntervalMS: 50,
			MissedPolicy: sched.CatchUp.String(), Work: workload.Spec{Type: "fail", MS: 1, Every: 20},
		},
		{
			Name: "ui-refresh", Kind: "deadline", Priority: 1, DeadlineMS: 16,
			Work: workload.Spec{Type: "busy", MS: 1},
		},
	}
}

func demoInterrupts() []config.InterruptDef {
	watchdog, estop := 2, 9
	return []config.InterruptDef{
		{Name: "watchdog", Priority: &watchdog, When: workload.Condition{Type: "every", Every: 200}},
		{Name: "estop", Priority: &estop, When: workload.Condition{Type: "flag"}},
	}
}
