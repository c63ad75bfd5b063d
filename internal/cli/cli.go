package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/studiowebux/surge/internal/metrics"
	"github.com/studiowebux/surge/internal/report"
	"github.com/studiowebux/surge/internal/stresstest"
	"github.com/studiowebux/surge/internal/workload"
)

// RunOptions contains everything needed to run one load test in CLI mode
type RunOptions struct {
	Config *stresstest.Config
	Plan   *workload.Plan

	OutputFormat string // text, json, yaml
	Save         bool
	DBPath       string
	MetricsAddr  string

	PreflightAttempts int
	PreflightInterval time.Duration

	Logger *zap.Logger
	Stdout io.Writer // report output, os.Stdout when nil
	Stderr io.Writer // warnings, os.Stderr when nil
}

// Run checks the target is reachable, runs the test and prints the report.
// Only an unreachable target or invalid options produce an error; failed
// requests during the run never do.
func Run(ctx context.Context, opts RunOptions) error {
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if !report.ValidFormat(opts.OutputFormat) {
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", opts.OutputFormat)
	}

	// Handle Ctrl+C and SIGTERM for graceful cancellation
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	attempts := opts.PreflightAttempts
	if attempts <= 0 {
		attempts = stresstest.DefaultPreflightAttempts
	}
	interval := opts.PreflightInterval
	if interval <= 0 {
		interval = stresstest.DefaultPreflightInterval
	}

	addr := opts.Config.Addr()
	logger.Info("waiting for target", zap.String("target", addr), zap.Int("attempts", attempts))
	if err := stresstest.Preflight(ctx, addr, attempts, interval, stresstest.DefaultPreflightTimeout); err != nil {
		return err
	}

	// Progress goes to stderr when stdout carries machine-readable output
	progress := stdout
	if opts.OutputFormat == report.FormatJSON || opts.OutputFormat == report.FormatYAML {
		progress = stderr
	}

	exec, err := stresstest.NewExecutor(opts.Config, opts.Plan,
		stresstest.WithLogger(logger),
		stresstest.WithProgress(progress))
	if err != nil {
		return err
	}

	if opts.MetricsAddr != "" {
		collector := metrics.NewCollector(exec, prometheus.Labels{"run_id": exec.ID()})
		srv, err := metrics.NewServer(opts.MetricsAddr, collector, logger)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer stopMetrics(srv, logger, 5*time.Second)
	}

	rep, err := exec.Run(ctx)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if err := report.Render(stdout, rep, opts.OutputFormat); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}

	if opts.Save {
		if err := saveRun(opts.DBPath, rep); err != nil {
			// Don't fail the run if history save fails
			logger.Warn("failed to save run", zap.Error(err))
			fmt.Fprintf(stderr, "Warning: failed to save run: %v\n", err)
		} else {
			logger.Info("run saved", zap.String("run_id", rep.ID), zap.String("db", opts.DBPath))
		}
	}

	return nil
}

// stopMetrics shuts the metrics server down; the report is already out, so
// a failure is only logged
func stopMetrics(srv *metrics.Server, logger *zap.Logger, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warn("failed to stop metrics server", zap.Error(err))
	}
}

func saveRun(dbPath string, rep *stresstest.Report) error {
	mgr, err := stresstest.NewManager(dbPath)
	if err != nil {
		return err
	}
	defer mgr.Close()
	return mgr.SaveRun(rep)
}

// IsPreflightError reports whether err means the target was never reachable
func IsPreflightError(err error) bool {
	return errors.Is(err, stresstest.ErrPreflight)
}
