package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/studiowebux/surge/internal/cli"
	"github.com/studiowebux/surge/internal/config"
	"github.com/studiowebux/surge/internal/logging"
	"github.com/studiowebux/surge/internal/stresstest"
	"github.com/studiowebux/surge/internal/workload"
)

var (
	version = "0.1.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "surge",
	Short: "surge - concurrent HTTP load generator",
	Long: `surge opens many persistent connections to one HTTP server and drives
load through them, reporting throughput, latency percentiles and errors.

Every flag can also be set in ~/.surge/config.yaml or through a SURGE_*
environment variable (SURGE_MAX_REQUESTS_PER_CONN=500).

Examples:
  surge run --port 8080 --requests 100000 --concurrency 50
  surge run --port 8080 --preset mix --output json
  surge sustained --port 8080 --duration 5m --concurrency 100 --rate 2000
  surge staircase --port 8080 --levels 1,10,50,100 --requests-per-level 5000
  surge spike --port 8080 --baseline 10 --spike 200 --spike-duration 30s
  surge history list`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Send a fixed number of requests",
	Args:  cobra.NoArgs,
	RunE:  runPattern(stresstest.PatternCount),
}

var sustainedCmd = &cobra.Command{
	Use:   "sustained",
	Short: "Hold a fixed concurrency for a duration",
	Args:  cobra.NoArgs,
	RunE:  runPattern(stresstest.PatternSustained),
}

var staircaseCmd = &cobra.Command{
	Use:   "staircase",
	Short: "Step through increasing concurrency levels and find the peak",
	Args:  cobra.NoArgs,
	RunE:  runPattern(stresstest.PatternStaircase),
}

var spikeCmd = &cobra.Command{
	Use:   "spike",
	Short: "Add a burst of workers on top of a baseline and watch recovery",
	Args:  cobra.NoArgs,
	RunE:  runPattern(stresstest.PatternSpike),
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the built-in workload presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range workload.PresetNames() {
			plan, err := workload.Preset(name)
			if err != nil {
				return err
			}
			spec := plan.Spec()
			line := fmt.Sprintf("%-10s %d endpoints", name, len(spec.Endpoints))
			if spec.PostRatio > 0 {
				line += fmt.Sprintf(", %.0f%% POST %s", spec.PostRatio*100, spec.PostPath)
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect saved runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := historyOptions(cmd)
		if err != nil {
			return err
		}
		return cli.ListRuns(opts)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the report of a saved run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := historyOptions(cmd)
		if err != nil {
			return err
		}
		return cli.ShowRun(opts, args[0])
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := historyOptions(cmd)
		if err != nil {
			return err
		}
		return cli.DeleteRun(opts, args[0])
	},
}

// Flags shared by every command
var (
	flagConfig string
)

// Flags for history list
var (
	historyLimit int
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Config file (default ~/.surge/config.yaml)")
	pf.String(cli.KeyHost, "127.0.0.1", "Target host")
	pf.Int(cli.KeyPort, 8080, "Target port")
	pf.String(cli.KeyName, "", "Name recorded with the run")
	pf.String(cli.KeyPreset, workload.DefaultPreset, "Built-in workload preset (see 'surge presets')")
	pf.String(cli.KeyWorkload, "", "Workload YAML file, or a name in ~/.surge/workloads")
	pf.Int(cli.KeyMaxRequestsPerConn, stresstest.DefaultMaxRequestsPerConn, "Requests per connection before reconnecting (0 = never)")
	pf.Bool(cli.KeyKeepAlive, true, "Send Connection: keep-alive")
	pf.Int(cli.KeyChunkSize, 0, "Response read size in bytes (0 = pick from workload)")
	pf.Int(cli.KeySocketBuffer, stresstest.DefaultSocketBuffer, "Socket receive buffer for large-payload workloads")
	pf.Duration(cli.KeyConnectTimeout, stresstest.DefaultConnectTimeout, "Connect timeout")
	pf.Duration(cli.KeyReadTimeout, stresstest.DefaultReadTimeout, "Per-response read timeout")
	pf.Duration(cli.KeyWriteTimeout, stresstest.DefaultWriteTimeout, "Per-request write timeout")
	pf.Int(cli.KeySampleCapacity, 0, "Latency samples kept for percentiles (0 = 100000)")
	pf.String(cli.KeySampling, "fill", "Sample store mode once full (fill/reservoir)")
	pf.StringP(cli.KeyOutput, "o", "text", "Output format (text/json/yaml)")
	pf.Bool(cli.KeySave, false, "Save the run to the history database")
	pf.String(cli.KeyDB, "", "History database (default ~/.surge/surge.db)")
	pf.String(cli.KeyMetricsAddr, "", "Serve Prometheus metrics on host:port during the run")
	pf.String(cli.KeyLogLevel, string(logging.LevelInfo), "Log level (debug/info/warn/error)")
	pf.String(cli.KeyLogFormat, string(logging.FormatConsole), "Log format (console/json)")
	pf.Int(cli.KeyPreflightAttempts, stresstest.DefaultPreflightAttempts, "Connect probes before giving up on the target")

	// run flags
	runCmd.Flags().IntP(cli.KeyRequests, "n", 10000, "Total requests")
	runCmd.Flags().IntP(cli.KeyConcurrency, "c", 10, "Concurrent connections")
	runCmd.Flags().Duration(cli.KeyRampUp, 0, "Spread connection starts over this duration")
	runCmd.Flags().Duration(cli.KeyDuration, 0, "Stop after this duration even if requests remain (0 = no cap)")
	runCmd.Flags().Duration(cli.KeyReport, stresstest.DefaultReportInterval, "Progress report interval")

	// sustained flags
	sustainedCmd.Flags().IntP(cli.KeyConcurrency, "c", 10, "Concurrent connections")
	sustainedCmd.Flags().Duration(cli.KeyDuration, time.Minute, "Run length")
	sustainedCmd.Flags().Float64(cli.KeyRate, 0, "Requests per second across all connections (0 = unpaced)")
	sustainedCmd.Flags().Duration(cli.KeyRampUp, 0, "Spread connection starts over this duration")
	sustainedCmd.Flags().Duration(cli.KeyReport, stresstest.DefaultReportInterval, "Progress report interval")

	// staircase flags
	staircaseCmd.Flags().String(cli.KeyLevels, "1,5,10,25,50,100", "Comma separated concurrency levels")
	staircaseCmd.Flags().Int(cli.KeyRequestsPerLevel, 1000, "Requests at each level")
	staircaseCmd.Flags().Int(cli.KeyWarmup, 0, "Warm-up requests before the first level")
	staircaseCmd.Flags().Int(cli.KeyWarmupConcurrency, 5, "Warm-up concurrency")
	staircaseCmd.Flags().Duration(cli.KeyRampUp, 0, "Spread connection starts over this duration at each level")
	staircaseCmd.Flags().Duration(cli.KeyReport, stresstest.DefaultReportInterval, "Progress report interval")

	// spike flags
	spikeCmd.Flags().Int(cli.KeyBaseline, 10, "Baseline workers")
	spikeCmd.Flags().Int(cli.KeySpike, 100, "Extra workers during the spike")
	spikeCmd.Flags().Duration(cli.KeyBaselineDuration, 30*time.Second, "Baseline phase length")
	spikeCmd.Flags().Duration(cli.KeySpikeDuration, 30*time.Second, "Spike phase length")
	spikeCmd.Flags().Duration(cli.KeyRecoveryDuration, 30*time.Second, "Recovery phase length")
	spikeCmd.Flags().Duration(cli.KeyRampUp, 0, "Spread baseline starts over this duration")
	spikeCmd.Flags().Duration(cli.KeyReport, stresstest.DefaultReportInterval, "Progress report interval")

	// history flags
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to list (0 = all)")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sustainedCmd)
	rootCmd.AddCommand(staircaseCmd)
	rootCmd.AddCommand(spikeCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(historyCmd)
}

// settings initializes ~/.surge and merges flags, environment and config file
func settings(cmd *cobra.Command) (*viper.Viper, error) {
	if err := config.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}
	v, err := config.NewViper(flagConfig)
	if err != nil {
		return nil, err
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

func dbPath(v *viper.Viper) string {
	if p := v.GetString(cli.KeyDB); p != "" {
		return p
	}
	return config.DatabasePath
}

func runPattern(pattern stresstest.Pattern) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		v, err := settings(cmd)
		if err != nil {
			return err
		}

		logger, err := logging.New(logging.Config{
			Level:  logging.LogLevel(v.GetString(cli.KeyLogLevel)),
			Format: logging.LogFormat(v.GetString(cli.KeyLogFormat)),
		})
		if err != nil {
			return err
		}
		defer logger.Sync()

		cfg, err := cli.ConfigFromViper(v, pattern)
		if err != nil {
			return fmt.Errorf("invalid run configuration: %w", err)
		}
		plan, err := cli.PlanFromViper(v)
		if err != nil {
			return fmt.Errorf("failed to load workload: %w", err)
		}

		err = cli.Run(context.Background(), cli.RunOptions{
			Config:            cfg,
			Plan:              plan,
			OutputFormat:      v.GetString(cli.KeyOutput),
			Save:              cli.SaveEnabled(v),
			DBPath:            dbPath(v),
			MetricsAddr:       v.GetString(cli.KeyMetricsAddr),
			PreflightAttempts: v.GetInt(cli.KeyPreflightAttempts),
			Logger:            logger,
			Stdout:            cmd.OutOrStdout(),
			Stderr:            cmd.ErrOrStderr(),
		})
		if cli.IsPreflightError(err) {
			logger.Error("target unreachable", zap.String("target", cfg.Addr()), zap.Error(err))
		}
		return err
	}
}

func historyOptions(cmd *cobra.Command) (cli.HistoryOptions, error) {
	v, err := settings(cmd)
	if err != nil {
		return cli.HistoryOptions{}, err
	}
	return cli.HistoryOptions{
		DBPath:       dbPath(v),
		OutputFormat: v.GetString(cli.KeyOutput),
		Limit:        historyLimit,
		Stdout:       cmd.OutOrStdout(),
	}, nil
}
