// Copyright (c) 2026 Khaled Abbas
//
// This source code is licensed under the Business Source License 1.1.
//
// Change Date: 4 years after the first public release of this version.
// Change License: MIT
//
// On the Change Date, this version of the code automatically converts
// to the MIT License. Prior to that date, use is subject to the
// Additional Use Grant. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"contractbench/src/config"
	"contractbench/src/containerization"
	"contractbench/src/logging"
	"contractbench/src/model"
	"contractbench/src/parser"
	"contractbench/src/processor"
	"contractbench/src/report"
)

var version = "dev"

var settings config.Settings

var analyzeFlags struct {
	tools        []string
	files        []string
	processes    int
	timeout      time.Duration
	cpuQuota     int64
	memLimit     string
	toolsDir     string
	resultsDir   string
	run          string
	sarif        string
	statusAddr   string
	skipExisting bool
	telemetry    bool
}

var rootCmd = &cobra.Command{
	Use:           "contractbench",
	Short:         "Run smart-contract analysis tools in Docker sandboxes and normalize their results.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze -t TOOL... -f FILE_OR_DIR...",
	Short: "Analyze Solidity sources (.sol) and bytecode (.hex) with one or more tools",
	Args:  cobra.ArbitraryArgs,
	RunE:  runAnalyze,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "contractbench %s\nparsers: %s\n", version, strings.Join(parser.Registered(), ", "))
	},
}

func init() {
	settings = config.Load()

	f := analyzeCmd.Flags()
	f.StringSliceVarP(&analyzeFlags.tools, "tool", "t", nil, "tool to run (repeatable)")
	f.StringSliceVarP(&analyzeFlags.files, "file", "f", nil, "file or directory to analyze (repeatable)")
	f.IntVarP(&analyzeFlags.processes, "processes", "p", settings.Processes, "number of tasks run in parallel")
	f.DurationVar(&analyzeFlags.timeout, "timeout", settings.Timeout, "per-task timeout, 0 for none")
	f.Int64Var(&analyzeFlags.cpuQuota, "cpu-quota", settings.CPUQuota, "container CPU quota in microseconds per 100ms, 0 for none")
	f.StringVar(&analyzeFlags.memLimit, "mem-limit", settings.MemLimit, "container memory limit, e.g. 4g")
	f.StringVar(&analyzeFlags.toolsDir, "tools-dir", settings.ToolsDir, "directory holding tool configurations")
	f.StringVar(&analyzeFlags.resultsDir, "results-dir", settings.ResultsDir, "directory results are written to")
	f.StringVar(&analyzeFlags.run, "run", "", "run name used in result paths (default: start time)")
	f.StringVar(&analyzeFlags.sarif, "sarif", "", "write a SARIF report for the whole run to this path")
	f.StringVar(&analyzeFlags.statusAddr, "status-addr", settings.StatusAddr, "serve /status and /metrics on this address")
	f.BoolVar(&analyzeFlags.skipExisting, "skip-existing", false, "skip (tool, file) pairs that already have a result")
	f.BoolVar(&analyzeFlags.telemetry, "telemetry", settings.Telemetry, "export OpenTelemetry traces, metrics and logs to the run log directory")
	_ = analyzeCmd.MarkFlagRequired("tool")

	rootCmd.AddCommand(analyzeCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	start := time.Now()
	opts := analyzeFlags
	opts.files = append(opts.files, args...)
	if len(opts.files) == 0 {
		return errors.New("no file or directory to analyze")
	}
	if opts.run == "" {
		opts.run = start.Format("20060102_1504")
	}

	// Setup Graceful Shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logDir := filepath.Join(opts.resultsDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	runLog, err := os.Create(filepath.Join(logDir, "contractbench_"+opts.run+".log"))
	if err != nil {
		return fmt.Errorf("creating run log: %w", err)
	}
	defer runLog.Close()
	logging.SetOutput(io.MultiWriter(os.Stderr, runLog))
	logging.Log("Arguments passed: "+strings.Join(os.Args, " "), slog.LevelInfo)

	if opts.telemetry {
		otelOut, err := os.Create(filepath.Join(logDir, "contractbench_"+opts.run+".otel.log"))
		if err != nil {
			return fmt.Errorf("creating telemetry log: %w", err)
		}
		defer otelOut.Close()
		otelShutdown, err := logging.SetupOTelSDK(ctx, otelOut)
		if err != nil {
			return fmt.Errorf("failed to setup OTel SDK: %w", err)
		}
		defer func() {
			// Ensure OTel flushes spans before exiting
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "OTel shutdown error: %v\n", err)
			}
		}()
	}

	files := collectFiles(opts.files)
	tools, err := config.LoadCatalog(opts.toolsDir, opts.tools)
	if err != nil {
		return err
	}

	var skip func(tool, file string) bool
	if opts.skipExisting {
		skip = func(tool, file string) bool {
			return processor.Done(processor.ResultDir(opts.resultsDir, tool, opts.run, file))
		}
	}
	tasks, skipped := processor.Plan(opts.tools, files, skip, func(tool, file string) model.Task {
		return model.Task{
			Tool:      tool,
			File:      file,
			Bytecode:  strings.EqualFold(filepath.Ext(file), ".hex"),
			CPUQuota:  opts.cpuQuota,
			MemLimit:  opts.memLimit,
			Timeout:   opts.timeout,
			ResultDir: processor.ResultDir(opts.resultsDir, tool, opts.run, file),
		}
	})
	if skipped > 0 {
		logging.Log(fmt.Sprintf("Skipping %d tasks with existing results", skipped), slog.LevelInfo)
	}

	cli, err := containerization.NewDockerClient()
	if err != nil {
		return fmt.Errorf("failed to create docker client: %w", err)
	}
	defer cli.Close()

	sandbox := containerization.NewSandbox(cli, tools)
	if err := sandbox.Preflight(ctx, tasks); err != nil {
		return err
	}

	runID := uuid.NewString()
	stats := processor.NewStats(runID)
	metrics := processor.NewMetrics()
	if opts.statusAddr != "" {
		go func() {
			srv := &StatusServer{stats: stats, metrics: metrics}
			if err := StartStatusServer(ctx, opts.statusAddr, srv, nil); err != nil {
				logging.Log(err.Error(), slog.LevelError)
			}
		}()
	}

	builder := report.NewBuilder()
	proc := &processor.Processor{Executor: sandbox, Collect: builder.Add}
	pool := &processor.Pool{
		Concurrency: opts.processes,
		Handle:      proc.Process,
		Stats:       stats,
		Metrics:     metrics,
	}
	logging.Logger().Info("Starting run",
		"run", opts.run, "id", runID, "tasks", len(tasks), "processes", opts.processes)
	runErr := pool.Run(ctx, tasks)

	if opts.sarif != "" {
		if err := builder.Log().WriteFile(opts.sarif); err != nil {
			logging.Log(fmt.Sprintf("Error writing SARIF report: %v", err), slog.LevelError)
		}
	}
	if runErr != nil {
		return runErr
	}

	logging.Log("Analysis completed. It took "+elapsed(time.Since(start))+" to analyse all files.", slog.LevelInfo)
	return nil
}

// collectFiles expands directories into the .sol and .hex files below them.
func collectFiles(paths []string) []string {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		switch {
		case err != nil:
			logging.Log(fmt.Sprintf("%s: %v", p, err), slog.LevelWarn)
		case info.IsDir():
			_ = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					logging.Log(fmt.Sprintf("%s: %v", path, err), slog.LevelWarn)
					return nil
				}
				if !d.IsDir() && analyzable(path) {
					files = append(files, path)
				}
				return nil
			})
		case analyzable(p):
			files = append(files, p)
		default:
			logging.Log(fmt.Sprintf("%s is not a directory, a solidity file or a bytecode file", p), slog.LevelWarn)
		}
	}
	slices.Sort(files)
	return slices.Compact(files)
}

func analyzable(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sol", ".hex":
		return true
	}
	return false
}

func elapsed(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs > 60 {
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	}
	return fmt.Sprintf("%ds", secs)
}
