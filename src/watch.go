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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"contractbench/src/processor"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

var watchFlags struct {
	addr     string
	interval time.Duration
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a running analysis through its status server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return watch(ctx, cmd.OutOrStdout(), "http://"+watchFlags.addr, watchFlags.interval)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchFlags.addr, "addr", "localhost:8080", "status server address")
	watchCmd.Flags().DurationVar(&watchFlags.interval, "interval", 500*time.Millisecond, "poll interval")
	rootCmd.AddCommand(watchCmd)
}

// watch polls /status until every task of the run is processed.
func watch(ctx context.Context, w io.Writer, baseURL string, interval time.Duration) error {
	startTime := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fmt.Fprintf(w, "%s%-10s %-12s %-10s %-10s %-10s%s\n", colorGray+colorBold, "ELAPSED", "PROCESSED", "FAILED", "TIMEOUT", "REMAINING", colorReset)
	fmt.Fprintln(w, colorGray+"------------------------------------------------------------"+colorReset)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return ctx.Err()
		case <-ticker.C:
		}

		elapsed := time.Since(startTime).Round(time.Second).String()
		stats, err := getStatus(ctx, baseURL)
		if err != nil {
			fmt.Fprintf(w, "\r%-10s %s%-42s%s", elapsed, colorRed, "Error: Connection Refused (Retrying...)", colorReset)
			continue
		}

		statusColor := colorGreen
		if stats.TasksFailed > 0 {
			statusColor = colorRed
		}
		fmt.Fprintf(w, "\r%-10s %s%-12s%s %s%-10d%s %s%-10d%s %-10s",
			elapsed,
			colorGreen, fmt.Sprintf("%d/%d", stats.TasksProcessed, stats.TasksTotal), colorReset,
			statusColor, stats.TasksFailed, colorReset,
			colorYellow, stats.TasksTimedOut, colorReset,
			stats.Remaining,
		)

		if stats.TasksTotal > 0 && stats.TasksProcessed >= stats.TasksTotal {
			fmt.Fprintf(w, "\n%s------------------------------------------------------------%s\n", colorGray, colorReset)
			printReport(w, stats, time.Since(startTime))
			return nil
		}
	}
}

func getStatus(ctx context.Context, baseURL string) (processor.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/status", nil)
	if err != nil {
		return processor.StatusResponse{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return processor.StatusResponse{}, err
	}
	defer resp.Body.Close()

	var stats processor.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return processor.StatusResponse{}, err
	}
	return stats, nil
}

func printReport(w io.Writer, stats processor.StatusResponse, watched time.Duration) {
	successRate := 100.0
	if stats.TasksProcessed > 0 {
		successRate = float64(stats.TasksSuccessful) / float64(stats.TasksProcessed) * 100
	}

	fmt.Fprintln(w, "\n"+colorCyan+colorBold+"┏━━━━━━━━━━━━━━━━━━━━━━ REPORT ━━━━━━━━━━━━━━━━━━━━━━┓"+colorReset)
	lineFmt := colorCyan + "┃" + colorReset + "  %-22s " + colorBold + "%-25s" + colorCyan + "┃" + colorReset + "\n"

	fmt.Fprintf(w, lineFmt, "Run:", stats.RunID)
	fmt.Fprintf(w, lineFmt, "Uptime:", stats.Uptime)
	fmt.Fprintf(w, lineFmt, "Watched:", watched.Truncate(time.Millisecond).String())
	fmt.Fprintf(w, lineFmt, "Total Tasks:", fmt.Sprintf("%d", stats.TasksProcessed))
	fmt.Fprintf(w, lineFmt, "  - Completed:", fmt.Sprintf("%d", stats.TasksSuccessful))
	fmt.Fprintf(w, lineFmt, "  - Timed out:", fmt.Sprintf("%d", stats.TasksTimedOut))
	fmt.Fprintf(w, lineFmt, "  - Failed:", fmt.Sprintf("%d", stats.TasksFailed))
	fmt.Fprintf(w, lineFmt, "Success Rate:", fmt.Sprintf("%.2f%%", successRate))
	fmt.Fprintf(w, lineFmt, "Execution Time:", stats.ExecutionTime)

	fmt.Fprintln(w, colorCyan+colorBold+"┗━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━┛"+colorReset)
}
