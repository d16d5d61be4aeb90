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

package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Settings are the run defaults. Command-line flags override them.
type Settings struct {
	ToolsDir   string
	ResultsDir string
	Processes  int
	Timeout    time.Duration
	CPUQuota   int64
	MemLimit   string
	StatusAddr string
	Telemetry  bool
}

// Load reads .env (if present) and CONTRACTBENCH_* variables.
func Load() Settings {
	_ = godotenv.Load()

	s := Settings{
		ToolsDir:   envOr("CONTRACTBENCH_TOOLS_DIR", "tools"),
		ResultsDir: envOr("CONTRACTBENCH_RESULTS_DIR", "results"),
		Processes:  runtime.NumCPU(),
		Timeout:    30 * time.Minute,
		CPUQuota:   0,
		MemLimit:   envOr("CONTRACTBENCH_MEM_LIMIT", "4g"),
		StatusAddr: os.Getenv("CONTRACTBENCH_STATUS_ADDR"),
	}

	if v := os.Getenv("CONTRACTBENCH_PROCESSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.Processes = n
		} else {
			fmt.Fprintf(os.Stderr, "Warning: ignoring CONTRACTBENCH_PROCESSES=%q\n", v)
		}
	}
	if v := os.Getenv("CONTRACTBENCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.Timeout = d
		} else {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse CONTRACTBENCH_TIMEOUT '%s', defaulting to %s: %v\n", v, s.Timeout, err)
		}
	}
	if v := os.Getenv("CONTRACTBENCH_CPU_QUOTA"); v != "" {
		if q, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.CPUQuota = q
		}
	}
	if v := os.Getenv("CONTRACTBENCH_TELEMETRY"); v != "" {
		s.Telemetry, _ = strconv.ParseBool(v)
	}
	return s
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
