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

package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"contractbench/src/logging"
	"contractbench/src/model"
	"contractbench/src/parser"
	"contractbench/src/report"
)

// Files written into every task's result directory.
const (
	LogFile     = "result.log"
	ParsedFile  = "parsed_result.json"
	SarifFile   = "result.sarif"
	TaskLogFile = "task.json"
)

// Executor runs one task in a sandbox. A non-nil error is a configuration
// error and aborts the run.
type Executor interface {
	Execute(ctx context.Context, task model.Task) (*model.RawOutput, error)
}

// Processor executes a task, parses its output and writes the result files.
type Processor struct {
	Executor Executor
	// Adapters defaults to parser.Lookup.
	Adapters func(tool string) parser.Adapter
	// Collect, if set, receives every task's report entry.
	Collect func(report.Entry)
}

// Outcome is what one processed task reports back to the pool.
type Outcome struct {
	Status model.TaskStatus
	Result *parser.Result
}

type taskLog struct {
	Tool          string           `json:"tool"`
	File          string           `json:"file"`
	Bytecode      bool             `json:"bytecode"`
	Image         string           `json:"image,omitempty"`
	Status        model.TaskStatus `json:"status"`
	ExitCode      *int             `json:"exit_code"`
	CompilerError bool             `json:"compiler_error,omitempty"`
	Error         string           `json:"error,omitempty"`
	Started       time.Time        `json:"started"`
	Duration      float64          `json:"duration_seconds"`
	CPUQuota      int64            `json:"cpu_quota,omitempty"`
	MemLimit      string           `json:"mem_limit,omitempty"`
	Timeout       float64          `json:"timeout_seconds,omitempty"`
}

func (p *Processor) Process(ctx context.Context, task model.Task) (Outcome, error) {
	started := time.Now()
	raw, err := p.Executor.Execute(ctx, task)
	if err != nil {
		return Outcome{Status: model.TaskFailed}, err
	}

	if err := os.MkdirAll(task.ResultDir, 0o755); err != nil {
		return Outcome{Status: model.TaskFailed}, fmt.Errorf("creating result dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(task.ResultDir, LogFile), []byte(raw.Output), 0o644); err != nil {
		logging.Log(fmt.Sprintf("Error writing log for %s: %v", task, err), slog.LevelError)
	}

	lookup := p.Adapters
	if lookup == nil {
		lookup = parser.Lookup
	}
	adapter := lookup(task.Tool)
	result := parser.Parse(adapter, task, raw)

	if err := writeJSON(filepath.Join(task.ResultDir, ParsedFile), result); err != nil {
		logging.Log(fmt.Sprintf("Error writing parsed result for %s: %v", task, err), slog.LevelError)
	}

	entry := parser.Entry(adapter, task.File, result)
	if err := report.Assemble([]report.Entry{entry}).WriteFile(filepath.Join(task.ResultDir, SarifFile)); err != nil {
		logging.Log(fmt.Sprintf("Error writing SARIF for %s: %v", task, err), slog.LevelError)
	}
	if p.Collect != nil {
		p.Collect(entry)
	}

	tl := taskLog{
		Tool:          task.Tool,
		File:          task.File,
		Bytecode:      task.Bytecode,
		Image:         raw.Image,
		Status:        raw.Status,
		ExitCode:      raw.ExitCode,
		CompilerError: raw.CompilerError,
		Started:       started,
		Duration:      raw.Duration.Seconds(),
		CPUQuota:      task.CPUQuota,
		MemLimit:      task.MemLimit,
		Timeout:       task.Timeout.Seconds(),
	}
	if raw.Err != nil {
		tl.Error = raw.Err.Error()
	}
	if err := writeJSON(filepath.Join(task.ResultDir, TaskLogFile), tl); err != nil {
		logging.Log(fmt.Sprintf("Error writing task log for %s: %v", task, err), slog.LevelError)
	}

	return Outcome{Status: raw.Status, Result: result}, nil
}

// Done reports whether a result for the task's directory already exists.
func Done(resultDir string) bool {
	_, err := os.Stat(filepath.Join(resultDir, ParsedFile))
	return err == nil
}

// ResultDir is where the results of (tool, file) go for a run. The last
// element is the file name plus a stable id of its absolute path, so inputs
// sharing a name in different directories never share a directory.
func ResultDir(root, tool, run, file string) string {
	abs, err := filepath.Abs(file)
	if err != nil {
		abs = filepath.Clean(file)
	}
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(abs))).String()
	return filepath.Join(root, tool, run, filepath.Base(file)+"-"+id[:8])
}

// Plan builds one task per (file, tool) pair. skip is consulted before a
// task is created; pairs it accepts are left out and counted.
func Plan(tools, files []string, skip func(tool, file string) bool, newTask func(tool, file string) model.Task) ([]model.Task, int) {
	tasks := make([]model.Task, 0, len(tools)*len(files))
	skipped := 0
	for _, file := range files {
		for _, tool := range tools {
			if skip != nil && skip(tool, file) {
				skipped++
				continue
			}
			tasks = append(tasks, newTask(tool, file))
		}
	}
	return tasks, skipped
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
