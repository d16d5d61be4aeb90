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

package model

import (
	"path/filepath"
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskCompleted    TaskStatus = "completed"
	TaskTimedOut     TaskStatus = "timed_out"
	TaskDisconnected TaskStatus = "disconnected"
	TaskFailed       TaskStatus = "failed"
)

// Task describes one (tool, file) execution. It is not modified once dispatched.
type Task struct {
	Tool      string
	File      string
	Bytecode  bool
	CPUQuota  int64  // microseconds per 100ms CFS period, 0 = unlimited
	MemLimit  string // docker notation, e.g. "4g"
	Timeout   time.Duration
	ResultDir string
}

// Name returns the file stem used for the task's result directory.
func (t Task) Name() string {
	base := filepath.Base(t.File)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (t Task) String() string {
	return t.File + " [" + t.Tool + "]"
}

// RawOutput is what a sandboxed execution produced for one task.
type RawOutput struct {
	Output        string
	ExitCode      *int // nil when the wait was abandoned
	Status        TaskStatus
	Image         string
	CompilerError bool
	Err           error // infrastructure error, output is empty when set
	Duration      time.Duration
}

// Exited reports the exit code if the process was seen to finish.
func (r *RawOutput) Exited() (int, bool) {
	if r == nil || r.ExitCode == nil {
		return 0, false
	}
	return *r.ExitCode, true
}
