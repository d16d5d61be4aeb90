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
	"sync"
	"time"

	"contractbench/src/model"
)

// StatusResponse for JSON output
type StatusResponse struct {
	RunID           string    `json:"run_id"`
	StartTime       time.Time `json:"start_time"`
	Uptime          string    `json:"uptime"`
	TasksTotal      int       `json:"tasks_total"`
	TasksProcessed  int       `json:"tasks_processed"`
	TasksSuccessful int       `json:"tasks_successful"`
	TasksTimedOut   int       `json:"tasks_timed_out"`
	TasksFailed     int       `json:"tasks_failed"`
	ExecutionTime   string    `json:"execution_time"`
	Remaining       string    `json:"remaining,omitempty"`
	LastTask        string    `json:"last_task,omitempty"`
}

// Stats is the published view of a run's progress. Only the pool's
// aggregator writes it; the status server reads it.
type Stats struct {
	mu             sync.RWMutex
	statusResponse StatusResponse
}

func NewStats(runID string) *Stats {
	return &Stats{
		statusResponse: StatusResponse{
			RunID:     runID,
			StartTime: time.Now(),
		},
	}
}

func (s *Stats) begin(total int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusResponse.TasksTotal = total
}

func (s *Stats) record(p progress, last completion) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &s.statusResponse
	r.TasksProcessed = p.done
	r.ExecutionTime = p.execution.Truncate(time.Second).String()
	r.Remaining = p.remaining.String()
	r.LastTask = last.task.String()
	switch last.status {
	case model.TaskCompleted:
		r.TasksSuccessful++
	case model.TaskTimedOut, model.TaskDisconnected:
		r.TasksTimedOut++
	default:
		r.TasksFailed++
	}
}

// GetStats returns the current statistics as a response struct
func (s *Stats) GetStats() StatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := s.statusResponse
	resp.Uptime = time.Since(s.statusResponse.StartTime).Truncate(time.Second).String()
	return resp
}
