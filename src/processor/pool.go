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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"contractbench/src/config"
	"contractbench/src/logging"
	"contractbench/src/model"
)

var ErrNoHandler = errors.New("processor: pool has no handler")

// Handler processes one task. Returning a *config.Error stops the run;
// any other error is logged and the task counted as failed.
type Handler func(ctx context.Context, task model.Task) (Outcome, error)

// Pool runs tasks on a bounded number of workers.
type Pool struct {
	Concurrency int
	Handle      Handler
	Stats       *Stats
	Metrics     *Metrics
}

type completion struct {
	task     model.Task
	status   model.TaskStatus
	duration time.Duration
}

type progress struct {
	done      int
	execution time.Duration
	remaining time.Duration
}

type otelCounters struct {
	tasks     metric.Float64Counter
	failed    metric.Float64Counter
	execution metric.Float64Counter
}

func newOtelCounters() otelCounters {
	var c otelCounters
	c.tasks, _ = logging.InitializeFloatCounter("contractbench_tasks_total", "Number of tasks processed", "Task")
	c.failed, _ = logging.InitializeFloatCounter("contractbench_tasks_failed", "Number of tasks that did not complete", "Task")
	c.execution, _ = logging.InitializeFloatCounter("contractbench_execution_seconds", "Cumulative task execution time", "s")
	return c
}

func (c otelCounters) add(ctx context.Context, cm completion) {
	attrs := metric.WithAttributes(attribute.String("tool", cm.task.Tool), attribute.String("status", string(cm.status)))
	if c.tasks != nil {
		c.tasks.Add(ctx, 1, attrs)
	}
	if c.failed != nil && cm.status != model.TaskCompleted {
		c.failed.Add(ctx, 1, attrs)
	}
	if c.execution != nil {
		c.execution.Add(ctx, cm.duration.Seconds(), attrs)
	}
}

// Run processes every task at most once. It returns the first configuration
// error, after which tasks not yet started are dropped, or ctx's error.
func (p *Pool) Run(ctx context.Context, tasks []model.Task) error {
	if p.Handle == nil {
		return ErrNoHandler
	}
	limit := p.Concurrency
	if limit < 1 {
		limit = 1
	}

	p.Stats.begin(len(tasks))
	done := make(chan completion, limit)
	aggregated := make(chan struct{})
	go p.aggregate(ctx, len(tasks), done, aggregated)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, task := range tasks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return p.runOne(gctx, i, len(tasks), task, done)
		})
	}
	err := g.Wait()
	close(done)
	<-aggregated

	if err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Pool) runOne(ctx context.Context, i, total int, task model.Task, done chan<- completion) (err error) {
	if ctx.Err() != nil {
		return nil
	}
	logging.Log(fmt.Sprintf("Analysing file [%d/%d]: %s", i+1, total, task), slog.LevelInfo)

	ctx, span := logging.StartSpan(ctx, "task",
		attribute.String("tool", task.Tool),
		attribute.String("file", task.File))
	defer span.End()

	p.Metrics.started()
	start := time.Now()
	status := model.TaskFailed
	defer func() {
		if r := recover(); r != nil {
			logging.Log(fmt.Sprintf("Task %s panicked: %v", task, r), slog.LevelError)
			span.SetStatus(codes.Error, fmt.Sprint(r))
			status = model.TaskFailed
			err = nil
		}
		d := time.Since(start)
		p.Metrics.finished(task.Tool, status, d)
		span.SetAttributes(attribute.String("status", string(status)))
		logging.UpdateSpanValue(ctx, "duration_seconds", d.Seconds())
		done <- completion{task: task, status: status, duration: d}
	}()

	out, herr := p.Handle(ctx, task)
	if herr != nil {
		span.RecordError(herr)
		span.SetStatus(codes.Error, herr.Error())
		if config.IsError(herr) {
			logging.Log(fmt.Sprintf("Configuration error for %s: %v", task, herr), slog.LevelError)
			return herr
		}
		logging.Log(fmt.Sprintf("Task %s failed: %v", task, herr), slog.LevelError)
		return nil
	}
	status = out.Status
	return nil
}

// aggregate owns the completed and execution-time counters.
func (p *Pool) aggregate(ctx context.Context, total int, done <-chan completion, finished chan<- struct{}) {
	defer close(finished)
	counters := newOtelCounters()
	runStart := time.Now()
	var prog progress

	for c := range done {
		prog.done++
		prog.execution += c.duration
		if rate := float64(prog.done) / time.Since(runStart).Seconds(); rate > 0 {
			prog.remaining = time.Duration(float64(total-prog.done) / rate * float64(time.Second)).Round(time.Second)
		}

		counters.add(ctx, c)
		p.Stats.record(prog, c)
		logging.Log(fmt.Sprintf("Done [%d/%d, %s]: %s in %s (%s)",
			prog.done, total, prog.remaining, c.task, c.duration.Round(time.Second), c.status), slog.LevelInfo)
	}
}
