package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"contractbench/src/config"
	"contractbench/src/model"
	"contractbench/src/report"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []model.Task
	out   func(model.Task) (*model.RawOutput, error)
}

func (f *fakeExecutor) Execute(_ context.Context, task model.Task) (*model.RawOutput, error) {
	f.mu.Lock()
	f.calls = append(f.calls, task)
	f.mu.Unlock()
	return f.out(task)
}

func tasksFor(t *testing.T, tool string, n int) []model.Task {
	root := t.TempDir()
	tasks := make([]model.Task, n)
	for i := range tasks {
		file := fmt.Sprintf("/contracts/C%d.hex", i)
		tasks[i] = model.Task{Tool: tool, File: file, Bytecode: true, ResultDir: ResultDir(root, tool, "run", file)}
	}
	return tasks
}

func readParsed(t *testing.T, dir string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, ParsedFile))
	require.NoError(t, err)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))
	return parsed
}

func TestProcess_TimeoutIsIncompleteNotFatal(t *testing.T) {
	exec := &fakeExecutor{out: func(model.Task) (*model.RawOutput, error) {
		return &model.RawOutput{Output: "Analyzing contract at /data/C0.hex", Status: model.TaskTimedOut, Image: "palkeo/pakala"}, nil
	}}
	builder := report.NewBuilder()
	proc := &Processor{Executor: exec, Collect: builder.Add}
	pool := &Pool{Concurrency: 2, Handle: proc.Process}

	tasks := tasksFor(t, "pakala", 1)
	require.NoError(t, pool.Run(context.Background(), tasks))

	parsed := readParsed(t, tasks[0].ResultDir)
	assert.Contains(t, parsed["messages"], "analysis incomplete")
	assert.Equal(t, []any{"execution failed"}, parsed["fails"])
	assert.Equal(t, []any{}, parsed["errors"])

	for _, name := range []string{LogFile, SarifFile, TaskLogFile} {
		assert.FileExists(t, filepath.Join(tasks[0].ResultDir, name))
	}
	logged, err := os.ReadFile(filepath.Join(tasks[0].ResultDir, LogFile))
	require.NoError(t, err)
	assert.Equal(t, "Analyzing contract at /data/C0.hex", string(logged))

	data, err := os.ReadFile(filepath.Join(tasks[0].ResultDir, TaskLogFile))
	require.NoError(t, err)
	var tl map[string]any
	require.NoError(t, json.Unmarshal(data, &tl))
	assert.Equal(t, "timed_out", tl["status"])
	assert.Nil(t, tl["exit_code"])
	assert.Equal(t, "palkeo/pakala", tl["image"])

	log := builder.Log()
	require.Len(t, log.Runs, 1)
	assert.Equal(t, "Pakala", log.Runs[0].Tool.Driver.Name)
	assert.Len(t, log.Runs[0].Artifacts, 1)
}

func TestProcess_FindingsReachReport(t *testing.T) {
	exit := 0
	exec := &fakeExecutor{out: func(model.Task) (*model.RawOutput, error) {
		return &model.RawOutput{
			Output:   "+ /vandal/bin/decompile x\nreentrantCall.csv\n+ souffle -F facts-tmp\n+ rm -rf facts-tmp",
			ExitCode: &exit,
			Status:   model.TaskCompleted,
		}, nil
	}}
	builder := report.NewBuilder()
	proc := &Processor{Executor: exec, Collect: builder.Add}

	tasks := tasksFor(t, "vandal", 2)
	for _, task := range tasks {
		out, err := proc.Process(context.Background(), task)
		require.NoError(t, err)
		assert.Equal(t, model.TaskCompleted, out.Status)
		assert.Equal(t, []string{"ReentrantCall"}, out.Result.Findings())
	}

	log := builder.Log()
	require.Len(t, log.Runs, 1)
	assert.Len(t, log.Runs[0].Tool.Driver.Rules, 1)
	assert.Len(t, log.Runs[0].Results, 2)
}

func TestProcess_ConfigErrorWritesNothing(t *testing.T) {
	exec := &fakeExecutor{out: func(task model.Task) (*model.RawOutput, error) {
		return nil, &config.Error{Tool: task.Tool, Key: "cmd_bytecode", Msg: "missing"}
	}}
	proc := &Processor{Executor: exec}
	task := tasksFor(t, "vandal", 1)[0]

	_, err := proc.Process(context.Background(), task)
	assert.True(t, config.IsError(err))
	assert.NoDirExists(t, task.ResultDir)
}

func TestPool_FailuresDoNotStopOtherTasks(t *testing.T) {
	metrics := NewMetrics()
	stats := NewStats("run")
	var handled atomic.Int32
	pool := &Pool{
		Concurrency: 3,
		Stats:       stats,
		Metrics:     metrics,
		Handle: func(_ context.Context, task model.Task) (Outcome, error) {
			handled.Add(1)
			switch task.File {
			case "/contracts/C1.hex":
				return Outcome{}, errors.New("boom")
			case "/contracts/C2.hex":
				panic("adapter bug")
			case "/contracts/C3.hex":
				return Outcome{Status: model.TaskTimedOut}, nil
			}
			return Outcome{Status: model.TaskCompleted}, nil
		},
	}

	require.NoError(t, pool.Run(context.Background(), tasksFor(t, "vandal", 6)))

	assert.EqualValues(t, 6, handled.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.TasksTotal.WithLabelValues("vandal", "completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.TasksTotal.WithLabelValues("vandal", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TasksTotal.WithLabelValues("vandal", "timed_out")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.TaskDuration))

	s := stats.GetStats()
	assert.Equal(t, 6, s.TasksTotal)
	assert.Equal(t, 6, s.TasksProcessed)
	assert.Equal(t, 3, s.TasksSuccessful)
	assert.Equal(t, 2, s.TasksFailed)
	assert.Equal(t, 1, s.TasksTimedOut)
	assert.Equal(t, "run", s.RunID)
}

func TestPool_ConfigErrorAbortsRun(t *testing.T) {
	var handled atomic.Int32
	pool := &Pool{
		Concurrency: 1,
		Handle: func(_ context.Context, task model.Task) (Outcome, error) {
			handled.Add(1)
			if task.File == "/contracts/C1.hex" {
				return Outcome{}, &config.Error{Tool: task.Tool, Key: "docker_image.default", Msg: "missing"}
			}
			return Outcome{Status: model.TaskCompleted}, nil
		},
	}

	err := pool.Run(context.Background(), tasksFor(t, "vandal", 5))
	var cfgErr *config.Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "docker_image.default", cfgErr.Key)
	assert.EqualValues(t, 2, handled.Load())
}

func TestPool_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var handled atomic.Int32
	pool := &Pool{Concurrency: 2, Handle: func(context.Context, model.Task) (Outcome, error) {
		handled.Add(1)
		return Outcome{Status: model.TaskCompleted}, nil
	}}

	assert.ErrorIs(t, pool.Run(ctx, tasksFor(t, "vandal", 4)), context.Canceled)
	assert.Zero(t, handled.Load())
}

func TestPool_BoundedConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	pool := &Pool{Concurrency: 2, Handle: func(context.Context, model.Task) (Outcome, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return Outcome{Status: model.TaskCompleted}, nil
	}}

	require.NoError(t, pool.Run(context.Background(), tasksFor(t, "vandal", 8)))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_TaskSpansCarryOutcome(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	pool := &Pool{Concurrency: 1, Handle: func(context.Context, model.Task) (Outcome, error) {
		time.Sleep(5 * time.Millisecond)
		return Outcome{Status: model.TaskCompleted}, nil
	}}
	require.NoError(t, pool.Run(context.Background(), tasksFor(t, "vandal", 2)))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	for _, span := range spans {
		attrs := map[attribute.Key]attribute.Value{}
		for _, kv := range span.Attributes() {
			attrs[kv.Key] = kv.Value
		}
		assert.Equal(t, "task", span.Name())
		assert.Equal(t, "vandal", attrs["tool"].AsString())
		assert.Equal(t, "completed", attrs["status"].AsString())
		require.Contains(t, attrs, attribute.Key("duration_seconds"))
		assert.GreaterOrEqual(t, attrs["duration_seconds"].AsFloat64(), 0.005)
	}
}

func TestPool_NoHandler(t *testing.T) {
	assert.ErrorIs(t, (&Pool{}).Run(context.Background(), nil), ErrNoHandler)
}

func TestPlan_SkipRunsBeforeTaskCreation(t *testing.T) {
	root := t.TempDir()
	done := ResultDir(root, "vandal", "run", "/contracts/A.hex")
	require.NoError(t, os.MkdirAll(done, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(done, ParsedFile), []byte("{}"), 0o644))

	created := 0
	tasks, skipped := Plan(
		[]string{"vandal", "pakala"},
		[]string{"/contracts/A.hex", "/contracts/B.hex"},
		func(tool, file string) bool { return Done(ResultDir(root, tool, "run", file)) },
		func(tool, file string) model.Task {
			created++
			return model.Task{Tool: tool, File: file}
		},
	)

	assert.Equal(t, 1, skipped)
	assert.Equal(t, 3, created)
	require.Len(t, tasks, 3)
	assert.Equal(t, model.Task{Tool: "pakala", File: "/contracts/A.hex"}, tasks[0])
}

func TestResultDir(t *testing.T) {
	dir := ResultDir("results", "vandal", "20260101_1200", "/data/x/Wallet.hex")

	assert.Equal(t, filepath.Join("results", "vandal", "20260101_1200"), filepath.Dir(dir))
	assert.Regexp(t, `^Wallet\.hex-[0-9a-f]{8}$`, filepath.Base(dir))
	assert.Equal(t, dir, ResultDir("results", "vandal", "20260101_1200", "/data/x/../x/Wallet.hex"))
}

func TestResultDir_SameNameInputsDoNotCollide(t *testing.T) {
	root := t.TempDir()
	files := []string{"/ds/a/Token.sol", "/ds/b/Token.sol", "/ds/a/Token.hex"}

	tasks, skipped := Plan([]string{"vandal"}, files, nil, func(tool, file string) model.Task {
		return model.Task{Tool: tool, File: file, ResultDir: ResultDir(root, tool, "run", file)}
	})
	require.Len(t, tasks, 3)
	assert.Zero(t, skipped)

	seen := map[string]string{}
	for _, task := range tasks {
		if prev, ok := seen[task.ResultDir]; ok {
			t.Fatalf("%s and %s share %s", prev, task.File, task.ResultDir)
		}
		seen[task.ResultDir] = task.File
	}

	// a finished result for one input must not mark the others done
	first := tasks[0].ResultDir
	require.NoError(t, os.MkdirAll(first, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(first, ParsedFile), []byte("{}"), 0o644))

	_, skipped = Plan([]string{"vandal"}, files,
		func(tool, file string) bool { return Done(ResultDir(root, tool, "run", file)) },
		func(tool, file string) model.Task { return model.Task{Tool: tool, File: file} },
	)
	assert.Equal(t, 1, skipped)
}
