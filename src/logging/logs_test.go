package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogWritesToConsole(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	Log("Analysis completed.", slog.LevelInfo)
	Log("hidden", slog.LevelDebug)

	assert.Contains(t, buf.String(), "Analysis completed.")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestLoggerCarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	Logger().With(slog.String("tool", "vandal")).Warn("image pull failed", slog.String("image", "smartbugs/vandal"))

	out := buf.String()
	assert.Contains(t, out, "tool=vandal")
	assert.Contains(t, out, "image=smartbugs/vandal")
	assert.Contains(t, out, "level=WARN")
}

func TestSetupOTelSDK(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := SetupOTelSDK(context.Background(), &buf)
	require.NoError(t, err)

	counter, err := InitializeFloatCounter("test_tasks_total", "tasks", "Task")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	ctx, span := StartSpan(context.Background(), "task")
	UpdateSpanValue(ctx, "duration_seconds", 1.5)
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "task")
}
