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

package containerization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"time"

	"contractbench/src/config"
	"contractbench/src/logging"
	"contractbench/src/model"

	"github.com/docker/docker/api/types/container"
)

// ArchiveFile is the name of the copied-out tool output folder in a task's result dir.
const ArchiveFile = "result.tar"

const (
	dataDir        = "/data"
	cleanupTimeout = 30 * time.Second
)

// Sandbox runs one tool invocation per task in a throwaway container.
type Sandbox struct {
	rt    Runtime
	tools config.Catalog
}

func NewSandbox(rt Runtime, tools config.Catalog) *Sandbox {
	return &Sandbox{rt: rt, tools: tools}
}

// Preflight validates every task's tool config before anything is launched
// and pulls each distinct image once. Only configuration errors are returned.
func (s *Sandbox) Preflight(ctx context.Context, tasks []model.Task) error {
	images := map[string]struct{}{}
	for _, task := range tasks {
		cfg, err := s.toolFor(task)
		if err != nil {
			return err
		}
		for _, img := range cfg.Images() {
			images[img] = struct{}{}
		}
	}

	refs := make([]string, 0, len(images))
	for img := range images {
		refs = append(refs, img)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		if err := s.pullImage(ctx, ref); err != nil {
			logging.Log(fmt.Sprintf("[DOCKER] unable to pull %s: %v. Execution might fail if image is not present locally.", ref, err), slog.LevelWarn)
		}
	}
	return nil
}

// Execute runs task to completion or timeout and returns its captured output.
// The error is non-nil only for configuration errors; runtime failures are
// reported through RawOutput.Err.
func (s *Sandbox) Execute(ctx context.Context, task model.Task) (*model.RawOutput, error) {
	cfg, err := s.toolFor(task)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := s.run(ctx, task, cfg)
	if err != nil {
		logging.Log(fmt.Sprintf("[DOCKER] %s: %v", task, err), slog.LevelError)
		image := ""
		if raw != nil {
			image = raw.Image
		}
		raw = &model.RawOutput{Status: model.TaskFailed, Image: image, Err: err}
	}
	raw.Duration = time.Since(start)
	return raw, nil
}

func (s *Sandbox) toolFor(task model.Task) (*config.ToolConfig, error) {
	cfg, err := s.tools.Tool(task.Tool)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(task.Bytecode); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *Sandbox) run(ctx context.Context, task model.Task, cfg *config.ToolConfig) (*model.RawOutput, error) {
	if err := ensureDir(task.ResultDir); err != nil {
		return nil, err
	}

	workDir, err := stageFile(task.File)
	if err != nil {
		return nil, err
	}
	var containerID string
	defer func() {
		s.teardown(containerID, workDir)
	}()

	staged := filepath.Join(workDir, filepath.Base(task.File))
	solcMinor := -1
	if !task.Bytecode {
		solcMinor = SolcMinorFile(staged)
	}
	raw := &model.RawOutput{Image: cfg.Image(solcMinor, task.Bytecode)}

	cmd, err := buildCommand(cfg.Command(task.Bytecode), path.Join(dataDir, filepath.Base(task.File)))
	if err != nil {
		return raw, err
	}
	hostCfg, err := hostConfig(task, workDir)
	if err != nil {
		return raw, err
	}

	containerID, err = s.create(ctx, raw.Image, cmd, hostCfg)
	if err != nil {
		return raw, err
	}
	if err := s.rt.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return raw, fmt.Errorf("failed to start container: %w", err)
	}

	raw.ExitCode, raw.Status = s.wait(ctx, containerID, task)

	output, err := s.logs(ctx, containerID)
	if err != nil {
		return raw, err
	}
	raw.Output = output
	if compilerFailed(output) {
		raw.CompilerError = true
		logging.Log(fmt.Sprintf("ERROR: Solc experienced a fatal error for %s. Check the results file for more info", task), slog.LevelWarn)
	}

	if folder := cfg.ArchiveFolder(); folder != "" {
		dest := filepath.Join(task.ResultDir, ArchiveFile)
		if err := s.archive(ctx, containerID, folder, dest); err != nil {
			logging.Log(fmt.Sprintf("ERROR: could not get file from container for %s: %v", task, err), slog.LevelError)
		}
	}
	return raw, nil
}

// wait blocks until the container exits or the task timeout elapses.
// A nil exit code means the wait was abandoned.
func (s *Sandbox) wait(ctx context.Context, containerID string, task model.Task) (*int, model.TaskStatus) {
	waitCtx, cancel := withOptionalTimeout(ctx, task.Timeout)
	defer cancel()

	statusCh, errCh := s.rt.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)
	select {
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			logging.Log(fmt.Sprintf("[DOCKER] %s: wait reported: %s", task, st.Error.Message), slog.LevelWarn)
		}
		code := int(st.StatusCode)
		return &code, model.TaskCompleted
	case err := <-errCh:
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			logging.Log(fmt.Sprintf("[DOCKER] %s: timed out after %s", task, task.Timeout), slog.LevelWarn)
			return nil, model.TaskTimedOut
		}
		logging.Log(fmt.Sprintf("[DOCKER] %s: lost connection while waiting: %v", task, err), slog.LevelWarn)
		return nil, model.TaskDisconnected
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
