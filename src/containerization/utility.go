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
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"contractbench/src/config"
	"contractbench/src/logging"
	"contractbench/src/model"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
)

const containerPrefix = "contractbench-"

var compilerErrorMarkers = []string{
	"Solc experienced a fatal error",
	"compilation failed",
}

func (s *Sandbox) pullImage(ctx context.Context, ref string) error {
	logging.Log(fmt.Sprintf("[DOCKER] pull image: %s (this may take a while...)", ref), slog.LevelInfo)
	reader, err := s.rt.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return err
	}
	logging.Log(fmt.Sprintf("[DOCKER] image %s pulled", ref), slog.LevelInfo)
	return nil
}

func (s *Sandbox) create(ctx context.Context, img string, cmd []string, hostCfg *container.HostConfig) (string, error) {
	cfg := &container.Config{
		Image: img,
		Cmd:   cmd,
		Tty:   false,
	}
	name := containerPrefix + uuid.NewString()

	resp, err := s.rt.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if cerrdefs.IsNotFound(err) {
		if pullErr := s.pullImage(ctx, img); pullErr != nil {
			return "", fmt.Errorf("image %s not found: %w", img, pullErr)
		}
		resp, err = s.rt.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	for _, w := range resp.Warnings {
		logging.Log(fmt.Sprintf("[DOCKER] %s: %s", name, w), slog.LevelWarn)
	}
	return resp.ID, nil
}

// logs returns the combined stdout and stderr of the container, trimmed.
// It runs detached from ctx so that output is still collected after a timeout.
func (s *Sandbox) logs(ctx context.Context, containerID string) (string, error) {
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	reader, err := s.rt.ContainerLogs(logCtx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch container logs: %w", err)
	}
	defer reader.Close()

	var combined bytes.Buffer
	if _, err := stdcopy.StdCopy(&combined, &combined, reader); err != nil {
		return "", fmt.Errorf("error reading container logs: %w", err)
	}
	return strings.TrimSpace(combined.String()), nil
}

// archive streams folder out of the container as a tar file at dest. A failed
// copy leaves no file behind.
func (s *Sandbox) archive(ctx context.Context, containerID, folder, dest string) error {
	copyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	reader, _, err := s.rt.CopyFromContainer(copyCtx, containerID, folder)
	if err != nil {
		return err
	}
	defer reader.Close()

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, reader)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return err
	}
	return nil
}

// teardown stops and removes the container, then deletes the staged directory.
// Missing containers are not an error.
func (s *Sandbox) teardown(containerID, workDir string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if containerID != "" {
		stopTimeout := 0
		if err := s.rt.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &stopTimeout}); err != nil && !cerrdefs.IsNotFound(err) {
			logging.Log(fmt.Sprintf("[DOCKER] failed to stop container %s: %v", shortID(containerID), err), slog.LevelWarn)
		}
		if err := s.rt.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
			logging.Log(fmt.Sprintf("[DOCKER] failed to remove container %s: %v", shortID(containerID), err), slog.LevelWarn)
		}
	}
	if workDir != "" {
		if err := os.RemoveAll(workDir); err != nil {
			logging.Log(fmt.Sprintf("failed to delete working dir %s: %v", workDir, err), slog.LevelWarn)
		}
	}
}

// stageFile copies src into a fresh temporary directory and returns the directory.
// The whole directory is mounted so that sibling imports stay resolvable.
func stageFile(src string) (string, error) {
	dir, err := os.MkdirTemp("", containerPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("failed to create working dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	dir = abs
	if err := copyFile(src, filepath.Join(dir, filepath.Base(src))); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to stage %s: %w", src, err)
	}
	return dir, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func ensureDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create result dir: %w", err)
	}
	return nil
}

// buildCommand fills the {contract} placeholder, or appends target, and splits
// the result with shell quoting rules.
func buildCommand(template, target string) ([]string, error) {
	cmd := template + " " + target
	if strings.Contains(template, config.ContractPlaceholder) {
		cmd = strings.ReplaceAll(template, config.ContractPlaceholder, target)
	}
	args, err := shellquote.Split(cmd)
	if err != nil {
		return nil, fmt.Errorf("invalid command template %q: %w", template, err)
	}
	return args, nil
}

func hostConfig(task model.Task, workDir string) (*container.HostConfig, error) {
	var memory int64
	if task.MemLimit != "" {
		m, err := units.RAMInBytes(task.MemLimit)
		if err != nil {
			return nil, fmt.Errorf("invalid memory limit %q: %w", task.MemLimit, err)
		}
		memory = m
	}
	return &container.HostConfig{
		Resources: container.Resources{
			CPUQuota: task.CPUQuota,
			Memory:   memory,
		},
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: workDir,
			Target: dataDir,
		}},
	}, nil
}

func compilerFailed(output string) bool {
	for _, marker := range compilerErrorMarkers {
		if strings.Contains(output, marker) {
			return true
		}
	}
	return false
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
