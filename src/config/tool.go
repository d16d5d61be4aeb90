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

// Package config loads tool descriptions and run settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	DefaultImageKey = "default"
	LegacySolcKey   = "solc<5"

	ContractPlaceholder = "{contract}"
)

// Error is a configuration-integrity failure. It aborts the whole run.
type Error struct {
	Tool string
	Key  string
	Msg  string
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s", e.Tool, e.Msg)
	}
	return fmt.Sprintf("%s: %s (%s). Please check the tool config file", e.Tool, e.Msg, e.Key)
}

// IsError reports whether err carries a configuration error.
func IsError(err error) bool {
	var cfgErr *Error
	return errors.As(err, &cfgErr)
}

type OutputInFiles struct {
	Folder string `yaml:"folder"`
}

// ToolConfig is the content of one tool's config.yaml.
type ToolConfig struct {
	Name          string            `yaml:"-"`
	DockerImage   map[string]string `yaml:"docker_image"`
	Cmd           string            `yaml:"cmd"`
	CmdBytecode   string            `yaml:"cmd_bytecode"`
	OutputInFiles *OutputInFiles    `yaml:"output_in_files"`
}

// Validate checks the keys needed to run the tool in the given mode.
func (c *ToolConfig) Validate(bytecode bool) error {
	if c.DockerImage[DefaultImageKey] == "" {
		return &Error{Tool: c.Name, Key: "docker_image.default", Msg: "default docker image not provided"}
	}
	if c.Command(bytecode) == "" {
		key := "cmd"
		if bytecode {
			key = "cmd_bytecode"
		}
		return &Error{Tool: c.Name, Key: key, Msg: "command not provided"}
	}
	return nil
}

// Command returns the command template for the mode.
func (c *ToolConfig) Command(bytecode bool) string {
	if bytecode {
		return c.CmdBytecode
	}
	return c.Cmd
}

// Image picks the image for a task. solcMinor < 0 means the compiler version is unknown.
func (c *ToolConfig) Image(solcMinor int, bytecode bool) string {
	if !bytecode && solcMinor >= 0 && solcMinor < 5 {
		if img := c.DockerImage[LegacySolcKey]; img != "" {
			return img
		}
	}
	return c.DockerImage[DefaultImageKey]
}

// ArchiveFolder returns the in-container folder to copy out, if any.
func (c *ToolConfig) ArchiveFolder() string {
	if c.OutputInFiles == nil {
		return ""
	}
	return c.OutputInFiles.Folder
}

// Images lists every distinct image the config refers to.
func (c *ToolConfig) Images() []string {
	var out []string
	for _, key := range []string{DefaultImageKey, LegacySolcKey} {
		if img := c.DockerImage[key]; img != "" {
			out = append(out, img)
		}
	}
	return out
}

// ParseTool decodes a tool config document.
func ParseTool(name string, data []byte) (*ToolConfig, error) {
	cfg := &ToolConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &Error{Tool: name, Msg: fmt.Sprintf("invalid yaml: %v", err)}
	}
	cfg.Name = name
	if cfg.DockerImage == nil {
		cfg.DockerImage = map[string]string{}
	}
	return cfg, nil
}

// LoadTool reads <dir>/<name>/config.yaml, falling back to <dir>/<name>.yaml.
func LoadTool(dir, name string) (*ToolConfig, error) {
	candidates := []string{
		filepath.Join(dir, name, "config.yaml"),
		filepath.Join(dir, name+".yaml"),
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return ParseTool(name, data)
	}
	return nil, &Error{Tool: name, Msg: "no config file found in " + dir}
}

// Catalog holds the configs of the tools selected for a run.
type Catalog map[string]*ToolConfig

// LoadCatalog loads every named tool from dir.
func LoadCatalog(dir string, tools []string) (Catalog, error) {
	cat := make(Catalog, len(tools))
	for _, name := range tools {
		cfg, err := LoadTool(dir, name)
		if err != nil {
			return nil, err
		}
		cat[name] = cfg
	}
	return cat, nil
}

// Tool returns the config for name or a configuration error.
func (c Catalog) Tool(name string) (*ToolConfig, error) {
	cfg, ok := c[name]
	if !ok || cfg == nil {
		return nil, &Error{Tool: name, Msg: "unknown tool"}
	}
	return cfg, nil
}
