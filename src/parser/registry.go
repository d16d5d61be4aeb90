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

package parser

import (
	"maps"
	"slices"
	"sync"

	"contractbench/src/report"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Adapter{}
)

func init() {
	Register(Pakala{})
	Register(Smartcheck{})
	Register(Vandal{})
}

// Register makes an adapter available under its name, replacing any previous one.
func Register(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[a.Name()] = a
}

// Lookup returns the adapter for tool, or a Generic adapter when none is registered.
func Lookup(tool string) Adapter {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if a, ok := registry[tool]; ok {
		return a
	}
	return Generic{Tool: tool}
}

func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Sorted(maps.Keys(registry))
}

// Generic classifies only by exit status. It never reports findings.
type Generic struct {
	Tool string
}

func (g Generic) Name() string  { return g.Tool }
func (Generic) Version() string { return "generic" }

func (g Generic) Info() report.ToolInfo {
	return report.ToolInfo{Name: g.Tool}
}

func (Generic) Rules() Rules        { return Rules{Tracebacks: true} }
func (Generic) Extract(out *Output) { out.Analysis = []any{} }

// Entry converts a result into what it contributes to a SARIF report.
func Entry(a Adapter, file string, r *Result) report.Entry {
	e := report.Entry{Tool: a.Info(), File: file}
	if o, ok := a.(Occurrer); ok {
		e.Occurrences = o.Occurrences(r)
		return e
	}
	for _, f := range r.findings {
		e.Occurrences = append(e.Occurrences, report.Occurrence{RuleID: f})
	}
	return e
}
