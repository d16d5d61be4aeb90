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
	"encoding/json"
	"maps"
	"slices"

	"contractbench/src/model"
)

// Set is a string set.
type Set map[string]struct{}

func (s Set) Add(v string)      { s[v] = struct{}{} }
func (s Set) Remove(v string)   { delete(s, v) }
func (s Set) Has(v string) bool { _, ok := s[v]; return ok }
func (s Set) Len() int          { return len(s) }

// Sorted returns the members in order; never nil.
func (s Set) Sorted() []string {
	out := slices.Sorted(maps.Keys(s))
	if out == nil {
		return []string{}
	}
	return out
}

// Result is the normalized outcome of one task. It is read-only.
type Result struct {
	tool     string
	file     string
	parser   string
	version  string
	messages []string
	fails    []string
	errors   []string
	findings []string
	analysis any
}

func newResult(a Adapter, task model.Task, out *Output) *Result {
	return &Result{
		tool:     task.Tool,
		file:     task.File,
		parser:   a.Name(),
		version:  a.Version(),
		messages: out.Messages.Sorted(),
		fails:    out.Fails.Sorted(),
		errors:   out.Errors.Sorted(),
		findings: out.Findings.Sorted(),
		analysis: out.Analysis,
	}
}

func (r *Result) Tool() string             { return r.tool }
func (r *Result) File() string             { return r.file }
func (r *Result) Messages() []string       { return slices.Clone(r.messages) }
func (r *Result) Fails() []string          { return slices.Clone(r.fails) }
func (r *Result) Errors() []string         { return slices.Clone(r.errors) }
func (r *Result) Findings() []string       { return slices.Clone(r.findings) }
func (r *Result) Analysis() any            { return r.analysis }
func (r *Result) HasMessage(m string) bool { return contains(r.messages, m) }
func (r *Result) HasFail(f string) bool    { return contains(r.fails, f) }
func (r *Result) HasError(e string) bool   { return contains(r.errors, e) }
func (r *Result) HasFinding(f string) bool { return contains(r.findings, f) }

func contains(sorted []string, v string) bool {
	_, ok := slices.BinarySearch(sorted, v)
	return ok
}

type parserInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type resultJSON struct {
	Tool     string     `json:"tool"`
	File     string     `json:"file"`
	Parser   parserInfo `json:"parser"`
	Messages []string   `json:"messages"`
	Fails    []string   `json:"fails"`
	Errors   []string   `json:"errors"`
	Findings []string   `json:"findings"`
	Analysis any        `json:"analysis"`
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Tool:     r.tool,
		File:     r.file,
		Parser:   parserInfo{Name: r.parser, Version: r.version},
		Messages: r.messages,
		Fails:    r.fails,
		Errors:   r.errors,
		Findings: r.findings,
		Analysis: r.analysis,
	})
}
