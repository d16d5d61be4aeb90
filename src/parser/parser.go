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

// Package parser turns the raw output of an analysis tool into a Result.
//
// Parsing runs in a fixed order:
//  1. every line not skipped by Rules.Skip is classified into at most one of
//     message, fail or error (Rules.Messages, then Rules.Fails, then
//     Rules.Errors, then a Python exception line when Rules.Tracebacks);
//  2. a non-zero exit status with no fail or error recorded adds EXIT_CODE_<n>;
//  3. the adapter extracts findings and analysis;
//  4. the exit marker is retracted according to Rules.ExitCodes;
//  5. adapters implementing CompletionChecker mark incomplete runs;
//  6. adapters implementing Finalizer get the last word.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"contractbench/src/model"
	"contractbench/src/report"
)

const (
	MsgIncomplete = "analysis incomplete"
	MsgTimeout    = "execution timed out"
	FailExecution = "execution failed"
	ErrSandbox    = "sandbox error"
)

// Retraction says when an adapter withdraws the generic exit-code marker.
type Retraction int

const (
	RetractNever Retraction = iota
	RetractAlways
	// RetractIfExplained withdraws the marker once a finding or fail accounts for it.
	RetractIfExplained
)

// Rules is the declarative part of an adapter.
type Rules struct {
	Skip       func(line string) bool
	Messages   []*regexp.Regexp
	Fails      []*regexp.Regexp
	Errors     []*regexp.Regexp
	Tracebacks bool
	ExitCodes  map[int]Retraction
}

type Adapter interface {
	Name() string
	Version() string
	Info() report.ToolInfo
	Rules() Rules
	Extract(out *Output)
}

// CompletionChecker is implemented by adapters whose tool prints a terminal marker.
type CompletionChecker interface {
	Completed(out *Output) bool
}

type Finalizer interface {
	Finalize(out *Output)
}

// Occurrer is implemented by adapters with located findings.
type Occurrer interface {
	Occurrences(r *Result) []report.Occurrence
}

// Output is the working state of one parse.
type Output struct {
	Raw      string
	Lines    []string
	Messages Set
	Fails    Set
	Errors   Set
	Findings Set
	Analysis any
}

func newOutput(raw string) *Output {
	return &Output{
		Raw:      raw,
		Lines:    splitLines(raw),
		Messages: Set{},
		Fails:    Set{},
		Errors:   Set{},
		Findings: Set{},
	}
}

func ExitCodeMarker(code int) string {
	return fmt.Sprintf("EXIT_CODE_%d", code)
}

// Parse normalizes one task's raw output with adapter a.
func Parse(a Adapter, task model.Task, raw *model.RawOutput) *Result {
	rules := a.Rules()

	var text string
	if raw != nil {
		text = raw.Output
	}
	out := newOutput(text)
	for _, c := range Classify(rules, out.Lines) {
		switch c.Bucket {
		case BucketMessage:
			out.Messages.Add(c.Value)
		case BucketFail:
			out.Fails.Add(c.Value)
		case BucketError:
			out.Errors.Add(c.Value)
		}
	}

	if raw != nil {
		switch {
		case raw.Err != nil:
			out.Errors.Add(ErrSandbox)
		case raw.Status == model.TaskTimedOut:
			out.Messages.Add(MsgTimeout)
		}
	}

	code, exited := raw.Exited()
	marker := ""
	if exited && code != 0 && out.Fails.Len() == 0 && out.Errors.Len() == 0 {
		marker = ExitCodeMarker(code)
		out.Errors.Add(marker)
	}

	a.Extract(out)

	if marker != "" {
		switch rules.ExitCodes[code] {
		case RetractAlways:
			out.Errors.Remove(marker)
		case RetractIfExplained:
			if out.Findings.Len() > 0 || out.Fails.Len() > 0 {
				out.Errors.Remove(marker)
			}
		}
	}

	if c, ok := a.(CompletionChecker); ok && len(out.Lines) > 0 && !c.Completed(out) {
		out.Messages.Add(MsgIncomplete)
		if out.Fails.Len() == 0 && out.Errors.Len() == 0 {
			out.Fails.Add(FailExecution)
		}
	}

	if f, ok := a.(Finalizer); ok {
		f.Finalize(out)
	}

	return newResult(a, task, out)
}

// Bucket is where generic classification put a line.
type Bucket int

const (
	BucketNone Bucket = iota
	BucketSkipped
	BucketMessage
	BucketFail
	BucketError
)

type Classification struct {
	Bucket Bucket
	Value  string
}

var (
	tracebackStart = "Traceback (most recent call last)"
	exceptionLine  = regexp.MustCompile(`^([A-Za-z_][\w.]*(?:Error|Exception|Exit|Interrupt))(?::|$)`)
)

// Classify assigns every line to at most one bucket.
func Classify(r Rules, lines []string) []Classification {
	out := make([]Classification, len(lines))
	inTraceback := false
	for i, line := range lines {
		if r.Skip != nil && r.Skip(line) {
			out[i] = Classification{Bucket: BucketSkipped}
			continue
		}
		if v, ok := match(line, r.Messages); ok {
			out[i] = Classification{Bucket: BucketMessage, Value: v}
			continue
		}
		if v, ok := match(line, r.Fails); ok {
			out[i] = Classification{Bucket: BucketFail, Value: v}
			continue
		}
		if v, ok := match(line, r.Errors); ok {
			out[i] = Classification{Bucket: BucketError, Value: v}
			continue
		}
		if !r.Tracebacks {
			continue
		}
		if strings.HasPrefix(line, tracebackStart) {
			inTraceback = true
			continue
		}
		if inTraceback {
			if m := exceptionLine.FindStringSubmatch(line); m != nil {
				out[i] = Classification{Bucket: BucketFail, Value: "exception (" + m[1] + ")"}
				inTraceback = false
			}
		}
	}
	return out
}

// match returns the first capture group of the first matching pattern, or the
// trimmed line when the pattern has no group.
func match(line string, patterns []*regexp.Regexp) (string, bool) {
	for _, p := range patterns {
		m := p.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if len(m) > 1 && m[1] != "" {
			return m[1], true
		}
		return strings.TrimSpace(line), true
	}
	return "", false
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\r\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
