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
	"regexp"
	"strings"

	"contractbench/src/report"
)

var (
	pakalaFinding  = regexp.MustCompile(`^.*pakala\.analyzer\[.*\] INFO Found (.* bug)\.`)
	pakalaCoverage = regexp.MustCompile(`^Symbolic execution finished with coverage (.*)\.`)
	pakalaFinished = regexp.MustCompile(`^(?:Nothing to report\.|======> Bug found! Need .* transactions\. <======)`)

	pakalaNoise = []string{
		"Analyzing contract at",
		"Starting symbolic execution step...",
		"Symbolic execution finished with coverage",
		"Outcomes: ",
	}
)

// Pakala wraps the pakala symbolic executor.
type Pakala struct{}

func (Pakala) Name() string    { return "pakala" }
func (Pakala) Version() string { return "2022/08/06" }

func (Pakala) Info() report.ToolInfo {
	return report.ToolInfo{
		Name:           "Pakala",
		Version:        "2022/08/06",
		InformationURI: "https://github.com/palkeo/pakala",
		Description:    "Pakala is a symbolic execution tool for Ethereum bytecode looking for exploitable calls, delegatecalls and selfdestructs.",
	}
}

func (Pakala) Rules() Rules {
	return Rules{
		Skip: func(line string) bool {
			for _, p := range pakalaNoise {
				if strings.HasPrefix(line, p) {
					return true
				}
			}
			return false
		},
		Tracebacks: true,
		// exit 1 comes with a traceback or a reported bug
		ExitCodes: map[int]Retraction{1: RetractIfExplained},
	}
}

func (Pakala) Extract(out *Output) {
	coverage := ""
	for _, line := range out.Lines {
		if m := pakalaCoverage.FindStringSubmatch(line); m != nil {
			coverage = m[1]
		}
		if m := pakalaFinding.FindStringSubmatch(line); m != nil {
			out.Findings.Add(m[1])
		}
	}
	analysis := map[string]any{"vulnerabilities": out.Findings.Sorted()}
	if coverage != "" {
		analysis["coverage"] = coverage
	}
	out.Analysis = []map[string]any{analysis}
}

func (Pakala) Completed(out *Output) bool {
	for _, line := range out.Lines {
		if pakalaFinished.MatchString(line) {
			return true
		}
	}
	return false
}
