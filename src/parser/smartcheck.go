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
	"strconv"
	"strings"

	"contractbench/src/model"
	"contractbench/src/report"
)

const smartcheckRuleID = "ruleId: "

// Smartcheck wraps SmartCheck, whose report is a sequence of key:value blocks
// each opened by a ruleId line.
type Smartcheck struct{}

func (Smartcheck) Name() string    { return "smartcheck" }
func (Smartcheck) Version() string { return "2022/08/05" }

func (Smartcheck) Info() report.ToolInfo {
	return report.ToolInfo{
		Name:           "SmartCheck",
		Version:        "0.0.12",
		InformationURI: "https://tool.smartdec.net/",
		Description:    "SmartCheck automatically checks for vulnerabilities and bad coding practices. It runs lexical and syntactical analysis on Solidity source code.",
	}
}

// SmartCheck runs on the JVM; an uncaught exception ends the analysis.
var smartcheckErrors = []*regexp.Regexp{
	regexp.MustCompile(`^Exception in thread "[^"]*" ([\w.$]+)`),
}

func (Smartcheck) Rules() Rules { return Rules{Errors: smartcheckErrors} }

func (Smartcheck) Extract(out *Output) {
	records := []map[string]any{}
	var current map[string]any
	for _, line := range out.Lines {
		if i := strings.Index(line, smartcheckRuleID); i >= 0 {
			if current != nil {
				records = append(records, current)
			}
			current = map[string]any{"name": line[i+len(smartcheckRuleID):]}
			continue
		}
		if current == nil || !strings.Contains(line, ":") || strings.Contains(line, " :") {
			continue
		}
		key, value, _ := strings.Cut(line, ":")
		value = strings.TrimSpace(value)
		if isDigits(value) {
			if n, err := strconv.Atoi(value); err == nil {
				current[key] = n
				continue
			}
		}
		current[key] = value
	}
	if current != nil {
		records = append(records, current)
	}
	for _, r := range records {
		out.Findings.Add(r["name"].(string))
	}
	out.Analysis = records
}

// Occurrences yields one occurrence per reported record, located in the
// contract the analyzed file is named after.
func (Smartcheck) Occurrences(r *Result) []report.Occurrence {
	records, _ := r.Analysis().([]map[string]any)
	contract := model.Task{File: r.File()}.Name()
	occs := make([]report.Occurrence, 0, len(records))
	for _, rec := range records {
		name, _ := rec["name"].(string)
		o := report.Occurrence{RuleID: name, Contract: contract}
		if sev, ok := rec["severity"].(int); ok {
			o.Level = severityLevel(sev)
		}
		o.Line, _ = rec["line"].(int)
		o.Column, _ = rec["column"].(int)
		o.Snippet, _ = rec["content"].(string)
		occs = append(occs, o)
	}
	return occs
}

func severityLevel(sev int) string {
	switch {
	case sev >= 3:
		return "error"
	case sev == 2:
		return "warning"
	default:
		return "note"
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
