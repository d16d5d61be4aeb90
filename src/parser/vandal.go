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

const vandalFactFile = "Cannot open fact file"

var vandalIndicators = []struct {
	csv     string
	finding string
}{
	{"checkedCallStateUpdate.csv", "CheckedCallStateUpdate"},
	{"destroyable.csv", "Destroyable"},
	{"originUsed.csv", "OriginUsed"},
	{"reentrantCall.csv", "ReentrantCall"},
	{"unsecuredValueSend.csv", "UnsecuredValueSend"},
	{"uncheckedCall.csv", "UncheckedCall"},
}

var vandalComplete = regexp.MustCompile(`(?s)` +
	regexp.QuoteMeta("+ /vandal/bin/decompile") + `.*` +
	regexp.QuoteMeta("+ souffle -F facts-tmp") + `.*` +
	regexp.QuoteMeta("+ rm -rf facts-tmp"))

// Vandal wraps the vandal decompiler and its souffle analyses.
type Vandal struct{}

func (Vandal) Name() string    { return "vandal" }
func (Vandal) Version() string { return "2022/08/05" }

func (Vandal) Info() report.ToolInfo {
	return report.ToolInfo{
		Name:           "Vandal",
		Version:        "0.0.1",
		InformationURI: "https://github.com/usyd-blockchain/vandal",
		Description:    "Vandal is a static program analysis framework for Ethereum smart contract bytecode.",
	}
}

func (Vandal) Rules() Rules {
	return Rules{
		Messages: []*regexp.Regexp{regexp.MustCompile(`(Warning: Deprecated type declaration) used in file types.dl at line`)},
		Fails:    []*regexp.Regexp{regexp.MustCompile(`Error loading data: (Cannot open fact file)`)},
		// vandal exits 1 on a clean run and 0 when it reports findings
		ExitCodes: map[int]Retraction{1: RetractAlways},
	}
}

func (Vandal) Extract(out *Output) {
	for _, line := range out.Lines {
		for _, ind := range vandalIndicators {
			if strings.Contains(line, ind.csv) {
				out.Findings.Add(ind.finding)
				break
			}
		}
	}
	out.Analysis = out.Findings.Sorted()
}

func (Vandal) Completed(out *Output) bool {
	return vandalComplete.MatchString(out.Raw) && !out.Fails.Has(vandalFactFile)
}

// Finalize keeps the fact file failure only when it is the sole failure.
func (Vandal) Finalize(out *Output) {
	if out.Fails.Has(vandalFactFile) && out.Fails.Len() > 1 {
		out.Fails.Remove(vandalFactFile)
	}
}
