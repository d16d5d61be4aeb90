package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"contractbench/src/model"
)

func exited(code int) *int { return &code }

func task(tool string) model.Task {
	return model.Task{Tool: tool, File: "/contracts/Wallet.sol"}
}

func TestVandal_ReentrantCallFinding(t *testing.T) {
	raw := &model.RawOutput{
		Output:   "+ /vandal/bin/decompile contract.hex\nwriting reentrantCall.csv\n+ souffle -F facts-tmp\n+ rm -rf facts-tmp",
		ExitCode: exited(0),
		Status:   model.TaskCompleted,
	}
	r := Parse(Vandal{}, task("vandal"), raw)

	assert.True(t, r.HasFinding("ReentrantCall"))
	assert.Equal(t, []string{"ReentrantCall"}, r.Analysis())
	assert.Empty(t, r.Messages())
	assert.Empty(t, r.Fails())
	assert.Empty(t, r.Errors())
}

func TestVandal_ExitOneIsAlwaysRetracted(t *testing.T) {
	raw := &model.RawOutput{
		Output:   "+ /vandal/bin/decompile x\n+ souffle -F facts-tmp\n+ rm -rf facts-tmp",
		ExitCode: exited(1),
		Status:   model.TaskCompleted,
	}
	r := Parse(Vandal{}, task("vandal"), raw)
	assert.Empty(t, r.Errors())
	assert.Empty(t, r.Findings())

	raw.ExitCode = exited(2)
	r = Parse(Vandal{}, task("vandal"), raw)
	assert.Equal(t, []string{"EXIT_CODE_2"}, r.Errors())
}

func TestVandal_FactFilePolicy(t *testing.T) {
	trace := "+ /vandal/bin/decompile x\n+ souffle -F facts-tmp\n+ rm -rf facts-tmp\n"

	t.Run("sole failure is kept", func(t *testing.T) {
		raw := &model.RawOutput{Output: trace + "Error loading data: Cannot open fact file x.facts"}
		r := Parse(Vandal{}, task("vandal"), raw)
		assert.Equal(t, []string{vandalFactFile}, r.Fails())
		assert.True(t, r.HasMessage(MsgIncomplete))
		assert.False(t, r.HasFail(FailExecution))
	})

	t.Run("dropped next to another failure", func(t *testing.T) {
		a := vandalWithExtraFail{}
		raw := &model.RawOutput{Output: trace + "Error loading data: Cannot open fact file x.facts\nSegmentation fault"}
		r := Parse(a, task("vandal"), raw)
		assert.Equal(t, []string{"Segmentation fault"}, r.Fails())
		assert.True(t, r.HasMessage(MsgIncomplete))
	})

	t.Run("missing trace marks incomplete", func(t *testing.T) {
		raw := &model.RawOutput{Output: "+ /vandal/bin/decompile x\n+ rm -rf facts-tmp"}
		r := Parse(Vandal{}, task("vandal"), raw)
		assert.True(t, r.HasMessage(MsgIncomplete))
		assert.Equal(t, []string{FailExecution}, r.Fails())
	})
}

type vandalWithExtraFail struct{ Vandal }

func (v vandalWithExtraFail) Rules() Rules {
	r := v.Vandal.Rules()
	r.Fails = append(r.Fails, regexp.MustCompile(`^Segmentation fault`))
	return r
}

func TestSmartcheck_Records(t *testing.T) {
	r := Parse(Smartcheck{}, task("smartcheck"), &model.RawOutput{Output: "ruleId: foo\nseverity:3\nline:10\n"})

	assert.Equal(t, []map[string]any{{"name": "foo", "severity": 3, "line": 10}}, r.Analysis())
	assert.Equal(t, []string{"foo"}, r.Findings())
}

func TestSmartcheck_MultipleRecords(t *testing.T) {
	out := strings.Join([]string{
		"/data/Wallet.sol",
		"jar:file:/smartcheck.jar!/solidity-rules.xml",
		"ruleId: SOLIDITY_TX_ORIGIN",
		"patternId: 12e802",
		"severity: 2",
		"line: 10",
		"column: 16",
		"content: tx.origin",
		"ruleId: SOLIDITY_PRAGMAS_VERSION",
		"severity: 1",
		"line: 1",
		"column: 0",
		"content: pragma solidity ^0.4.24 :",
		"ruleId: SOLIDITY_TX_ORIGIN",
		"line: 22",
	}, "\n")
	r := Parse(Smartcheck{}, task("smartcheck"), &model.RawOutput{Output: out})

	records := r.Analysis().([]map[string]any)
	require.Len(t, records, 3)
	assert.Equal(t, "12e802", records[0]["patternId"])
	assert.Equal(t, 16, records[0]["column"])
	assert.NotContains(t, records[1], "content", "lines containing ' :' are ignored")
	assert.Equal(t, []string{"SOLIDITY_PRAGMAS_VERSION", "SOLIDITY_TX_ORIGIN"}, r.Findings())

	e := Entry(Smartcheck{}, "Wallet.sol", r)
	require.Len(t, e.Occurrences, 3)
	assert.Equal(t, "warning", e.Occurrences[0].Level)
	assert.Equal(t, 10, e.Occurrences[0].Line)
	assert.Equal(t, "tx.origin", e.Occurrences[0].Snippet)
	assert.Equal(t, "note", e.Occurrences[1].Level)
	assert.Empty(t, e.Occurrences[2].Level)
	assert.Equal(t, "SmartCheck", e.Tool.Name)
	for _, o := range e.Occurrences {
		assert.Equal(t, "Wallet", o.Contract)
	}
}

func TestSmartcheck_JavaExceptionIsAnError(t *testing.T) {
	out := strings.Join([]string{
		"/data/Wallet.sol",
		`Exception in thread "main" java.lang.OutOfMemoryError: Java heap space`,
		"\tat ru.smartdec.smartcheck.app.cli.Tool.main(Tool.java:42)",
	}, "\n")
	r := Parse(Smartcheck{}, task("smartcheck"), &model.RawOutput{Output: out, ExitCode: exited(1), Status: model.TaskCompleted})

	assert.Equal(t, []string{"java.lang.OutOfMemoryError"}, r.Errors())
	assert.Empty(t, r.Findings())
}

func TestPakala_CoverageAndNothingToReport(t *testing.T) {
	out := "Analyzing contract at 0x0\nStarting symbolic execution step...\nSymbolic execution finished with coverage 42%.\nNothing to report."
	r := Parse(Pakala{}, task("pakala"), &model.RawOutput{Output: out, ExitCode: exited(0), Status: model.TaskCompleted})

	assert.Equal(t, []map[string]any{{"vulnerabilities": []string{}, "coverage": "42%"}}, r.Analysis())
	assert.False(t, r.HasMessage(MsgIncomplete))
	assert.Empty(t, r.Fails())
	assert.Empty(t, r.Errors())
}

func TestPakala_TimeoutWithPartialOutput(t *testing.T) {
	raw := &model.RawOutput{Output: "Analyzing contract at /data/Wallet.hex", Status: model.TaskTimedOut}
	r := Parse(Pakala{}, task("pakala"), raw)

	assert.True(t, r.HasMessage(MsgIncomplete))
	assert.True(t, r.HasMessage(MsgTimeout))
	assert.Equal(t, []string{FailExecution}, r.Fails())
	assert.Empty(t, r.Errors())
}

func TestPakala_Findings(t *testing.T) {
	out := strings.Join([]string{
		"2022-08-06 12:00:00 pakala.analyzer[3] INFO Found call bug.",
		"2022-08-06 12:00:01 pakala.analyzer[3] INFO Found selfdestruct bug.",
		"======> Bug found! Need 2 transactions. <======",
	}, "\n")
	r := Parse(Pakala{}, task("pakala"), &model.RawOutput{Output: out, ExitCode: exited(1)})

	assert.Equal(t, []string{"call bug", "selfdestruct bug"}, r.Findings())
	assert.Empty(t, r.Errors(), "exit 1 is explained by the findings")
	assert.False(t, r.HasMessage(MsgIncomplete))
}

func TestPakala_ExitOneWithoutExplanationKeepsMarker(t *testing.T) {
	r := Parse(Pakala{}, task("pakala"), &model.RawOutput{Output: "Nothing to report.", ExitCode: exited(1)})
	assert.Equal(t, []string{ExitCodeMarker(1)}, r.Errors())
}

func TestPakala_Traceback(t *testing.T) {
	out := strings.Join([]string{
		"Analyzing contract at 0x0",
		"Traceback (most recent call last):",
		`  File "/usr/local/bin/pakala", line 8, in <module>`,
		"    sys.exit(main())",
		"z3.z3types.Z3Exception: b'timeout'",
	}, "\n")
	r := Parse(Pakala{}, task("pakala"), &model.RawOutput{Output: out, ExitCode: exited(1)})

	assert.Equal(t, []string{"exception (z3.z3types.Z3Exception)"}, r.Fails())
	assert.Empty(t, r.Errors())
	assert.True(t, r.HasMessage(MsgIncomplete))
}

func TestParse_SandboxError(t *testing.T) {
	r := Parse(Vandal{}, task("vandal"), &model.RawOutput{Status: model.TaskFailed, Err: errors.New("daemon gone")})
	assert.Equal(t, []string{ErrSandbox}, r.Errors())
	assert.Empty(t, r.Messages(), "empty output is never incomplete")
}

func TestParse_NilRaw(t *testing.T) {
	r := Parse(Pakala{}, task("pakala"), nil)
	assert.Empty(t, r.Errors())
	assert.Empty(t, r.Messages())
}

func TestGeneric_ExitMarker(t *testing.T) {
	a := Lookup("slither")
	require.IsType(t, Generic{}, a)

	r := Parse(a, task("slither"), &model.RawOutput{Output: "something", ExitCode: exited(3)})
	assert.Equal(t, []string{"EXIT_CODE_3"}, r.Errors())
	assert.Empty(t, r.Findings())
	assert.Empty(t, Entry(a, "Wallet.sol", r).Occurrences)
}

func TestLookup_Registered(t *testing.T) {
	assert.Equal(t, []string{"pakala", "smartcheck", "vandal"}, Registered())
	assert.Equal(t, "vandal", Lookup("vandal").Name())
}

func TestEntry_OneOccurrencePerFinding(t *testing.T) {
	out := "x originUsed.csv\ny destroyable.csv\n"
	r := Parse(Vandal{}, task("vandal"), &model.RawOutput{Output: out})
	e := Entry(Vandal{}, "a.hex", r)

	assert.Equal(t, "Vandal", e.Tool.Name)
	require.Len(t, e.Occurrences, 2)
	assert.Equal(t, "Destroyable", e.Occurrences[0].RuleID)
	assert.Equal(t, "OriginUsed", e.Occurrences[1].RuleID)
}

func TestResult_JSON(t *testing.T) {
	r := Parse(Vandal{}, task("vandal"), &model.RawOutput{})
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "vandal", decoded["tool"])
	assert.Equal(t, map[string]any{"name": "vandal", "version": "2022/08/05"}, decoded["parser"])
	assert.Equal(t, []any{}, decoded["findings"])
	assert.Equal(t, []any{}, decoded["fails"])
}

func TestResult_AccessorsCopy(t *testing.T) {
	r := Parse(Vandal{}, task("vandal"), &model.RawOutput{Output: "reentrantCall.csv"})
	f := r.Findings()
	f[0] = "changed"
	assert.Equal(t, []string{"ReentrantCall"}, r.Findings())
}

func TestClassify_LineInAtMostOneBucket(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		words := []string{"warn", "fail", "error", "boom", "ok", "Traceback (most recent call last):", "ValueError: bad"}
		line := rapid.Custom(func(t *rapid.T) string {
			parts := rapid.SliceOfN(rapid.SampledFrom(words), 0, 3).Draw(t, "parts")
			return strings.Join(parts, " ")
		})
		lines := rapid.SliceOfN(line, 0, 20).Draw(t, "lines")

		rules := Rules{
			Skip:       func(l string) bool { return strings.HasPrefix(l, "ok") },
			Messages:   []*regexp.Regexp{regexp.MustCompile(`warn`)},
			Fails:      []*regexp.Regexp{regexp.MustCompile(`(fail)`)},
			Errors:     []*regexp.Regexp{regexp.MustCompile(`error|boom`)},
			Tracebacks: true,
		}
		got := Classify(rules, lines)
		if len(got) != len(lines) {
			t.Fatalf("got %d classifications for %d lines", len(got), len(lines))
		}
		for i, c := range got {
			l := lines[i]
			var want Bucket
			switch {
			case strings.HasPrefix(l, "ok"):
				want = BucketSkipped
			case strings.Contains(l, "warn"):
				want = BucketMessage
			case strings.Contains(l, "fail"):
				want = BucketFail
			case strings.Contains(l, "error") || strings.Contains(l, "boom"):
				want = BucketError
			}
			if want != BucketNone && c.Bucket != want {
				t.Fatalf("line %q: bucket %d, want %d", l, c.Bucket, want)
			}
			if c.Bucket != BucketNone && c.Bucket != BucketSkipped && c.Value == "" {
				t.Fatalf("line %q classified without a value", l)
			}
		}
	})
}

func TestExitCodeMarker(t *testing.T) {
	for _, code := range []int{1, 2, 137} {
		assert.Equal(t, fmt.Sprintf("EXIT_CODE_%d", code), ExitCodeMarker(code))
	}
}
