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

package report

import (
	"slices"
	"sync"
)

const defaultLevel = "warning"

// ToolInfo is the fixed description a tool contributes to every report.
type ToolInfo struct {
	Name           string
	FullName       string
	Version        string
	InformationURI string
	Description    string
}

// Occurrence is one reported finding in one file.
type Occurrence struct {
	RuleID   string
	Level    string
	Message  string
	Line     int
	Column   int
	Snippet  string
	Contract string
	Function string
}

// Entry is everything one (tool, file) result contributes to a report.
type Entry struct {
	Tool        ToolInfo
	File        string
	Occurrences []Occurrence
}

type ruleKey struct {
	tool string
	id   string
}

type locationKey struct {
	name string
	kind string
}

type runState struct {
	run       *Run
	rules     map[ruleKey]int
	artifacts map[string]struct{}
	locations map[locationKey]struct{}
}

// Builder accumulates entries into one run per tool. It is safe for concurrent use.
type Builder struct {
	mu    sync.Mutex
	runs  map[string]*runState
	order []string
}

func NewBuilder() *Builder {
	return &Builder{runs: map[string]*runState{}}
}

// Assemble builds a log from entries in order.
func Assemble(entries []Entry) *Log {
	b := NewBuilder()
	for _, e := range entries {
		b.Add(e)
	}
	return b.Log()
}

func (b *Builder) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs := b.runFor(e.Tool)
	rs.addArtifact(e.File)
	for _, o := range e.Occurrences {
		idx := rs.addRule(e.Tool.Name, o.RuleID)

		loc := Location{PhysicalLocation: PhysicalLocation{ArtifactLocation: ArtifactLocation{URI: e.File}}}
		if o.Line > 0 || o.Column > 0 || o.Snippet != "" {
			region := &Region{StartLine: o.Line, StartColumn: o.Column}
			if o.Snippet != "" {
				region.Snippet = &Message{Text: o.Snippet}
			}
			loc.PhysicalLocation.Region = region
		}
		if o.Contract != "" {
			ll := LogicalLocation{Name: o.Contract, Kind: "contract"}
			rs.addLocation(ll)
			loc.LogicalLocations = append(loc.LogicalLocations, ll)
		}
		if o.Function != "" {
			ll := LogicalLocation{Name: o.Function, Kind: "function"}
			rs.addLocation(ll)
			loc.LogicalLocations = append(loc.LogicalLocations, ll)
		}

		level := o.Level
		if level == "" {
			level = defaultLevel
		}
		msg := o.Message
		if msg == "" {
			msg = o.RuleID
		}
		rs.run.Results = append(rs.run.Results, Result{
			RuleID:    o.RuleID,
			RuleIndex: idx,
			Level:     level,
			Message:   Message{Text: msg},
			Locations: []Location{loc},
		})
	}
}

// Log returns a snapshot of everything added so far.
func (b *Builder) Log() *Log {
	b.mu.Lock()
	defer b.mu.Unlock()

	log := &Log{Version: Version, Schema: Schema, Runs: make([]*Run, 0, len(b.order))}
	for _, name := range b.order {
		src := b.runs[name].run
		run := *src
		run.Tool.Driver.Rules = slices.Clone(src.Tool.Driver.Rules)
		run.Artifacts = slices.Clone(src.Artifacts)
		run.LogicalLocations = slices.Clone(src.LogicalLocations)
		run.Results = slices.Clone(src.Results)
		log.Runs = append(log.Runs, &run)
	}
	return log
}

func (b *Builder) runFor(info ToolInfo) *runState {
	if rs, ok := b.runs[info.Name]; ok {
		return rs
	}
	driver := ToolComponent{
		Name:           info.Name,
		FullName:       info.FullName,
		Version:        info.Version,
		InformationURI: info.InformationURI,
		Rules:          []Rule{},
	}
	if info.Description != "" {
		driver.FullDescription = &Message{Text: info.Description}
	}
	rs := &runState{
		run: &Run{
			Tool:      Tool{Driver: driver},
			Artifacts: []Artifact{},
			Results:   []Result{},
		},
		rules:     map[ruleKey]int{},
		artifacts: map[string]struct{}{},
		locations: map[locationKey]struct{}{},
	}
	b.runs[info.Name] = rs
	b.order = append(b.order, info.Name)
	return rs
}

// addRule returns the index of the rule, adding it on first sight.
func (rs *runState) addRule(tool, id string) int {
	key := ruleKey{tool: tool, id: id}
	if idx, ok := rs.rules[key]; ok {
		return idx
	}
	rules := &rs.run.Tool.Driver.Rules
	*rules = append(*rules, Rule{
		ID:               id,
		Name:             id,
		ShortDescription: &Message{Text: id},
		Properties:       &Bag{Tool: tool},
	})
	rs.rules[key] = len(*rules) - 1
	return len(*rules) - 1
}

func (rs *runState) addArtifact(uri string) {
	if _, ok := rs.artifacts[uri]; ok {
		return
	}
	rs.artifacts[uri] = struct{}{}
	rs.run.Artifacts = append(rs.run.Artifacts, Artifact{Location: ArtifactLocation{URI: uri}})
}

func (rs *runState) addLocation(ll LogicalLocation) {
	key := locationKey{name: ll.Name, kind: ll.Kind}
	if _, ok := rs.locations[key]; ok {
		return
	}
	rs.locations[key] = struct{}{}
	rs.run.LogicalLocations = append(rs.run.LogicalLocations, ll)
}
