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

// Package report assembles normalized tool results into SARIF 2.1.0 logs.
package report

import (
	"encoding/json"
	"io"
	"os"
)

const (
	Version = "2.1.0"
	Schema  = "https://json.schemastore.org/sarif-2.1.0.json"
)

type Log struct {
	Version string `json:"version"`
	Schema  string `json:"$schema"`
	Runs    []*Run `json:"runs"`
}

// Run is the report graph of one tool.
type Run struct {
	Tool             Tool              `json:"tool"`
	Artifacts        []Artifact        `json:"artifacts"`
	LogicalLocations []LogicalLocation `json:"logicalLocations,omitempty"`
	Results          []Result          `json:"results"`
}

type Tool struct {
	Driver ToolComponent `json:"driver"`
}

type ToolComponent struct {
	Name            string   `json:"name"`
	FullName        string   `json:"fullName,omitempty"`
	Version         string   `json:"version,omitempty"`
	InformationURI  string   `json:"informationUri,omitempty"`
	FullDescription *Message `json:"fullDescription,omitempty"`
	Rules           []Rule   `json:"rules"`
}

type Message struct {
	Text string `json:"text"`
}

type Rule struct {
	ID               string   `json:"id"`
	Name             string   `json:"name,omitempty"`
	ShortDescription *Message `json:"shortDescription,omitempty"`
	Properties       *Bag     `json:"properties,omitempty"`
}

type Bag struct {
	Tool string `json:"tool,omitempty"`
}

type Artifact struct {
	Location ArtifactLocation `json:"location"`
}

type ArtifactLocation struct {
	URI string `json:"uri"`
}

type LogicalLocation struct {
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

type Result struct {
	RuleID    string     `json:"ruleId"`
	RuleIndex int        `json:"ruleIndex"`
	Level     string     `json:"level,omitempty"`
	Message   Message    `json:"message"`
	Locations []Location `json:"locations"`
}

type Location struct {
	PhysicalLocation PhysicalLocation  `json:"physicalLocation"`
	LogicalLocations []LogicalLocation `json:"logicalLocations,omitempty"`
}

type PhysicalLocation struct {
	ArtifactLocation ArtifactLocation `json:"artifactLocation"`
	Region           *Region          `json:"region,omitempty"`
}

type Region struct {
	StartLine   int      `json:"startLine,omitempty"`
	StartColumn int      `json:"startColumn,omitempty"`
	Snippet     *Message `json:"snippet,omitempty"`
}

// Write encodes the log as indented JSON.
func (l *Log) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(l)
}

func (l *Log) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := l.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
