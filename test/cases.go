// Package test loads the shared YAML test cases.
package test

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nasdf/glyco/match"
	"github.com/nasdf/glyco/structure"
	"gopkg.in/yaml.v3"
)

//go:embed cases
var casesFS embed.FS

type TestCase struct {
	// Description is a simple description for the test case.
	Description string `yaml:"description"`
	// Records are created in order before any check runs.
	Records []Record `yaml:"records"`
	// Queries are filter expressions and the ids they return.
	Queries []Query `yaml:"queries"`
	// Subtrees are structural searches and the ids they return.
	Subtrees []Subtree `yaml:"subtrees"`
	// Matches are fragment matching runs and their expected summaries.
	Matches []Match `yaml:"matches"`
}

// Record is a record to create.
type Record struct {
	Structure Structure `yaml:"structure"`
	Flags     []string  `yaml:"flags"`
	// Mass overrides the computed mass when set.
	Mass *float64 `yaml:"mass"`
}

type Query struct {
	Filter string  `yaml:"filter"`
	IDs    []int64 `yaml:"ids"`
}

type Subtree struct {
	// Filter optionally narrows the records searched.
	Filter string    `yaml:"filter"`
	Query  Structure `yaml:"query"`
	IDs    []int64   `yaml:"ids"`
}

type Match struct {
	Fragments []Fragment `yaml:"fragments"`
	Peaks     []Peak     `yaml:"peaks"`
	Tolerance float64    `yaml:"tolerance"`
	// Groups are the masses of the matched groups in order.
	Groups   []float64 `yaml:"groups"`
	Observed int       `yaml:"observed"`
	Expected int       `yaml:"expected"`
	Coverage float64   `yaml:"coverage"`
}

type Fragment struct {
	Mass float64  `yaml:"mass"`
	Keys []string `yaml:"keys"`
}

type Peak struct {
	Scan      int     `yaml:"scan"`
	Mass      float64 `yaml:"mass"`
	Intensity float64 `yaml:"intensity"`
	Charge    int     `yaml:"charge"`
}

// Structure is a structure written as residues and linkages. The first
// residue is the root.
type Structure struct {
	Nodes []Node `yaml:"nodes"`
	Links []Link `yaml:"links"`
}

type Node struct {
	Base string `yaml:"base"`
	// Substituents are written as position:name, for example "2:n_acetyl".
	Substituents []string `yaml:"substituents"`
	Open         bool     `yaml:"open"`
}

type Link struct {
	Parent int `yaml:"parent"`
	Child  int `yaml:"child"`
	// Bond is written as anomer, child position and parent position, for
	// example "b1-4".
	Bond string `yaml:"bond"`
}

// Build returns the structure described by s.
func (s Structure) Build() (*structure.Structure, error) {
	nodes := make([]structure.Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		subs := make([]structure.Substituent, 0, len(n.Substituents))
		for _, sub := range n.Substituents {
			pos, name, ok := strings.Cut(sub, ":")
			if !ok {
				return nil, fmt.Errorf("invalid substituent %q", sub)
			}
			position, err := strconv.Atoi(pos)
			if err != nil {
				return nil, fmt.Errorf("invalid substituent %q: %w", sub, err)
			}
			subs = append(subs, structure.Substituent{Position: position, Name: name})
		}
		node := structure.NewNode(n.Base, subs...)
		node.Open = n.Open
		nodes = append(nodes, node)
	}
	links := make([]structure.Linkage, 0, len(s.Links))
	for _, l := range s.Links {
		bond, err := structure.ParseBond(l.Bond)
		if err != nil {
			return nil, err
		}
		links = append(links, structure.Linkage{Parent: l.Parent, Child: l.Child, Bond: bond})
	}
	return structure.FromParts(nodes, 0, links)
}

// Candidate returns the match candidate of the case.
func (m Match) Candidate() match.Candidate {
	var c match.Candidate
	for _, f := range m.Fragments {
		c.Fragments = append(c.Fragments, match.Fragment{Mass: f.Mass, Keys: f.Keys})
	}
	return c
}

// MatchPeaks returns the peaks of the case.
func (m Match) MatchPeaks() []match.Peak {
	peaks := make([]match.Peak, 0, len(m.Peaks))
	for _, p := range m.Peaks {
		peaks = append(peaks, match.Peak{ScanID: p.Scan, Mass: p.Mass, Intensity: p.Intensity, Charge: p.Charge})
	}
	return peaks
}

// TestCasePaths returns a list of all test case file paths.
func TestCasePaths() (paths []string, _ error) {
	return paths, fs.WalkDir(casesFS, "cases", func(path string, d fs.DirEntry, err error) error {
		if filepath.Ext(path) == ".yaml" {
			paths = append(paths, path)
		}
		return err
	})
}

// LoadTestCase loads and parses a test case file.
func LoadTestCase(path string) (*TestCase, error) {
	data, err := fs.ReadFile(casesFS, path)
	if err != nil {
		return nil, err
	}
	var testCase TestCase
	if err := yaml.Unmarshal(data, &testCase); err != nil {
		return nil, err
	}
	return &testCase, nil
}
