// Package sarif renders match reports as SARIF 2.1.0.
package sarif

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// SARIF 2.1.0 constants
const (
	SchemaURI = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json"
	Version   = "2.1.0"
	ToolName  = "trawl"
)

// ToolVersion is reported in the driver section; the CLI overrides it
// with the build version.
var ToolVersion = "dev"

// Report is the top-level SARIF report structure
type Report struct {
	Schema  string `json:"$schema"`
	Version string `json:"version"`
	Runs    []Run  `json:"runs"`

	ruleIndex map[string]int
}

// Run represents a single invocation of the tool
type Run struct {
	Tool    Tool     `json:"tool"`
	Results []Result `json:"results"`
}

// Tool describes the analysis tool
type Tool struct {
	Driver Driver `json:"driver"`
}

// Driver contains tool metadata
type Driver struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Rules   []Rule `json:"rules,omitempty"`
}

// Rule represents a detection rule
type Rule struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	ShortDescription ShortDescription `json:"shortDescription"`
	HelpURI          string           `json:"helpUri,omitempty"`
	Properties       *Properties      `json:"properties,omitempty"`
}

// ShortDescription contains rule description text
type ShortDescription struct {
	Text string `json:"text"`
}

// Properties is the SARIF property bag; only tags are emitted.
type Properties struct {
	Tags []string `json:"tags,omitempty"`
}

// Result represents a single satisfied rule
type Result struct {
	RuleID              string            `json:"ruleId"`
	RuleIndex           int               `json:"ruleIndex"`
	Level               string            `json:"level"`
	Message             Message           `json:"message"`
	Locations           []Location        `json:"locations"`
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
}

// Message contains the result message
type Message struct {
	Text string `json:"text"`
}

// Location describes where a result was found
type Location struct {
	PhysicalLocation PhysicalLocation `json:"physicalLocation"`
	Message          *Message         `json:"message,omitempty"`
}

// PhysicalLocation specifies file location
type PhysicalLocation struct {
	ArtifactLocation ArtifactLocation `json:"artifactLocation"`
	Region           Region           `json:"region"`
}

// ArtifactLocation identifies the file
type ArtifactLocation struct {
	URI string `json:"uri"`
}

// Region specifies the byte range and, for text input, the line/column
// range of one pattern occurrence.
type Region struct {
	ByteOffset  int64    `json:"byteOffset"`
	ByteLength  int      `json:"byteLength"`
	StartLine   int      `json:"startLine,omitempty"`
	StartColumn int      `json:"startColumn,omitempty"`
	EndLine     int      `json:"endLine,omitempty"`
	EndColumn   int      `json:"endColumn,omitempty"`
	Snippet     *Snippet `json:"snippet,omitempty"`
}

// Snippet contains the matched text
type Snippet struct {
	Text string `json:"text"`
}

// NewReport creates a new SARIF report with initialized structure
func NewReport() *Report {
	return &Report{
		Schema:  SchemaURI,
		Version: Version,
		Runs: []Run{
			{
				Tool: Tool{
					Driver: Driver{
						Name:    ToolName,
						Version: ToolVersion,
						Rules:   []Rule{},
					},
				},
				Results: []Result{},
			},
		},
		ruleIndex: make(map[string]int),
	}
}

// AddRule adds a detection rule to the report. The "description" and
// "reference" meta entries fill the description and help URI. Adding a
// rule twice is a no-op.
func (r *Report) AddRule(rule *types.Rule) {
	r.addRule(rule.ID(), rule.Name, rule.Tags, rule.Meta)
}

func (r *Report) addRule(id, name string, tags []string, meta []types.Meta) int {
	if i, ok := r.ruleIndex[id]; ok {
		return i
	}

	sarifRule := Rule{
		ID:   id,
		Name: name,
		ShortDescription: ShortDescription{
			Text: metaString(meta, "description", name),
		},
		HelpURI: metaString(meta, "reference", ""),
	}
	if len(tags) > 0 {
		sarifRule.Properties = &Properties{Tags: tags}
	}

	rules := &r.Runs[0].Tool.Driver.Rules
	*rules = append(*rules, sarifRule)
	r.ruleIndex[id] = len(*rules) - 1
	return len(*rules) - 1
}

// AddReport adds one result for a satisfied rule with a location per
// pattern occurrence. content, when non-nil, is the scanned input and
// enables line/column regions for text.
func (r *Report) AddReport(rep *types.MatchReport, filePath string, content []byte) {
	index := r.addRule(rep.RuleID(), rep.Rule, rep.Tags, rep.Meta)
	uri := formatFileURI(filePath)
	text := content != nil && utf8.Valid(content)

	result := Result{
		RuleID:    rep.RuleID(),
		RuleIndex: index,
		Level:     level(rep.Meta),
		Message: Message{
			Text: fmt.Sprintf("Rule %s matched %d time(s)", rep.RuleID(), rep.MatchCount()),
		},
		Locations: []Location{},
	}
	if rep.StructuralID != "" {
		result.PartialFingerprints = map[string]string{"trawl/v1": rep.StructuralID}
	}

	for _, p := range rep.Patterns {
		for _, m := range p.Matches {
			region := Region{ByteOffset: m.Offset, ByteLength: m.Length}
			if text {
				span := types.Locate(content, m.Span())
				region.StartLine = span.Start.Line
				region.StartColumn = span.Start.Column
				region.EndLine = span.End.Line
				region.EndColumn = span.End.Column
				region.Snippet = &Snippet{Text: string(m.Data)}
			}

			result.Locations = append(result.Locations, Location{
				PhysicalLocation: PhysicalLocation{
					ArtifactLocation: ArtifactLocation{URI: uri},
					Region:           region,
				},
				Message: &Message{Text: p.ID},
			})
		}
	}

	// A rule satisfied without public occurrences still points at the file.
	if len(result.Locations) == 0 {
		result.Locations = append(result.Locations, Location{
			PhysicalLocation: PhysicalLocation{ArtifactLocation: ArtifactLocation{URI: uri}},
		})
	}

	r.Runs[0].Results = append(r.Runs[0].Results, result)
}

// ToJSON serializes the report to JSON bytes
func (r *Report) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// level maps a "severity" meta entry onto a SARIF level. Numeric
// severities run from 1 to 10.
func level(meta []types.Meta) string {
	for _, m := range meta {
		if n, ok := m.Value.(int64); ok && m.Key == "severity" {
			switch {
			case n >= 7:
				return "error"
			case n <= 3:
				return "note"
			default:
				return "warning"
			}
		}
	}

	switch strings.ToLower(metaString(meta, "severity", "")) {
	case "critical", "high", "error":
		return "error"
	case "low", "info", "note":
		return "note"
	default:
		return "warning"
	}
}

func metaString(meta []types.Meta, key, fallback string) string {
	for _, m := range meta {
		if m.Key == key {
			if s, ok := m.Value.(string); ok {
				return s
			}
		}
	}
	return fallback
}

// formatFileURI converts a file path to SARIF URI format
// Absolute paths get file:// prefix, relative paths stay as-is
func formatFileURI(path string) string {
	if filepath.IsAbs(path) {
		path = filepath.ToSlash(path)
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return "file://" + path
	}
	return filepath.ToSlash(path)
}
