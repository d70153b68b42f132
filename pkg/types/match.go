package types

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// PatternMatch is a single occurrence of a pattern in the scanned input.
type PatternMatch struct {
	Offset  int64    `json:"offset"`
	Length  int      `json:"length"`
	Data    []byte   `json:"data"`
	Snippet *Snippet `json:"snippet,omitempty"`
}

// Span returns the half-open byte range covered by the match.
func (m PatternMatch) Span() OffsetSpan {
	return OffsetSpan{Start: m.Offset, End: m.Offset + int64(m.Length)}
}

// PatternMatches groups the occurrences of one pattern.
type PatternMatches struct {
	ID      string         `json:"id"`
	Matches []PatternMatch `json:"matches"`
}

// MatchReport describes one satisfied rule.
type MatchReport struct {
	BlobID    BlobID           `json:"blob_id"`
	Rule      string           `json:"rule"`
	Namespace string           `json:"namespace"`
	Tags      []string         `json:"tags"`
	Meta      []Meta           `json:"meta,omitempty"`
	Patterns  []PatternMatches `json:"patterns"`

	// StructuralID identifies this report for a given rule and blob:
	// SHA-1(rule_structural_id + '\0' + blob_id + '\0' + offsets...).
	StructuralID string `json:"structural_id,omitempty"`
}

// RuleID returns the namespace-qualified rule identifier.
func (r *MatchReport) RuleID() string {
	return r.Namespace + ":" + r.Rule
}

// MatchCount returns the total number of pattern occurrences in the report.
func (r *MatchReport) MatchCount() int {
	n := 0
	for _, p := range r.Patterns {
		n += len(p.Matches)
	}
	return n
}

// Pattern returns the matches for the pattern with the given identifier.
func (r *MatchReport) Pattern(id string) (PatternMatches, bool) {
	for _, p := range r.Patterns {
		if p.ID == id {
			return p, true
		}
	}
	return PatternMatches{}, false
}

// ComputeStructuralID computes the report ID from the rule's structural ID,
// the blob and the ordered match offsets.
func (r *MatchReport) ComputeStructuralID(ruleStructuralID string) string {
	h := sha1.New()

	h.Write([]byte(ruleStructuralID))
	h.Write([]byte{0})

	h.Write(r.BlobID[:])
	h.Write([]byte{0})

	for _, p := range r.Patterns {
		h.Write([]byte(p.ID))
		for _, m := range p.Matches {
			fmt.Fprintf(h, ":%d+%d", m.Offset, m.Length)
		}
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}
