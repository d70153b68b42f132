package types

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// PatternKind distinguishes the three pattern syntaxes.
type PatternKind int

const (
	PatternText  PatternKind = iota // "quoted text"
	PatternHex                      // { 4D 5A ?? [2-4] }
	PatternRegex                    // /regular expression/
)

// String returns the lowercase kind name.
func (k PatternKind) String() string {
	switch k {
	case PatternText:
		return "text"
	case PatternHex:
		return "hex"
	case PatternRegex:
		return "regex"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Modifiers are the flags that follow a pattern definition.
type Modifiers struct {
	Nocase   bool
	Wide     bool
	Ascii    bool
	Fullword bool
	Private  bool
}

// Variants returns the encodings a pattern is searched in.
// ascii is implied when wide is absent.
func (m Modifiers) Variants() []Encoding {
	switch {
	case m.Wide && m.Ascii:
		return []Encoding{EncodingASCII, EncodingWide}
	case m.Wide:
		return []Encoding{EncodingWide}
	default:
		return []Encoding{EncodingASCII}
	}
}

// Encoding is the byte form a pattern variant is matched in.
type Encoding int

const (
	EncodingASCII Encoding = iota
	EncodingWide           // UTF-16LE style interleave with zero bytes
)

// Widen interleaves every byte of b with a zero byte.
func Widen(b []byte) []byte {
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, c, 0)
	}
	return out
}

// RegexFlags are the flags written after the closing slash of a regex.
type RegexFlags struct {
	CaseInsensitive bool // i
	DotAll          bool // s
}

// Atom is a fixed byte run inside a pattern variant used to anchor
// verification. Offset is the distance from the pattern start to the
// first atom byte.
type Atom struct {
	Bytes    []byte
	Offset   int
	Nocase   bool
	Encoding Encoding
}

// Pattern is one compiled entry of a rule's strings section.
type Pattern struct {
	ID        string      // "$a", or "$" for anonymous patterns
	Index     int         // position within the owning rule
	Kind      PatternKind
	Text      []byte      // PatternText literal bytes
	Hex       []HexToken  // PatternHex token stream
	Regex     string      // PatternRegex source between the slashes
	Flags     RegexFlags  // PatternRegex flags
	Modifiers Modifiers
	Source    string // pattern as written, used in listings
	Line      int

	// Atoms holds one anchor per encoding variant. A variant without an
	// atom is verified by scanning every position.
	Atoms []Atom
	// Keywords are literals that must appear somewhere in the input for an
	// unanchored variant to match. Empty means no shortcut is possible.
	Keywords [][]byte
}

// Anonymous reports whether the pattern was declared as a bare "$".
func (p *Pattern) Anonymous() bool {
	return p.ID == "$"
}

// Meta is a single key/value entry from a rule's meta section.
// Value holds a string, int64 or bool.
type Meta struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Rule is a compiled rule. Rules are immutable after compilation.
type Rule struct {
	Name      string
	Namespace string
	Tags      []string
	Meta      []Meta
	Patterns  []*Pattern
	Condition *Node
	Private   bool
	Source    string // file name, empty for in-memory text
	Line      int    // line of the rule keyword

	// StructuralID is a content hash of the rule body (computed).
	StructuralID string
}

// ID returns the namespace-qualified rule identifier, e.g. "default:A".
func (r *Rule) ID() string {
	return r.Namespace + ":" + r.Name
}

// ComputeStructuralID hashes the parts of a rule that affect matching:
// name, tags, pattern sources with modifiers and the condition tree.
// Two compiles of the same text produce the same ID regardless of
// where the text came from.
func (r *Rule) ComputeStructuralID() string {
	h := sha1.New()
	h.Write([]byte(r.Name))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(r.Tags, " ")))
	h.Write([]byte{0})
	for _, p := range r.Patterns {
		h.Write([]byte(p.ID))
		h.Write([]byte{'='})
		h.Write([]byte(p.Source))
		h.Write([]byte{0})
	}
	h.Write([]byte(r.Condition.String()))
	return hex.EncodeToString(h.Sum(nil))
}
