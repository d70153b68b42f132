package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// styles holds the color formatters of human output.
type styles struct {
	heading  *color.Color
	id       *color.Color
	ruleName *color.Color
	label    *color.Color
	match    *color.Color
	metadata *color.Color
}

// newStyles creates color formatters; enabled=false strips all color.
func newStyles(enabled bool) *styles {
	s := &styles{
		heading:  color.New(color.Bold, color.FgHiWhite),
		id:       color.New(color.FgHiGreen),
		ruleName: color.New(color.Bold, color.FgHiBlue),
		label:    color.New(color.Bold),
		match:    color.New(color.FgYellow),
		metadata: color.New(color.FgHiBlue),
	}
	if !enabled {
		for _, c := range []*color.Color{s.heading, s.id, s.ruleName, s.label, s.match, s.metadata} {
			c.DisableColor()
		}
	}
	return s
}

// colorEnabled resolves a --color value. "auto" enables color when stdout
// is a terminal and NO_COLOR is unset.
func colorEnabled(mode string) (bool, error) {
	switch mode {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto", "":
		return term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == "", nil
	default:
		return false, fmt.Errorf("invalid color mode %q (valid: auto, always, never)", mode)
	}
}

// snippetParts holds separated snippet components for colored output.
type snippetParts struct {
	prefix   string // "..." if truncated at start
	before   string
	matching string
	after    string
	suffix   string // "..." if truncated at end
}

// formatSnippetWithParts windows before+matching+after to maxLen
// characters, centered on the match.
func formatSnippetWithParts(before, matching, after string, maxLen int) snippetParts {
	full := before + matching + after
	if len(full) <= maxLen {
		return snippetParts{before: before, matching: matching, after: after}
	}

	matchStart := len(before)
	matchEnd := matchStart + len(matching)
	if len(matching) >= maxLen {
		return snippetParts{prefix: "...", matching: matching[:maxLen-6], suffix: "..."}
	}

	// 6 characters are reserved for the ellipses.
	half := (maxLen - len(matching) - 6) / 2
	start := matchStart - half
	end := matchEnd + half
	if start < 0 {
		end -= start
		start = 0
	}
	if end > len(full) {
		start = max(start-(end-len(full)), 0)
		end = len(full)
	}

	parts := snippetParts{
		before:   full[start:matchStart],
		matching: matching,
		after:    full[matchEnd:end],
	}
	if start > 0 {
		parts.prefix = "..."
	}
	if end < len(full) {
		parts.suffix = "..."
	}
	return parts
}

// printable renders bytes for a terminal: valid UTF-8 text passes through
// with control characters other than newline and tab escaped, anything
// else is escaped byte by byte.
func printable(b []byte) string {
	var sb strings.Builder
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		switch {
		case r == utf8.RuneError && size <= 1:
			fmt.Fprintf(&sb, `\x%02x`, b[0])
		case r == '\n' || r == '\t':
			sb.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&sb, `\x%02x`, r)
		default:
			sb.Write(b[:size])
		}
		b = b[size:]
	}
	return sb.String()
}

// entry is one satisfied rule with where its blob was seen. content is
// the scanned input when still at hand; it enables line numbers.
type entry struct {
	paths   []string
	report  *types.MatchReport
	content []byte
}

// maxShownMatches caps the occurrences printed per pattern.
const maxShownMatches = 3

func writeHuman(out io.Writer, s *styles, entries []entry) {
	for i, e := range entries {
		rep := e.report
		fmt.Fprintf(out, "%s (%s %s)\n",
			s.heading.Sprintf("Match %d/%d", i+1, len(entries)),
			s.label.Sprint("id"),
			s.id.Sprint(shortID(rep.StructuralID)))
		fmt.Fprintf(out, "%s %s\n", s.label.Sprint("Rule:"), s.ruleName.Sprint(rep.RuleID()))
		if len(rep.Tags) > 0 {
			fmt.Fprintf(out, "%s %s\n", s.label.Sprint("Tags:"), s.metadata.Sprint(strings.Join(rep.Tags, " ")))
		}
		for _, p := range e.paths {
			fmt.Fprintf(out, "%s %s\n", s.label.Sprint("File:"), s.metadata.Sprint(p))
		}
		fmt.Fprintf(out, "%s %s\n", s.label.Sprint("Blob:"), s.metadata.Sprint(rep.BlobID.Hex()))

		for _, p := range rep.Patterns {
			shown := p.Matches
			if len(shown) > maxShownMatches {
				shown = shown[:maxShownMatches]
			}
			fmt.Fprintf(out, "\n    %s %s\n",
				s.label.Sprintf("Pattern %s:", p.ID),
				s.metadata.Sprintf("%d occurrence(s)", len(p.Matches)))

			for _, m := range shown {
				where := fmt.Sprintf("offset %d", m.Offset)
				if e.content != nil {
					span := types.Locate(e.content, m.Span())
					where += fmt.Sprintf(", line %d:%d-%d:%d", span.Start.Line, span.Start.Column, span.End.Line, span.End.Column)
				}
				fmt.Fprintf(out, "    %s\n", s.label.Sprint(where))

				var before, after []byte
				if m.Snippet != nil {
					before, after = m.Snippet.Before, m.Snippet.After
				}
				parts := formatSnippetWithParts(printable(before), printable(m.Data), printable(after), 500)
				fmt.Fprintf(out, "        %s%s%s%s%s\n",
					parts.prefix, parts.before, s.match.Sprint(parts.matching), parts.after, parts.suffix)
			}
		}
		fmt.Fprintf(out, "\n\n")
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func writeJSON(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
