package types

import (
	"fmt"
	"strings"
)

// HexTokenKind tags a HexToken.
type HexTokenKind uint8

const (
	HexByte HexTokenKind = iota // exact byte, nibble wildcard or ??
	HexJump                     // [n], [n-m], [n-], [-]
	HexAlt                      // ( a | b | ... )
)

// HexToken is one element of a hex pattern. A HexByte matches any input
// byte b with b&Mask == Value, so ?? is Mask 0 and 4? is Mask 0xF0.
type HexToken struct {
	Kind  HexTokenKind
	Value byte
	Mask  byte
	Min   int         // HexJump lower bound
	Max   int         // HexJump upper bound, -1 when unbounded
	Alts  [][]HexToken // HexAlt alternatives
}

// Exact reports whether a HexByte token matches exactly one byte value.
func (t HexToken) Exact() bool {
	return t.Kind == HexByte && t.Mask == 0xFF
}

// FixedLength returns the number of bytes a token sequence always spans,
// or -1 when the span varies.
func FixedLength(tokens []HexToken) int {
	n := 0
	for _, t := range tokens {
		switch t.Kind {
		case HexByte:
			n++
		case HexJump:
			if t.Max != t.Min {
				return -1
			}
			n += t.Min
		case HexAlt:
			alt := -2
			for _, a := range t.Alts {
				l := FixedLength(a)
				if l < 0 || (alt != -2 && l != alt) {
					return -1
				}
				alt = l
			}
			if alt < 0 {
				return -1
			}
			n += alt
		}
	}
	return n
}

// FormatHex renders tokens back into hex pattern syntax.
func FormatHex(tokens []HexToken) string {
	var sb strings.Builder
	writeHex(&sb, tokens)
	return sb.String()
}

func writeHex(sb *strings.Builder, tokens []HexToken) {
	for i, t := range tokens {
		if i > 0 {
			sb.WriteByte(' ')
		}
		switch t.Kind {
		case HexByte:
			hi, lo := "?", "?"
			if t.Mask&0xF0 != 0 {
				hi = fmt.Sprintf("%X", t.Value>>4)
			}
			if t.Mask&0x0F != 0 {
				lo = fmt.Sprintf("%X", t.Value&0x0F)
			}
			sb.WriteString(hi + lo)
		case HexJump:
			switch {
			case t.Min == t.Max:
				fmt.Fprintf(sb, "[%d]", t.Min)
			case t.Max < 0 && t.Min == 0:
				sb.WriteString("[-]")
			case t.Max < 0:
				fmt.Fprintf(sb, "[%d-]", t.Min)
			default:
				fmt.Fprintf(sb, "[%d-%d]", t.Min, t.Max)
			}
		case HexAlt:
			sb.WriteByte('(')
			for j, a := range t.Alts {
				if j > 0 {
					sb.WriteString(" | ")
				}
				writeHex(sb, a)
			}
			sb.WriteByte(')')
		}
	}
}
