package matcher

import (
	"github.com/praetorian-inc/trawl/pkg/types"
)

func isAlnum(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// matchLiteral reports whether lit occurs at data[pos:].
func matchLiteral(lit, data []byte, pos int, nocase bool) bool {
	if pos < 0 || pos+len(lit) > len(data) {
		return false
	}
	window := data[pos : pos+len(lit)]
	if !nocase {
		return string(window) == string(lit)
	}
	for i, b := range lit {
		if lower(window[i]) != lower(b) {
			return false
		}
	}
	return true
}

// isFullword reports whether data[start:end] is delimited by
// non-alphanumeric characters in the given encoding.
func isFullword(data []byte, start, end int, enc types.Encoding) bool {
	if enc == types.EncodingWide {
		if start >= 2 && isAlnum(data[start-2]) && data[start-1] == 0 {
			return false
		}
		if end+1 < len(data) && isAlnum(data[end]) && data[end+1] == 0 {
			return false
		}
		return true
	}
	if start > 0 && isAlnum(data[start-1]) {
		return false
	}
	if end < len(data) && isAlnum(data[end]) {
		return false
	}
	return true
}

// matchHex returns the end offset of the shortest match of tokens starting
// at data[pos], or -1. Jumps try their shortest length first.
func matchHex(tokens []types.HexToken, data []byte, pos int) int {
	return hexAt(tokens, data, pos, func(end int) int { return end })
}

// hexAt matches tokens at pos and hands the end offset to k, which returns
// the final end or -1 to force backtracking.
func hexAt(tokens []types.HexToken, data []byte, pos int, k func(end int) int) int {
	for len(tokens) > 0 && tokens[0].Kind == types.HexByte {
		t := tokens[0]
		if pos >= len(data) || data[pos]&t.Mask != t.Value {
			return -1
		}
		pos++
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return k(pos)
	}

	t, rest := tokens[0], tokens[1:]
	switch t.Kind {
	case types.HexJump:
		hi := len(data) - pos
		if t.Max >= 0 && t.Max < hi {
			hi = t.Max
		}
		for n := t.Min; n <= hi; n++ {
			if end := hexAt(rest, data, pos+n, k); end >= 0 {
				return end
			}
		}
	case types.HexAlt:
		for _, alt := range t.Alts {
			end := hexAt(alt, data, pos, func(e int) int {
				return hexAt(rest, data, e, k)
			})
			if end >= 0 {
				return end
			}
		}
	}
	return -1
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + 'a' - 'A'
	}
	return b
}
