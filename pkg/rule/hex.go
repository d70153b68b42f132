package rule

import (
	"github.com/praetorian-inc/trawl/pkg/types"
)

// hexParser turns the body of a { ... } pattern into tokens.
type hexParser struct {
	src  string
	pos  int
	line int
}

func parseHex(body string, line int) []types.HexToken {
	h := &hexParser{src: body, line: line}
	tokens := h.sequence(0)
	h.space()
	if h.pos < len(h.src) {
		h.fail("unexpected %q in hex string", h.src[h.pos])
	}

	if len(tokens) == 0 {
		h.fail("empty hex string")
	}
	if tokens[0].Kind == types.HexJump || tokens[len(tokens)-1].Kind == types.HexJump {
		h.fail("hex string cannot start or end with a jump")
	}
	return tokens
}

func (h *hexParser) fail(format string, args ...any) {
	bail(h.line, format, args...)
}

func (h *hexParser) space() {
	for h.pos < len(h.src) {
		c := h.src[h.pos]
		switch {
		case c == '\n':
			h.line++
			h.pos++
		case c == ' ' || c == '\t' || c == '\r':
			h.pos++
		case c == '/' && h.pos+1 < len(h.src) && h.src[h.pos+1] == '/':
			for h.pos < len(h.src) && h.src[h.pos] != '\n' {
				h.pos++
			}
		case c == '/' && h.pos+1 < len(h.src) && h.src[h.pos+1] == '*':
			h.pos += 2
			for h.pos+1 < len(h.src) && !(h.src[h.pos] == '*' && h.src[h.pos+1] == '/') {
				if h.src[h.pos] == '\n' {
					h.line++
				}
				h.pos++
			}
			h.pos += 2
		default:
			return
		}
	}
}

// sequence parses tokens until ')' or '|' (inside an alternation) or the
// end of the body. Adjacent jumps are merged.
func (h *hexParser) sequence(depth int) []types.HexToken {
	var tokens []types.HexToken
	for {
		h.space()
		if h.pos >= len(h.src) {
			return tokens
		}

		var tok types.HexToken
		switch c := h.src[h.pos]; {
		case c == ')' || c == '|':
			if depth == 0 {
				h.fail("unexpected %q in hex string", c)
			}
			return tokens
		case c == '[':
			tok = h.jump()
		case c == '(':
			tok = h.alternation(depth + 1)
		default:
			tok = h.byteToken()
		}

		if n := len(tokens); n > 0 && tok.Kind == types.HexJump && tokens[n-1].Kind == types.HexJump {
			prev := &tokens[n-1]
			prev.Min += tok.Min
			if prev.Max < 0 || tok.Max < 0 {
				prev.Max = -1
			} else {
				prev.Max += tok.Max
			}
			continue
		}
		tokens = append(tokens, tok)
	}
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func (h *hexParser) byteToken() types.HexToken {
	if h.pos+1 >= len(h.src) {
		h.fail("odd number of digits in hex string")
	}

	tok := types.HexToken{Kind: types.HexByte}
	for i, shift := range []uint{4, 0} {
		c := h.src[h.pos+i]
		if c == '?' {
			continue
		}
		v, ok := hexNibble(c)
		if !ok {
			h.fail("invalid character %q in hex string", c)
		}
		tok.Value |= v << shift
		tok.Mask |= 0x0F << shift
	}
	h.pos += 2
	return tok
}

func (h *hexParser) number() (int, bool) {
	start := h.pos
	n := 0
	for h.pos < len(h.src) && isDigit(h.src[h.pos]) {
		n = n*10 + int(h.src[h.pos]-'0')
		if n > 1<<20 {
			h.fail("jump too large in hex string")
		}
		h.pos++
	}
	return n, h.pos > start
}

func (h *hexParser) jump() types.HexToken {
	h.pos++ // [
	h.space()
	lo, hasLo := h.number()
	h.space()

	tok := types.HexToken{Kind: types.HexJump, Min: lo, Max: lo}
	if h.pos < len(h.src) && h.src[h.pos] == '-' {
		h.pos++
		h.space()
		hi, hasHi := h.number()
		tok.Max = -1
		if hasHi {
			if hi < lo {
				h.fail("invalid jump range [%d-%d]", lo, hi)
			}
			tok.Max = hi
		}
		h.space()
	} else if !hasLo {
		h.fail("invalid jump in hex string")
	}

	if h.pos >= len(h.src) || h.src[h.pos] != ']' {
		h.fail("unterminated jump in hex string")
	}
	h.pos++
	return tok
}

func (h *hexParser) alternation(depth int) types.HexToken {
	h.pos++ // (
	tok := types.HexToken{Kind: types.HexAlt}
	for {
		alt := h.sequence(depth)
		if len(alt) == 0 {
			h.fail("empty alternative in hex string")
		}
		tok.Alts = append(tok.Alts, alt)

		if h.pos >= len(h.src) {
			h.fail("unterminated alternation in hex string")
		}
		c := h.src[h.pos]
		h.pos++
		if c == ')' {
			break
		}
	}
	if len(tok.Alts) < 2 {
		h.fail("alternation needs at least two alternatives")
	}
	return tok
}
