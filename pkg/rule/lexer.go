package rule

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF      tokenKind = iota
	tokIdent              // rule, condition, filesize, user identifiers
	tokText               // "quoted", Val holds the unescaped bytes
	tokInt                // 42, 0x2A, 4KB; Num holds the value
	tokStringID           // $a, $, $a*
	tokCountID            // #a
	tokOffsetID           // @a
	tokLengthID           // !a
	tokHex                // { ... } body of a hex pattern
	tokRegex              // /.../ body of a regex pattern, flags in Flags
	tokPunct              // operators and delimiters, Text holds the symbol
)

type token struct {
	Kind  tokenKind
	Text  string // identifier, symbol or raw source
	Val   []byte
	Num   int64
	Flags string
	Line  int
}

func (t token) is(symbol string) bool {
	return t.Kind == tokPunct && t.Text == symbol
}

func (t token) keyword(name string) bool {
	return t.Kind == tokIdent && t.Text == name
}

func (t token) String() string {
	switch t.Kind {
	case tokEOF:
		return "end of input"
	case tokText:
		return t.Text
	default:
		return fmt.Sprintf("%q", t.Text)
	}
}

// syntaxError aborts lexing or parsing; Parse turns it into a CompileError.
type syntaxError struct {
	line int
	msg  string
}

type lexer struct {
	src  []byte
	pos  int
	line int
}

func newLexer(src []byte) *lexer {
	return &lexer{src: src, line: 1}
}

func bail(line int, format string, args ...any) {
	panic(syntaxError{line: line, msg: fmt.Sprintf(format, args...)})
}

func (l *lexer) fail(line int, format string, args ...any) {
	bail(line, format, args...)
}

func (l *lexer) peekByte(off int) byte {
	if l.pos+off < len(l.src) {
		return l.src[l.pos+off]
	}
	return 0
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.line++
			l.pos++
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			l.pos++
		case c == '/' && l.peekByte(1) == '/':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		case c == '/' && l.peekByte(1) == '*':
			start := l.line
			l.pos += 2
			for {
				if l.pos >= len(l.src) {
					l.fail(start, "unterminated comment")
				}
				if l.src[l.pos] == '*' && l.peekByte(1) == '/' {
					l.pos += 2
					break
				}
				if l.src[l.pos] == '\n' {
					l.line++
				}
				l.pos++
			}
		default:
			return
		}
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

var punctuation = []string{
	"..", "==", "!=", "<=", ">=", "<<", ">>",
	"{", "}", "(", ")", "[", "]", ":", "=", ",",
	"+", "-", "*", "\\", "%", "&", "|", "^", "~", "<", ">",
}

// next returns the next token in generic mode.
func (l *lexer) next() token {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{Kind: tokEOF, Line: l.line}
	}

	c := l.src[l.pos]
	switch {
	case isIdentStart(c):
		return token{Kind: tokIdent, Text: l.ident(), Line: l.line}
	case isDigit(c):
		return l.number()
	case c == '"':
		return l.text()
	case c == '$':
		l.pos++
		name := "$" + l.ident()
		if l.peekByte(0) == '*' {
			l.pos++
			name += "*"
		}
		return token{Kind: tokStringID, Text: name, Line: l.line}
	case c == '#' || c == '@' || (c == '!' && l.peekByte(1) != '='):
		kind := tokCountID
		if c == '@' {
			kind = tokOffsetID
		} else if c == '!' {
			kind = tokLengthID
		}
		l.pos++
		return token{Kind: kind, Text: string(c) + l.ident(), Line: l.line}
	}

	for _, p := range punctuation {
		if strings.HasPrefix(string(l.src[l.pos:min(l.pos+2, len(l.src))]), p) {
			l.pos += len(p)
			return token{Kind: tokPunct, Text: p, Line: l.line}
		}
	}

	l.fail(l.line, "unexpected character %q", c)
	return token{}
}

func (l *lexer) ident() string {
	start := l.pos
	for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
		l.pos++
	}
	return string(l.src[start:l.pos])
}

func (l *lexer) number() token {
	line := l.line
	start := l.pos
	base := 10
	if l.src[l.pos] == '0' && (l.peekByte(1) == 'x' || l.peekByte(1) == 'X') {
		base = 16
		l.pos += 2
	}
	digits := l.pos
	for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
		l.pos++
	}
	raw := string(l.src[start:l.pos])
	body := string(l.src[digits:l.pos])

	mult := int64(1)
	if base == 10 {
		switch {
		case strings.HasSuffix(body, "KB"):
			mult, body = 1024, strings.TrimSuffix(body, "KB")
		case strings.HasSuffix(body, "MB"):
			mult, body = 1024*1024, strings.TrimSuffix(body, "MB")
		}
	}

	n, err := strconv.ParseInt(body, base, 64)
	if err != nil {
		l.fail(line, "invalid integer %q", raw)
	}
	if n > math.MaxInt64/mult {
		l.fail(line, "integer overflow %q", raw)
	}
	return token{Kind: tokInt, Text: raw, Num: n * mult, Line: line}
}

// text lexes a double-quoted string, resolving escapes into Val.
func (l *lexer) text() token {
	line := l.line
	start := l.pos
	l.pos++ // opening quote

	var val []byte
	for {
		if l.pos >= len(l.src) || l.src[l.pos] == '\n' {
			l.fail(line, "unterminated string")
		}
		c := l.src[l.pos]
		if c == '"' {
			l.pos++
			break
		}
		if c != '\\' {
			val = append(val, c)
			l.pos++
			continue
		}

		esc := l.peekByte(1)
		switch esc {
		case '"', '\\':
			val = append(val, esc)
		case 't':
			val = append(val, '\t')
		case 'n':
			val = append(val, '\n')
		case 'r':
			val = append(val, '\r')
		case 'x':
			b, err := strconv.ParseUint(string(l.src[l.pos+2:min(l.pos+4, len(l.src))]), 16, 8)
			if err != nil || l.pos+4 > len(l.src) {
				l.fail(line, "illegal escape sequence")
			}
			val = append(val, byte(b))
			l.pos += 2
		default:
			l.fail(line, "illegal escape sequence")
		}
		l.pos += 2
	}

	return token{Kind: tokText, Text: string(l.src[start:l.pos]), Val: val, Line: line}
}

// patternBody lexes the right-hand side of a string definition: a hex body
// in braces, a regex between slashes, or a quoted text string.
func (l *lexer) patternBody() token {
	l.skipSpace()
	switch l.peekByte(0) {
	case '{':
		return l.hexBody()
	case '/':
		return l.regexBody()
	}
	return l.next()
}

func (l *lexer) hexBody() token {
	line := l.line
	l.pos++ // {
	start := l.pos
	for {
		if l.pos >= len(l.src) {
			l.fail(line, "unterminated hex string")
		}
		c := l.src[l.pos]
		if c == '}' {
			break
		}
		if c == '\n' {
			l.line++
		}
		l.pos++
	}
	body := string(l.src[start:l.pos])
	l.pos++ // }
	return token{Kind: tokHex, Text: body, Line: line}
}

func (l *lexer) regexBody() token {
	line := l.line
	l.pos++ // opening slash
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) || l.src[l.pos] == '\n' {
			l.fail(line, "unterminated regular expression")
		}
		c := l.src[l.pos]
		if c == '/' {
			l.pos++
			break
		}
		if c == '\\' && l.peekByte(1) == '/' {
			sb.WriteByte('/')
			l.pos += 2
			continue
		}
		if c == '\\' && l.pos+1 < len(l.src) {
			sb.WriteByte(c)
			sb.WriteByte(l.src[l.pos+1])
			l.pos += 2
			continue
		}
		sb.WriteByte(c)
		l.pos++
	}

	flagsStart := l.pos
	for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
		l.pos++
	}
	flags := string(l.src[flagsStart:l.pos])
	for _, f := range flags {
		if f != 'i' && f != 's' {
			l.fail(line, "invalid regular expression flag %q", f)
		}
	}

	return token{Kind: tokRegex, Text: sb.String(), Flags: flags, Line: line}
}
