package matcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/praetorian-inc/trawl/pkg/types"
)

// DefaultRegexTimeout bounds a single regex evaluation.
const DefaultRegexTimeout = 5 * time.Second

// latin1 maps every byte of s to the rune of the same value, so a regex
// written in a rule file addresses raw bytes rather than UTF-8 sequences.
func latin1(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		sb.WriteRune(rune(s[i]))
	}
	return sb.String()
}

// runeView widens data into runes one to one, so rune indices reported by
// regexp2 are byte offsets.
func runeView(data []byte) []rune {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return runes
}

// CompileRegex compiles a regex pattern for matching over the rune view of
// an input. An anchored regex only matches at the position passed to
// FindRunesMatchStartingAt.
func CompileRegex(p *types.Pattern, anchored bool) (*regexp2.Regexp, error) {
	expr := p.Regex
	if p.Flags.CaseInsensitive || p.Modifiers.Nocase {
		expr = foldASCII(expr)
	}
	expr = latin1(expr)
	if anchored {
		expr = `\G(?:` + expr + `)`
	}

	opts := regexp2.RegexOptions(regexp2.RE2)
	if p.Flags.DotAll {
		opts |= regexp2.Singleline
	}

	// Try RE2 mode first, then the default syntax for constructs RE2 mode rejects
	re, err := regexp2.Compile(expr, opts)
	if err != nil {
		re, err = regexp2.Compile(expr, opts&^regexp2.RE2)
		if err != nil {
			return nil, fmt.Errorf("invalid regular expression /%s/: %w", p.Regex, err)
		}
	}
	re.MatchTimeout = DefaultRegexTimeout
	return re, nil
}

// foldASCII rewrites expr so that every ASCII letter also matches its other
// case. Bytes outside ASCII never fold, matching nocase text and atoms.
// Escapes and group syntax are copied unchanged.
func foldASCII(expr string) string {
	var sb strings.Builder
	sb.Grow(len(expr) * 2)
	inClass := false
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case c == '\\':
			n := escapeLen(expr, i)
			sb.WriteString(expr[i : i+n])
			i += n - 1

		case inClass && c == '[' && i+1 < len(expr) && expr[i+1] == ':':
			// POSIX class such as [:alpha:]
			end := strings.Index(expr[i:], ":]")
			if end < 0 {
				sb.WriteString(expr[i:])
				return sb.String()
			}
			sb.WriteString(expr[i : i+end+2])
			i += end + 1

		case inClass && c == ']':
			inClass = false
			sb.WriteByte(c)

		case inClass:
			// Range a-z: add the other-case range alongside.
			if i+2 < len(expr) && expr[i+1] == '-' && isASCIILetter(expr[i+2]) && isASCIILetter(c) {
				lo, hi := c, expr[i+2]
				sb.WriteString(expr[i : i+3])
				if isUpper(lo) == isUpper(hi) {
					sb.WriteByte(swapCase(lo))
					sb.WriteByte('-')
					sb.WriteByte(swapCase(hi))
				}
				i += 2
				continue
			}
			sb.WriteByte(c)
			startsRange := i+2 < len(expr) && expr[i+1] == '-' && expr[i+2] != ']'
			if isASCIILetter(c) && !startsRange {
				sb.WriteByte(swapCase(c))
			}

		case c == '[':
			inClass = true
			sb.WriteByte(c)
			if i+1 < len(expr) && expr[i+1] == '^' {
				sb.WriteByte('^')
				i++
			}
			if i+1 < len(expr) && expr[i+1] == ']' {
				sb.WriteByte(']')
				i++
			}

		case c == '(' && i+1 < len(expr) && expr[i+1] == '?':
			n := groupPrefixLen(expr, i)
			sb.WriteString(expr[i : i+n])
			i += n - 1

		case isASCIILetter(c):
			sb.WriteByte('[')
			sb.WriteByte(c)
			sb.WriteByte(swapCase(c))
			sb.WriteByte(']')

		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// escapeLen returns the length of the escape sequence starting at expr[i].
func escapeLen(expr string, i int) int {
	if i+1 >= len(expr) {
		return 1
	}
	switch expr[i+1] {
	case 'x':
		if i+2 < len(expr) && expr[i+2] == '{' {
			return closeLen(expr, i, i+2, '}')
		}
		return min(4, len(expr)-i)
	case 'u':
		return min(6, len(expr)-i)
	case 'p', 'P':
		if i+2 < len(expr) && expr[i+2] == '{' {
			return closeLen(expr, i, i+2, '}')
		}
		return min(3, len(expr)-i)
	case 'k':
		if i+2 < len(expr) {
			switch expr[i+2] {
			case '<':
				return closeLen(expr, i, i+2, '>')
			case '{':
				return closeLen(expr, i, i+2, '}')
			case '\'':
				return closeLen(expr, i, i+3, '\'')
			}
		}
	case 'c':
		return min(3, len(expr)-i)
	}
	return 2
}

// groupPrefixLen returns the length of the "(?...)" syntax opening a group
// at expr[i], up to where the group's own content starts.
func groupPrefixLen(expr string, i int) int {
	j := i + 2
	if j >= len(expr) {
		return j - i
	}
	switch expr[j] {
	case ':', '=', '!', '>':
		return j + 1 - i
	case '<':
		if j+1 < len(expr) && (expr[j+1] == '=' || expr[j+1] == '!') {
			return j + 2 - i
		}
		return closeLen(expr, i, j, '>')
	case 'P':
		return closeLen(expr, i, j, '>')
	case '\'':
		return closeLen(expr, i, j+1, '\'')
	}
	// Inline flags: (?i) or (?i:
	for j < len(expr) && (isASCIILetter(expr[j]) || expr[j] == '-') {
		j++
	}
	if j < len(expr) && (expr[j] == ':' || expr[j] == ')') {
		j++
	}
	return j - i
}

// closeLen returns the length from expr[i] through the first delim at or
// after from, or the rest of expr when there is none.
func closeLen(expr string, i, from int, delim byte) int {
	if from > len(expr) {
		return len(expr) - i
	}
	if end := strings.IndexByte(expr[from:], delim); end >= 0 {
		return from + end + 1 - i
	}
	return len(expr) - i
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isUpper(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

func swapCase(c byte) byte {
	if isUpper(c) {
		return c + 'a' - 'A'
	}
	return c - ('a' - 'A')
}

// compiledRegex holds both forms of a regex pattern.
type compiledRegex struct {
	free     *regexp2.Regexp // finds matches anywhere
	anchored *regexp2.Regexp // verifies a match at an atom position
}

func compileRegexPair(p *types.Pattern, timeout time.Duration) (*compiledRegex, error) {
	free, err := CompileRegex(p, false)
	if err != nil {
		return nil, err
	}
	anchored, err := CompileRegex(p, true)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		free.MatchTimeout = timeout
		anchored.MatchTimeout = timeout
	}
	return &compiledRegex{free: free, anchored: anchored}, nil
}

// matchAt returns the length of the regex match starting exactly at start,
// or -1.
func (c *compiledRegex) matchAt(runes []rune, start int) (int, error) {
	m, err := c.anchored.FindRunesMatchStartingAt(runes, start)
	if err != nil || m == nil || m.Index != start {
		return -1, err
	}
	return m.Length, nil
}

// each calls fn for the leftmost match at every start offset that has one.
// Empty matches are skipped.
func (c *compiledRegex) each(runes []rune, fn func(start, length int) bool) error {
	for pos := 0; pos < len(runes); {
		m, err := c.free.FindRunesMatchStartingAt(runes, pos)
		if err != nil {
			return err
		}
		if m == nil {
			return nil
		}
		if m.Length > 0 && !fn(m.Index, m.Length) {
			return nil
		}
		pos = m.Index + 1
	}
	return nil
}
