package rule

import (
	"slices"
	"strings"

	"github.com/praetorian-inc/trawl/pkg/types"
)

var reserved = map[string]bool{
	"all": true, "and": true, "any": true, "ascii": true, "at": true,
	"base64": true, "base64wide": true, "condition": true, "contains": true,
	"entrypoint": true, "false": true, "filesize": true, "for": true,
	"fullword": true, "global": true, "import": true, "in": true,
	"include": true, "int8": true, "int16": true, "int32": true,
	"int8be": true, "int16be": true, "int32be": true, "matches": true,
	"meta": true, "nocase": true, "none": true, "not": true, "of": true,
	"or": true, "private": true, "rule": true, "strings": true,
	"them": true, "true": true, "uint8": true, "uint16": true,
	"uint32": true, "uint8be": true, "uint16be": true, "uint32be": true,
	"wide": true, "xor": true,
}

type exprType int

const (
	typeBool exprType = iota
	typeInt
)

func (t exprType) String() string {
	if t == typeInt {
		return "integer"
	}
	return "boolean"
}

type expr struct {
	node *types.Node
	typ  exprType
}

type parser struct {
	lx     *lexer
	tok    token
	source string

	ruleLines map[string]int

	// state of the rule being parsed
	rule     *types.Rule
	byID     map[string]*types.Pattern
	used     []bool
	forDepth int
}

// Parse parses rule text. source names the text in error messages and is
// recorded on every rule; it does not otherwise affect the result.
// The first syntax or semantic error is returned as a *types.CompileError.
func Parse(src []byte, source string) (rules []*types.Rule, err error) {
	p := &parser{
		lx:        newLexer(src),
		source:    source,
		ruleLines: make(map[string]int),
	}

	defer func() {
		if r := recover(); r != nil {
			se, ok := r.(syntaxError)
			if !ok {
				panic(r)
			}
			rules = nil
			err = &types.CompileError{Source: source, Line: se.line, Message: se.msg}
		}
	}()

	p.advance()
	for p.tok.Kind != tokEOF {
		rules = append(rules, p.ruleDecl())
	}
	return rules, nil
}

func (p *parser) advance() {
	p.tok = p.lx.next()
}

// peek returns the n-th token after the current one without consuming it.
func (p *parser) peek(n int) token {
	saved := *p.lx
	var t token
	for range n {
		t = p.lx.next()
	}
	*p.lx = saved
	return t
}

func (p *parser) failf(format string, args ...any) {
	bail(p.tok.Line, format, args...)
}

func (p *parser) expect(symbol string) {
	if !p.tok.is(symbol) {
		p.failf("expected %q, got %s", symbol, p.tok)
	}
	p.advance()
}

func (p *parser) expectKeyword(kw string) {
	if !p.tok.keyword(kw) {
		p.failf("expected %q, got %s", kw, p.tok)
	}
	p.advance()
}

func (p *parser) ruleDecl() *types.Rule {
	switch {
	case p.tok.keyword("import"), p.tok.keyword("include"):
		p.failf("%s is not supported", p.tok.Text)
	case p.tok.keyword("global"):
		p.failf("global rules are not supported")
	}

	r := &types.Rule{Source: p.source}
	if p.tok.keyword("private") {
		r.Private = true
		p.advance()
		if p.tok.keyword("global") {
			p.failf("global rules are not supported")
		}
	}

	r.Line = p.tok.Line
	p.expectKeyword("rule")

	if p.tok.Kind != tokIdent || reserved[p.tok.Text] {
		p.failf("expected rule identifier, got %s", p.tok)
	}
	if line, ok := p.ruleLines[p.tok.Text]; ok {
		p.failf("duplicated identifier %q, first defined on line %d", p.tok.Text, line)
	}
	r.Name = p.tok.Text
	p.ruleLines[r.Name] = p.tok.Line
	p.advance()

	if p.tok.is(":") {
		p.advance()
		for p.tok.Kind == tokIdent && !reserved[p.tok.Text] {
			if slices.Contains(r.Tags, p.tok.Text) {
				p.failf("duplicated tag %q", p.tok.Text)
			}
			r.Tags = append(r.Tags, p.tok.Text)
			p.advance()
		}
		if len(r.Tags) == 0 {
			p.failf("expected tag, got %s", p.tok)
		}
	}

	p.expect("{")
	p.rule = r
	p.byID = make(map[string]*types.Pattern)
	p.used = nil

	if p.tok.keyword("meta") {
		p.advance()
		p.expect(":")
		p.metaSection()
	}
	if p.tok.keyword("strings") {
		p.advance()
		p.expect(":")
		p.stringsSection()
	}

	p.expectKeyword("condition")
	p.expect(":")
	r.Condition = p.orExpr().node
	p.expect("}")

	for i, pat := range r.Patterns {
		if !p.used[i] {
			bail(pat.Line, "unreferenced string %q", pat.ID)
		}
	}

	r.StructuralID = r.ComputeStructuralID()
	return r
}

func (p *parser) metaSection() {
	for p.tok.Kind == tokIdent && !p.tok.keyword("strings") && !p.tok.keyword("condition") {
		key := p.tok.Text
		p.advance()
		p.expect("=")

		m := types.Meta{Key: key}
		switch {
		case p.tok.Kind == tokText:
			m.Value = string(p.tok.Val)
		case p.tok.Kind == tokInt:
			m.Value = p.tok.Num
		case p.tok.is("-") && p.peek(1).Kind == tokInt:
			p.advance()
			m.Value = -p.tok.Num
		case p.tok.keyword("true"):
			m.Value = true
		case p.tok.keyword("false"):
			m.Value = false
		default:
			p.failf("invalid value for meta %q: %s", key, p.tok)
		}
		p.advance()
		p.rule.Meta = append(p.rule.Meta, m)
	}
}

func (p *parser) stringsSection() {
	if p.tok.Kind != tokStringID {
		p.failf("expected string identifier, got %s", p.tok)
	}

	for p.tok.Kind == tokStringID {
		idTok := p.tok
		id := idTok.Text
		if strings.HasSuffix(id, "*") {
			p.failf("wildcard %q not allowed in a string definition", id)
		}
		if _, dup := p.byID[id]; dup {
			p.failf("duplicated string identifier %q", id)
		}
		p.advance()
		if !p.tok.is("=") {
			p.failf("expected \"=\", got %s", p.tok)
		}

		body := p.lx.patternBody()
		pat := &types.Pattern{ID: id, Index: len(p.rule.Patterns), Line: idTok.Line}

		switch body.Kind {
		case tokText:
			if len(body.Val) == 0 {
				bail(body.Line, "empty string %q", id)
			}
			pat.Kind = types.PatternText
			pat.Text = body.Val
			pat.Source = body.Text
		case tokHex:
			pat.Kind = types.PatternHex
			pat.Hex = parseHex(body.Text, body.Line)
			pat.Source = "{ " + types.FormatHex(pat.Hex) + " }"
		case tokRegex:
			if body.Text == "" {
				bail(body.Line, "empty regular expression %q", id)
			}
			pat.Kind = types.PatternRegex
			pat.Regex = body.Text
			pat.Flags = types.RegexFlags{
				CaseInsensitive: strings.Contains(body.Flags, "i"),
				DotAll:          strings.Contains(body.Flags, "s"),
			}
			pat.Source = "/" + body.Text + "/" + body.Flags
		default:
			bail(body.Line, "expected string, hex string or regular expression, got %s", body)
		}

		p.advance()
		p.modifiers(pat)

		if err := checkPattern(pat); err != nil {
			bail(pat.Line, "invalid string %q: %v", id, err)
		}
		computeAtoms(pat)

		p.rule.Patterns = append(p.rule.Patterns, pat)
		p.used = append(p.used, false)
		if !pat.Anonymous() {
			p.byID[id] = pat
		}
	}
}

func (p *parser) modifiers(pat *types.Pattern) {
	seen := make(map[string]bool)
	for p.tok.Kind == tokIdent && !p.tok.keyword("condition") {
		name := p.tok.Text
		switch name {
		case "xor", "base64", "base64wide":
			p.failf("%s modifier is not supported", name)
		case "nocase", "wide", "ascii", "fullword", "private":
		default:
			p.failf("unknown modifier %q", name)
		}
		if seen[name] {
			p.failf("duplicated modifier %q", name)
		}
		seen[name] = true

		switch {
		case pat.Kind == types.PatternHex && name != "private":
			p.failf("%s modifier not allowed on hex strings", name)
		case pat.Kind == types.PatternRegex && name == "wide":
			p.failf("wide modifier not allowed on regular expressions")
		}

		switch name {
		case "nocase":
			pat.Modifiers.Nocase = true
		case "wide":
			pat.Modifiers.Wide = true
		case "ascii":
			pat.Modifiers.Ascii = true
		case "fullword":
			pat.Modifiers.Fullword = true
		case "private":
			pat.Modifiers.Private = true
		}
		pat.Source += " " + name
		p.advance()
	}
}

// Condition expressions, lowest precedence first.

func (p *parser) orExpr() expr {
	left := p.andExpr()
	for p.tok.keyword("or") {
		p.advance()
		right := p.andExpr()
		left = expr{&types.Node{Op: types.OpOr, Args: []*types.Node{left.node, right.node}}, typeBool}
	}
	return left
}

func (p *parser) andExpr() expr {
	left := p.notExpr()
	for p.tok.keyword("and") {
		p.advance()
		right := p.notExpr()
		left = expr{&types.Node{Op: types.OpAnd, Args: []*types.Node{left.node, right.node}}, typeBool}
	}
	return left
}

func (p *parser) notExpr() expr {
	if p.tok.keyword("not") {
		p.advance()
		e := p.notExpr()
		return expr{&types.Node{Op: types.OpNot, Args: []*types.Node{e.node}}, typeBool}
	}
	return p.relExpr()
}

var relOps = map[string]types.Op{
	"==": types.OpEq, "!=": types.OpNe,
	"<": types.OpLt, "<=": types.OpLe, ">": types.OpGt, ">=": types.OpGe,
}

func (p *parser) relExpr() expr {
	left := p.binary(0)
	for p.tok.Kind == tokPunct {
		op, ok := relOps[p.tok.Text]
		if !ok {
			break
		}
		line := p.tok.Line
		p.advance()
		right := p.binary(0)

		if op == types.OpEq || op == types.OpNe {
			if left.typ != right.typ {
				bail(line, "mismatched types in comparison: %s and %s", left.typ, right.typ)
			}
		} else {
			p.wantInt(left, line)
			p.wantInt(right, line)
		}
		left = expr{&types.Node{Op: op, Args: []*types.Node{left.node, right.node}}, typeBool}
	}
	return left
}

// binaryLevels lists the integer operators from lowest to highest
// precedence.
var binaryLevels = []map[string]types.Op{
	{"|": types.OpBitOr},
	{"^": types.OpBitXor},
	{"&": types.OpBitAnd},
	{"<<": types.OpShl, ">>": types.OpShr},
	{"+": types.OpAdd, "-": types.OpSub},
	{"*": types.OpMul, "\\": types.OpDiv, "%": types.OpMod},
}

func (p *parser) binary(level int) expr {
	if level == len(binaryLevels) {
		return p.unary()
	}

	left := p.binary(level + 1)
	for p.tok.Kind == tokPunct {
		op, ok := binaryLevels[level][p.tok.Text]
		if !ok {
			break
		}
		line := p.tok.Line
		p.advance()
		right := p.binary(level + 1)
		p.wantInt(left, line)
		p.wantInt(right, line)
		left = expr{&types.Node{Op: op, Args: []*types.Node{left.node, right.node}}, typeInt}
	}
	return left
}

func (p *parser) wantInt(e expr, line int) {
	if e.typ != typeInt {
		bail(line, "wrong type for operand: expected integer, got %s", e.typ)
	}
}

func (p *parser) unary() expr {
	switch {
	case p.tok.is("-"):
		line := p.tok.Line
		p.advance()
		e := p.unary()
		p.wantInt(e, line)
		if e.node.Op == types.OpInt {
			return expr{&types.Node{Op: types.OpInt, Value: -e.node.Value}, typeInt}
		}
		return expr{&types.Node{Op: types.OpNeg, Args: []*types.Node{e.node}}, typeInt}
	case p.tok.is("~"):
		line := p.tok.Line
		p.advance()
		e := p.unary()
		p.wantInt(e, line)
		return expr{&types.Node{Op: types.OpBitNot, Args: []*types.Node{e.node}}, typeInt}
	}
	return p.primary()
}

var readInts = map[string]struct {
	width  int64
	signed bool
	be     bool
}{
	"uint8": {1, false, false}, "uint16": {2, false, false}, "uint32": {4, false, false},
	"int8": {1, true, false}, "int16": {2, true, false}, "int32": {4, true, false},
	"uint8be": {1, false, true}, "uint16be": {2, false, true}, "uint32be": {4, false, true},
	"int8be": {1, true, true}, "int16be": {2, true, true}, "int32be": {4, true, true},
}

func (p *parser) primary() expr {
	t := p.tok
	switch {
	case t.is("("):
		p.advance()
		e := p.orExpr()
		p.expect(")")
		return e

	case t.keyword("true"), t.keyword("false"):
		p.advance()
		v := int64(0)
		if t.Text == "true" {
			v = 1
		}
		return expr{&types.Node{Op: types.OpBool, Value: v}, typeBool}

	case t.keyword("filesize"):
		p.advance()
		return expr{&types.Node{Op: types.OpFilesize}, typeInt}

	case t.Kind == tokInt:
		if p.peek(1).keyword("of") || (p.peek(1).is("%") && p.peek(2).keyword("of")) {
			return p.ofExpr()
		}
		p.advance()
		return expr{&types.Node{Op: types.OpInt, Value: t.Num}, typeInt}

	case t.keyword("any"), t.keyword("all"), t.keyword("none"):
		return p.ofExpr()

	case t.keyword("for"):
		return p.forOfExpr()

	case t.Kind == tokStringID:
		return p.stringExpr()

	case t.Kind == tokCountID:
		idx := p.patternRef(t, "$"+t.Text[1:])
		p.advance()
		return expr{&types.Node{Op: types.OpCount, Pattern: idx}, typeInt}

	case t.Kind == tokOffsetID, t.Kind == tokLengthID:
		idx := p.patternRef(t, "$"+t.Text[1:])
		p.advance()
		index := &types.Node{Op: types.OpInt, Value: 1}
		if p.tok.is("[") {
			p.advance()
			e := p.binary(0)
			p.wantInt(e, t.Line)
			index = e.node
			p.expect("]")
		}
		op := types.OpOffset
		if t.Kind == tokLengthID {
			op = types.OpLength
		}
		return expr{&types.Node{Op: op, Pattern: idx, Args: []*types.Node{index}}, typeInt}

	case t.Kind == tokIdent:
		if ri, ok := readInts[t.Text]; ok {
			p.advance()
			p.expect("(")
			e := p.binary(0)
			p.wantInt(e, t.Line)
			p.expect(")")
			return expr{&types.Node{
				Op: types.OpReadInt, Value: ri.width, Signed: ri.signed, BigEndian: ri.be,
				Args: []*types.Node{e.node},
			}, typeInt}
		}
		if t.Text == "them" {
			p.failf("\"them\" must follow a quantifier")
		}
		p.failf("undefined identifier %q", t.Text)
	}

	p.failf("unexpected %s", t)
	return expr{}
}

// patternRef resolves a pattern reference inside the condition and marks
// the pattern as used. "$" refers to the pattern bound by an enclosing
// for..of.
func (p *parser) patternRef(t token, id string) int {
	if id == "$" {
		if p.forDepth == 0 {
			bail(t.Line, "%q used outside of a for..of expression", t.Text)
		}
		return types.CurrentPattern
	}
	if strings.HasSuffix(id, "*") {
		bail(t.Line, "wildcard %q not allowed here", t.Text)
	}
	pat, ok := p.byID[id]
	if !ok {
		bail(t.Line, "undefined string identifier %q", t.Text)
	}
	p.used[pat.Index] = true
	return pat.Index
}

func (p *parser) stringExpr() expr {
	t := p.tok
	idx := p.patternRef(t, t.Text)
	p.advance()

	switch {
	case p.tok.keyword("at"):
		p.advance()
		e := p.binary(0)
		p.wantInt(e, t.Line)
		return expr{&types.Node{Op: types.OpAt, Pattern: idx, Args: []*types.Node{e.node}}, typeBool}

	case p.tok.keyword("in"):
		p.advance()
		p.expect("(")
		lo := p.binary(0)
		p.wantInt(lo, t.Line)
		p.expect("..")
		hi := p.binary(0)
		p.wantInt(hi, t.Line)
		p.expect(")")
		return expr{&types.Node{Op: types.OpIn, Pattern: idx, Args: []*types.Node{lo.node, hi.node}}, typeBool}
	}

	return expr{&types.Node{Op: types.OpFound, Pattern: idx}, typeBool}
}

func (p *parser) quantifier() types.Quantifier {
	t := p.tok
	switch {
	case t.keyword("any"):
		p.advance()
		return types.Quantifier{Kind: types.QuantAny}
	case t.keyword("all"):
		p.advance()
		return types.Quantifier{Kind: types.QuantAll}
	case t.keyword("none"):
		p.advance()
		return types.Quantifier{Kind: types.QuantNone}
	case t.Kind == tokInt:
		p.advance()
		count := &types.Node{Op: types.OpInt, Value: t.Num}
		if p.tok.is("%") {
			if t.Num < 1 || t.Num > 100 {
				p.failf("percentage must be between 1 and 100")
			}
			p.advance()
			return types.Quantifier{Kind: types.QuantPercent, Count: count}
		}
		return types.Quantifier{Kind: types.QuantCount, Count: count}
	}
	p.failf("expected quantifier, got %s", t)
	return types.Quantifier{}
}

func (p *parser) ofExpr() expr {
	q := p.quantifier()
	p.expectKeyword("of")
	set := p.patternSet()
	return expr{&types.Node{Op: types.OpOf, Quant: q, Set: set}, typeBool}
}

func (p *parser) forOfExpr() expr {
	p.advance() // for
	q := p.quantifier()
	p.expectKeyword("of")
	set := p.patternSet()
	p.expect(":")
	p.expect("(")
	p.forDepth++
	body := p.orExpr()
	p.forDepth--
	p.expect(")")
	return expr{&types.Node{Op: types.OpForOf, Quant: q, Set: set, Args: []*types.Node{body.node}}, typeBool}
}

// patternSet parses "them" or a parenthesized list of identifiers and
// wildcards, returning sorted pattern indices.
func (p *parser) patternSet() []int {
	var set []int
	add := func(i int) {
		if !slices.Contains(set, i) {
			set = append(set, i)
		}
		p.used[i] = true
	}

	if p.tok.keyword("them") {
		if len(p.rule.Patterns) == 0 {
			p.failf("\"them\" used in a rule without strings")
		}
		for i := range p.rule.Patterns {
			add(i)
		}
		p.advance()
		return set
	}

	p.expect("(")
	for {
		t := p.tok
		if t.Kind != tokStringID {
			p.failf("expected string identifier, got %s", t)
		}
		if prefix, ok := strings.CutSuffix(t.Text, "*"); ok {
			n := len(set)
			for _, pat := range p.rule.Patterns {
				if strings.HasPrefix(pat.ID, prefix) {
					add(pat.Index)
				}
			}
			if len(set) == n && !p.anyPrefix(prefix) {
				p.failf("no strings match %q", t.Text)
			}
		} else {
			if t.Text == "$" {
				p.failf("anonymous string not allowed in a string set")
			}
			add(p.patternRef(t, t.Text))
		}
		p.advance()

		if p.tok.is(")") {
			p.advance()
			break
		}
		p.expect(",")
	}

	slices.Sort(set)
	return set
}

func (p *parser) anyPrefix(prefix string) bool {
	for _, pat := range p.rule.Patterns {
		if strings.HasPrefix(pat.ID, prefix) {
			return true
		}
	}
	return false
}
