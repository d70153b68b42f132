// Package eval evaluates rule conditions. Evaluation is a pure function of
// the condition tree and the matches of one scan.
package eval

import (
	"encoding/binary"
	"strconv"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// Kind tags a Value.
type Kind uint8

const (
	Undefined Kind = iota
	Bool
	Int
)

// Value is the result of evaluating a node. Booleans are stored as 0 or 1.
type Value struct {
	Kind Kind
	N    int64
}

var undefined = Value{}

func boolean(b bool) Value {
	if b {
		return Value{Kind: Bool, N: 1}
	}
	return Value{Kind: Bool}
}

func integer(n int64) Value {
	return Value{Kind: Int, N: n}
}

// Truthy reports whether v counts as true in a boolean context.
// Undefined is false; integers are true when non-zero.
func (v Value) Truthy() bool {
	return v.Kind != Undefined && v.N != 0
}

func (v Value) String() string {
	switch v.Kind {
	case Bool:
		return strconv.FormatBool(v.N != 0)
	case Int:
		return strconv.FormatInt(v.N, 10)
	}
	return "undefined"
}

// Env is the scan state a condition is evaluated against.
type Env struct {
	// Matches holds the occurrences of each pattern of the rule, ordered
	// by offset, indexed by pattern position.
	Matches [][]types.PatternMatch
	// Data is the scanned input, read by uint8/16/32 and friends.
	Data []byte
}

// Satisfied reports whether the condition holds.
func Satisfied(n *types.Node, env *Env) bool {
	return Evaluate(n, env).Truthy()
}

// Evaluate computes the value of a condition tree.
func Evaluate(n *types.Node, env *Env) Value {
	return eval(n, env, types.CurrentPattern)
}

func (env *Env) matches(p, cur int) []types.PatternMatch {
	if p == types.CurrentPattern {
		p = cur
	}
	if p < 0 || p >= len(env.Matches) {
		return nil
	}
	return env.Matches[p]
}

// eval evaluates n with cur as the pattern bound by the innermost for..of.
func eval(n *types.Node, env *Env, cur int) Value {
	switch n.Op {
	case types.OpBool:
		return boolean(n.Value != 0)
	case types.OpInt:
		return integer(n.Value)
	case types.OpFilesize:
		return integer(int64(len(env.Data)))

	case types.OpAnd:
		if !eval(n.Args[0], env, cur).Truthy() {
			return boolean(false)
		}
		return boolean(eval(n.Args[1], env, cur).Truthy())
	case types.OpOr:
		if eval(n.Args[0], env, cur).Truthy() {
			return boolean(true)
		}
		return boolean(eval(n.Args[1], env, cur).Truthy())
	case types.OpNot:
		v := eval(n.Args[0], env, cur)
		if v.Kind == Undefined {
			return undefined
		}
		return boolean(!v.Truthy())

	case types.OpEq, types.OpNe, types.OpLt, types.OpLe, types.OpGt, types.OpGe:
		return compare(n.Op, eval(n.Args[0], env, cur), eval(n.Args[1], env, cur))

	case types.OpNeg, types.OpBitNot:
		v := eval(n.Args[0], env, cur)
		if v.Kind == Undefined {
			return undefined
		}
		if n.Op == types.OpNeg {
			return integer(-v.N)
		}
		return integer(^v.N)

	case types.OpAdd, types.OpSub, types.OpMul, types.OpDiv, types.OpMod,
		types.OpBitAnd, types.OpBitOr, types.OpBitXor, types.OpShl, types.OpShr:
		return arith(n.Op, eval(n.Args[0], env, cur), eval(n.Args[1], env, cur))

	case types.OpFound:
		return boolean(len(env.matches(n.Pattern, cur)) > 0)
	case types.OpCount:
		return integer(int64(len(env.matches(n.Pattern, cur))))
	case types.OpOffset, types.OpLength:
		ms := env.matches(n.Pattern, cur)
		i := eval(n.Args[0], env, cur)
		if i.Kind == Undefined || i.N < 1 || i.N > int64(len(ms)) {
			return undefined
		}
		m := ms[i.N-1]
		if n.Op == types.OpOffset {
			return integer(m.Offset)
		}
		return integer(int64(m.Length))
	case types.OpAt:
		at := eval(n.Args[0], env, cur)
		if at.Kind == Undefined {
			return undefined
		}
		return boolean(anyIn(env.matches(n.Pattern, cur), at.N, at.N))
	case types.OpIn:
		lo, hi := eval(n.Args[0], env, cur), eval(n.Args[1], env, cur)
		if lo.Kind == Undefined || hi.Kind == Undefined {
			return undefined
		}
		return boolean(anyIn(env.matches(n.Pattern, cur), lo.N, hi.N))

	case types.OpReadInt:
		return readInt(n, eval(n.Args[0], env, cur), env.Data)

	case types.OpOf:
		hits := 0
		for _, p := range n.Set {
			if len(env.matches(p, cur)) > 0 {
				hits++
			}
		}
		return quantify(n.Quant, hits, len(n.Set), env, cur)
	case types.OpForOf:
		hits := 0
		for _, p := range n.Set {
			if eval(n.Args[0], env, p).Truthy() {
				hits++
			}
		}
		return quantify(n.Quant, hits, len(n.Set), env, cur)
	}
	return undefined
}

func compare(op types.Op, a, b Value) Value {
	if a.Kind == Undefined || b.Kind == Undefined {
		return undefined
	}
	switch op {
	case types.OpEq:
		return boolean(a.N == b.N)
	case types.OpNe:
		return boolean(a.N != b.N)
	case types.OpLt:
		return boolean(a.N < b.N)
	case types.OpLe:
		return boolean(a.N <= b.N)
	case types.OpGt:
		return boolean(a.N > b.N)
	default:
		return boolean(a.N >= b.N)
	}
}

func arith(op types.Op, a, b Value) Value {
	if a.Kind == Undefined || b.Kind == Undefined {
		return undefined
	}
	x, y := a.N, b.N
	switch op {
	case types.OpAdd:
		return integer(x + y)
	case types.OpSub:
		return integer(x - y)
	case types.OpMul:
		return integer(x * y)
	case types.OpDiv, types.OpMod:
		if y == 0 {
			return undefined
		}
		if op == types.OpDiv {
			return integer(x / y)
		}
		return integer(x % y)
	case types.OpBitAnd:
		return integer(x & y)
	case types.OpBitOr:
		return integer(x | y)
	case types.OpBitXor:
		return integer(x ^ y)
	case types.OpShl, types.OpShr:
		if y < 0 {
			return undefined
		}
		if y >= 64 {
			if op == types.OpShr && x < 0 {
				return integer(-1)
			}
			return integer(0)
		}
		if op == types.OpShl {
			return integer(x << y)
		}
		return integer(x >> y)
	}
	return undefined
}

// anyIn reports whether some match starts within [lo, hi].
func anyIn(ms []types.PatternMatch, lo, hi int64) bool {
	for _, m := range ms {
		if m.Offset > hi {
			return false
		}
		if m.Offset >= lo {
			return true
		}
	}
	return false
}

func readInt(n *types.Node, off Value, data []byte) Value {
	width := n.Value
	if off.Kind == Undefined || off.N < 0 || off.N > int64(len(data))-width {
		return undefined
	}
	b := data[off.N : off.N+width]

	var u uint64
	switch width {
	case 1:
		u = uint64(b[0])
	case 2:
		if n.BigEndian {
			u = uint64(binary.BigEndian.Uint16(b))
		} else {
			u = uint64(binary.LittleEndian.Uint16(b))
		}
	case 4:
		if n.BigEndian {
			u = uint64(binary.BigEndian.Uint32(b))
		} else {
			u = uint64(binary.LittleEndian.Uint32(b))
		}
	default:
		return undefined
	}

	if !n.Signed {
		return integer(int64(u))
	}
	shift := 64 - 8*width
	return integer(int64(u<<shift) >> shift)
}

func quantify(q types.Quantifier, hits, total int, env *Env, cur int) Value {
	switch q.Kind {
	case types.QuantAll:
		return boolean(hits == total)
	case types.QuantAny:
		return boolean(hits > 0)
	case types.QuantNone:
		return boolean(hits == 0)
	}

	want := eval(q.Count, env, cur)
	if want.Kind == Undefined {
		return undefined
	}
	if q.Kind == types.QuantPercent {
		return boolean(int64(hits)*100 >= want.N*int64(total))
	}
	return boolean(int64(hits) >= want.N)
}
