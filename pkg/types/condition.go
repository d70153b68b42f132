package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Op tags a condition Node.
type Op uint8

const (
	OpBool     Op = iota // Value 0 or 1
	OpInt                // integer literal in Value
	OpFilesize           // size of the scanned input

	OpAnd
	OpOr
	OpNot

	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg

	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitNot
	OpShl
	OpShr

	OpFound  // $a
	OpCount  // #a
	OpOffset // @a[i], Args[0] is the 1-based index
	OpLength // !a[i], Args[0] is the 1-based index
	OpAt     // $a at Args[0]
	OpIn     // $a in (Args[0]..Args[1])

	OpReadInt // uint8/16/32 and int8/16/32 with Width, Signed, BigEndian
	OpOf      // Quant of Set
	OpForOf   // for Quant of Set : (Args[0])
)

var opNames = map[Op]string{
	OpAnd: "and", OpOr: "or", OpNot: "not",
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "\\", OpMod: "%", OpNeg: "-",
	OpBitAnd: "&", OpBitOr: "|", OpBitXor: "^", OpBitNot: "~", OpShl: "<<", OpShr: ">>",
}

// String returns the operator token, or a descriptive name for non-operators.
func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	switch o {
	case OpBool:
		return "bool"
	case OpInt:
		return "int"
	case OpFilesize:
		return "filesize"
	case OpFound:
		return "found"
	case OpCount:
		return "count"
	case OpOffset:
		return "offset"
	case OpLength:
		return "length"
	case OpAt:
		return "at"
	case OpIn:
		return "in"
	case OpReadInt:
		return "readint"
	case OpOf:
		return "of"
	case OpForOf:
		return "for"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// QuantKind selects how many members of a pattern set must hold.
type QuantKind uint8

const (
	QuantAll QuantKind = iota
	QuantAny
	QuantNone
	QuantCount   // at least Count members
	QuantPercent // at least Count percent of members
)

// Quantifier is the left side of an "of" expression.
type Quantifier struct {
	Kind  QuantKind
	Count *Node
}

// CurrentPattern is the Pattern value used for the implicit $, #, @ and !
// inside a for..of body.
const CurrentPattern = -1

// Node is an immutable condition tree node. Which fields are meaningful
// depends on Op.
type Node struct {
	Op      Op
	Value   int64 // OpBool, OpInt; byte width for OpReadInt
	Pattern int   // pattern index for OpFound..OpIn, or CurrentPattern
	Set     []int // pattern indices for OpOf and OpForOf
	Quant   Quantifier
	Args    []*Node

	Signed    bool // OpReadInt
	BigEndian bool // OpReadInt
}

// String renders the node in a canonical prefix form. It is stable across
// compiles and is used to fingerprint rules.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

func (n *Node) write(sb *strings.Builder) {
	switch n.Op {
	case OpBool:
		if n.Value != 0 {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
		return
	case OpInt:
		sb.WriteString(strconv.FormatInt(n.Value, 10))
		return
	case OpFilesize:
		sb.WriteString("filesize")
		return
	}

	sb.WriteByte('(')
	sb.WriteString(n.Op.String())
	switch n.Op {
	case OpFound, OpCount, OpOffset, OpLength, OpAt, OpIn:
		fmt.Fprintf(sb, " #%d", n.Pattern)
	case OpReadInt:
		fmt.Fprintf(sb, " w%d s%t be%t", n.Value, n.Signed, n.BigEndian)
	case OpOf, OpForOf:
		fmt.Fprintf(sb, " q%d", n.Quant.Kind)
		if n.Quant.Count != nil {
			sb.WriteByte(' ')
			n.Quant.Count.write(sb)
		}
		fmt.Fprintf(sb, " %v", n.Set)
	}
	for _, a := range n.Args {
		sb.WriteByte(' ')
		a.write(sb)
	}
	sb.WriteByte(')')
}

// Walk calls fn for n and every node beneath it, depth first.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	if n.Quant.Count != nil {
		n.Quant.Count.Walk(fn)
	}
	for _, a := range n.Args {
		a.Walk(fn)
	}
}

// Size returns the number of nodes in the tree.
func (n *Node) Size() int {
	count := 0
	n.Walk(func(*Node) { count++ })
	return count
}
