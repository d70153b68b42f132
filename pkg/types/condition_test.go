package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNode_StringIsCanonical(t *testing.T) {
	// $a and #a > 2
	n := &Node{Op: OpAnd, Args: []*Node{
		{Op: OpFound, Pattern: 0},
		{Op: OpGt, Args: []*Node{
			{Op: OpCount, Pattern: 0},
			{Op: OpInt, Value: 2},
		}},
	}}

	assert.Equal(t, "(and (found #0) (> (count #0) 2))", n.String())
	assert.Equal(t, 5, n.Size())
}

func TestNode_WalkVisitsQuantifierCount(t *testing.T) {
	n := &Node{
		Op:    OpOf,
		Quant: Quantifier{Kind: QuantCount, Count: &Node{Op: OpInt, Value: 2}},
		Set:   []int{0, 1, 2},
	}

	var ops []Op
	n.Walk(func(x *Node) { ops = append(ops, x.Op) })
	assert.Equal(t, []Op{OpOf, OpInt}, ops)
	assert.Equal(t, "(of q3 2 [0 1 2])", n.String())
}

func TestNode_NilString(t *testing.T) {
	var n *Node
	assert.Equal(t, "<nil>", n.String())
	assert.Equal(t, 0, n.Size())
}
