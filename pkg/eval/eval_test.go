package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/trawl/pkg/rule"
	"github.com/praetorian-inc/trawl/pkg/types"
)

// condition compiles expr inside a rule with patterns $a, $b and $c and
// returns the tree of expr alone.
func condition(t *testing.T, expr string) *types.Node {
	t.Helper()
	src := `rule t {
  strings:
    $a = "alpha"
    $b = "beta"
    $c = "gamma"
  condition:
    (` + expr + `) or (false and any of them)
}`
	rules, err := rule.Parse([]byte(src), "")
	require.NoError(t, err, expr)
	require.Len(t, rules, 1)
	return rules[0].Condition.Args[0]
}

func at(offsets ...int64) []types.PatternMatch {
	out := make([]types.PatternMatch, len(offsets))
	for i, o := range offsets {
		out[i] = types.PatternMatch{Offset: o, Length: 3}
	}
	return out
}

func TestSatisfied(t *testing.T) {
	data := []byte{0x4D, 0x5A, 0x90, 0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0x01, 0x02}
	env := &Env{
		Matches: [][]types.PatternMatch{at(2, 10, 40), at(5), nil},
		Data:    data,
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"$a and $b and $c", false},
		{"$a and ($b or $c)", true},
		{"not $c", true},
		{"#a == 3 and #c == 0", true},
		{"@a[1] == 2 and @a[3] == 40", true},
		{"!a[2] == 3", true},
		{"@a == 2", true},
		{"$a at 10", true},
		{"$a at 11", false},
		{"$a in (3..10)", true},
		{"$a in (11..39)", false},
		{"filesize == 10", true},
		{"filesize < 1KB", true},
		{"uint16(0) == 0x5A4D", true},
		{"uint16be(0) == 0x4D5A", true},
		{"uint8(2) == 0x90", true},
		{"int32(4) == -1", true},
		{"uint32(4) == 0xFFFFFFFF", true},
		{"int8(8) == 1", true},
		{"(1 + 2) * 3 == 9", true},
		{"7 \\ 2 == 3 and 7 % 2 == 1", true},
		{"-5 + 2 == -3", true},
		{"~0 == -1", true},
		{"(1 << 4) | 1 == 17", true},
		{"0xF0 & 0x3C == 0x30", true},
		{"5 ^ 1 == 4", true},
		{"256 >> 4 == 16", true},
		{"#a", true},
		{"#c", false},
		{"any of them", true},
		{"all of them", false},
		{"none of ($c)", true},
		{"2 of them", true},
		{"3 of them", false},
		{"50% of them", true},
		{"100% of ($a, $b)", true},
		{"67% of them", false},
		{"any of ($a, $b)", true},
		{"for all of ($a, $b) : ( # >= 1 )", true},
		{"for any of them : ( # > 2 )", true},
		{"for 2 of them : ( @[1] < 10 )", true},
		{"for all of them : ( $ )", false},
		{"for none of them : ( # > 5 )", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, Satisfied(condition(t, tt.expr), env))
		})
	}
}

func TestUndefined(t *testing.T) {
	env := &Env{
		Matches: [][]types.PatternMatch{at(2), nil, nil},
		Data:    []byte{1, 2, 3},
	}

	tests := []struct {
		name string
		expr string
	}{
		{"offset past count", "@a[5] == 2"},
		{"offset of zero index", "@a[0] >= 0"},
		{"length without match", "!b[1] > 0"},
		{"read past end", "uint32(1) == 0"},
		{"read at negative offset", "uint8(-1) == 0"},
		{"division by zero", "1 \\ 0 == 0"},
		{"modulo by zero", "1 % 0 == 0"},
		{"negative shift", "1 << -1 == 0"},
		{"at undefined offset", "$a at @b[1]"},
		{"in with undefined bound", "$a in (0..@b[1])"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, Satisfied(condition(t, tt.expr), env))
		})
	}

	t.Run("not undefined stays undefined", func(t *testing.T) {
		v := Evaluate(condition(t, "not (@a[5] == 2)"), env)
		assert.Equal(t, Undefined, v.Kind)
		assert.False(t, Satisfied(condition(t, "not (@a[5] == 2) or $c"), env))
	})
}

func TestEvaluateValues(t *testing.T) {
	env := &Env{Matches: [][]types.PatternMatch{at(1, 2), nil, nil}, Data: make([]byte, 4)}

	assert.True(t, Satisfied(condition(t, "#a + filesize == 6"), env))
	assert.False(t, Satisfied(condition(t, "#a + filesize == 6 and $b"), env))

	v := Evaluate(condition(t, "#a"), env)
	assert.Equal(t, Int, v.Kind)
	assert.Equal(t, int64(2), v.N)
	assert.Equal(t, "2", v.String())

	assert.Equal(t, "undefined", Value{}.String())
	assert.Equal(t, "true", boolean(true).String())
}

func TestShiftBeyondWidth(t *testing.T) {
	assert.Equal(t, integer(0), arith(types.OpShl, integer(1), integer(64)))
	assert.Equal(t, integer(-1), arith(types.OpShr, integer(-8), integer(70)))
	assert.Equal(t, integer(0), arith(types.OpShr, integer(8), integer(64)))
}

func TestIntegerTruthiness(t *testing.T) {
	assert.True(t, integer(3).Truthy())
	assert.True(t, integer(-1).Truthy())
	assert.False(t, integer(0).Truthy())
	assert.False(t, Value{}.Truthy())
}
