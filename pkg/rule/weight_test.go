package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternWeight(t *testing.T) {
	tests := []struct {
		def  string
		want int
	}{
		{`"abc"`, 1},
		{`"abc" wide`, 1},
		{`"abc" wide ascii`, 2},
		{`"abc" nocase`, 2},
		{`"abc" wide ascii nocase`, 4},
		{`{ 41 42 }`, 2},
		{`{ ?? [1-2] 41 ?? }`, 2 + unanchoredPenalty},
		{`/abc/`, 4},
		{`/abc/i`, 8},
		{`/[a-z]+/`, 4 + unanchoredPenalty},
	}

	for _, tt := range tests {
		t.Run(tt.def, func(t *testing.T) {
			assert.Equal(t, tt.want, PatternWeight(pattern(t, tt.def)))
		})
	}
}

func TestRuleWeight(t *testing.T) {
	rules, err := Parse([]byte(`
rule Empty { condition: true }
rule Two {
  strings:
    $a = "abc"
    $b = /x[0-9]/
  condition:
    $a and $b
}`), "")
	require.NoError(t, err)

	assert.Equal(t, 1, RuleWeight(rules[0]))
	// and, found, found plus 1 for $a and 4 for $b
	assert.Equal(t, 3+1+4, RuleWeight(rules[1]))
	assert.Equal(t, 1+8, Weight(rules))
	assert.Zero(t, Weight(nil))
}

func TestWeightIsDeterministicAndMonotonic(t *testing.T) {
	src := []byte(`rule A { strings: $a = { 4D 5A } $b = "x" nocase condition: all of them }`)
	first, err := Parse(src, "")
	require.NoError(t, err)
	second, err := Parse(src, "other.yar")
	require.NoError(t, err)
	assert.Equal(t, Weight(first), Weight(second))

	more, err := Parse([]byte(`rule B { condition: false }`), "")
	require.NoError(t, err)
	assert.Greater(t, Weight(append(first, more...)), Weight(first))
}
