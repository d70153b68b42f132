package trawl

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/trawl/pkg/rule"
	"github.com/praetorian-inc/trawl/pkg/types"
)

func TestMain(m *testing.M) {
	if err := Initialize(); err != nil {
		panic(err)
	}
	code := m.Run()
	_ = Finalize()
	os.Exit(code)
}

func newRules(t *testing.T, opts ...Option) *Rules {
	t.Helper()
	r, err := NewRules(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Destroy() })
	return r
}

func ruleNames(reports []*MatchReport) []string {
	var names []string
	for _, rep := range reports {
		names = append(names, rep.RuleID())
	}
	return names
}

const ruleA = `rule A { strings: $s = "malware" condition: $s }`

func TestScanStringSingleMatch(t *testing.T) {
	r := newRules(t)
	require.NoError(t, r.CompileString(ruleA))

	reports, err := r.ScanString("xxmalwarexx")
	require.NoError(t, err)
	require.Len(t, reports, 1)

	rep := reports[0]
	assert.Equal(t, "A", rep.Rule)
	assert.Equal(t, "default", rep.Namespace)
	require.Len(t, rep.Patterns, 1)
	assert.Equal(t, "$s", rep.Patterns[0].ID)
	require.Len(t, rep.Patterns[0].Matches, 1)
	assert.Equal(t, int64(2), rep.Patterns[0].Matches[0].Offset)
	assert.Equal(t, 7, rep.Patterns[0].Matches[0].Length)
	assert.Equal(t, []byte("malware"), rep.Patterns[0].Matches[0].Data)
	assert.NotEmpty(t, rep.StructuralID)
	assert.False(t, rep.BlobID.IsZero())
}

func TestScanEmptyBuffer(t *testing.T) {
	r := newRules(t)
	require.NoError(t, r.CompileString(ruleA))
	require.NoError(t, r.CompileString(`rule Always { condition: true }`))
	require.NoError(t, r.CompileString(`rule Empty { condition: filesize == 0 }`))

	reports, err := r.ScanBuffer(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"default:Always", "default:Empty"}, ruleNames(reports))
}

func TestScanWithoutRules(t *testing.T) {
	r := newRules(t)
	reports, err := r.ScanString("anything")
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestNULBytesAreData(t *testing.T) {
	r := newRules(t)
	require.NoError(t, r.CompileString(`rule Z { strings: $z = { 00 41 00 } condition: #z == 1 and @z[1] == 3 }`))

	reports, err := r.ScanBuffer([]byte{'x', 0, 'y', 0, 'A', 0})
	require.NoError(t, err)
	assert.Equal(t, []string{"default:Z"}, ruleNames(reports))
}

func TestCompileIsAdditive(t *testing.T) {
	r := newRules(t)
	require.NoError(t, r.CompileString(`rule One { condition: true }`))
	require.NoError(t, r.CompileString(`rule Two { condition: true } rule Three { condition: true }`))
	require.NoError(t, r.CompileString(`rule Four { condition: true }`, "other"))

	rules, err := r.Rules()
	require.NoError(t, err)
	var ids []string
	for _, ru := range rules {
		ids = append(ids, ru.ID())
	}
	assert.Equal(t, []string{"default:One", "default:Two", "default:Three", "other:Four"}, ids)

	reports, err := r.ScanString("")
	require.NoError(t, err)
	assert.Equal(t, ids, ruleNames(reports))
}

func TestFailedCompileIsAtomic(t *testing.T) {
	r := newRules(t)
	require.NoError(t, r.CompileString(`rule Keep { condition: true }`))
	before, err := r.Weight()
	require.NoError(t, err)

	err = r.CompileString(`
rule Good { condition: true }
rule Bad { condition: $missing }
`, "fresh")
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Line)
	assert.Contains(t, ce.Message, `undefined string identifier "$missing"`)

	names, err := r.Namespaces()
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, names)

	cur, err := r.CurrentNamespace()
	require.NoError(t, err)
	assert.Equal(t, "default", cur)

	after, err := r.Weight()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	reports, err := r.ScanString("")
	require.NoError(t, err)
	assert.Equal(t, []string{"default:Keep"}, ruleNames(reports))
}

func TestDuplicateRuleAcrossCompiles(t *testing.T) {
	r := newRules(t)
	require.NoError(t, r.CompileString(ruleA))

	err := r.CompileString(ruleA)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, `duplicated identifier "A"`)

	// Same name in another namespace is fine.
	require.NoError(t, r.CompileString(ruleA, "second"))

	reports, err := r.ScanString("malware")
	require.NoError(t, err)
	assert.Equal(t, []string{"default:A", "second:A"}, ruleNames(reports))
}

func TestNamespaceScoping(t *testing.T) {
	r := newRules(t)

	require.NoError(t, r.CompileString(`rule X { condition: true }`, "scoped"))
	cur, err := r.CurrentNamespace()
	require.NoError(t, err)
	assert.Equal(t, "default", cur)

	require.Error(t, r.CompileString(`rule { }`, "broken"))
	cur, err = r.CurrentNamespace()
	require.NoError(t, err)
	assert.Equal(t, "default", cur)

	require.NoError(t, r.SetNamespace("work"))
	require.NoError(t, r.CompileString(`rule Y { condition: true }`))
	require.NoError(t, r.CompileString(`rule Z { condition: true }`, "scoped"))
	cur, err = r.CurrentNamespace()
	require.NoError(t, err)
	assert.Equal(t, "work", cur)

	names, err := r.Namespaces()
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "scoped", "work"}, names)

	reports, err := r.ScanString("")
	require.NoError(t, err)
	assert.Equal(t, []string{"scoped:X", "work:Y", "scoped:Z"}, ruleNames(reports), "reports follow compile order")

	assert.Error(t, r.SetNamespace(""))
	assert.Error(t, r.CompileString(`rule W { condition: true }`, "a", "b"))
}

func TestReportsFollowCompileOrder(t *testing.T) {
	r := newRules(t)
	require.NoError(t, r.CompileString(`rule First { condition: true }`, "alpha"))
	require.NoError(t, r.CompileString(`rule Second { condition: true }`, "beta"))
	require.NoError(t, r.CompileString(`rule Third { condition: true }`, "alpha"))
	require.Error(t, r.CompileString(`rule Fourth { condition: true } rule Fourth { condition: true }`, "beta"))

	reports, err := r.ScanString("")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha:First", "beta:Second", "alpha:Third"}, ruleNames(reports))

	all, err := r.Rules()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "beta:Second", all[1].ID())
}

func TestRuleSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "src.yar")
	require.NoError(t, os.WriteFile(path, []byte(`rule FromFile { condition: true }`), 0o600))

	r := newRules(t)
	require.NoError(t, r.CompileString(`rule FromString { condition: true }`))
	require.NoError(t, r.CompileFile(path))

	all, err := r.Rules()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Empty(t, all[0].Source, "in-memory text has no source name")
	assert.Equal(t, path, all[1].Source)
}

func TestCompileFileMatchesCompileString(t *testing.T) {
	text := `rule F : tag1 tag2 {
  meta:
    author = "x"
    score = 7
  strings:
    $a = "needle" nocase
    $b = { 6E 65 65 ?? 6C 65 }
  condition:
    $a and #b >= 1
}`
	path := filepath.Join(t.TempDir(), "f.yar")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o600))

	fromString := newRules(t)
	require.NoError(t, fromString.CompileString(text))
	fromFile := newRules(t)
	require.NoError(t, fromFile.CompileFile(path))

	rs, err := fromString.Rules()
	require.NoError(t, err)
	rf, err := fromFile.Rules()
	require.NoError(t, err)
	require.Len(t, rs, 1)
	require.Len(t, rf, 1)
	assert.Equal(t, rs[0].StructuralID, rf[0].StructuralID)
	assert.Equal(t, rs[0].Condition.String(), rf[0].Condition.String())

	ws, _ := fromString.Weight()
	wf, _ := fromFile.Weight()
	assert.Equal(t, ws, wf)

	input := "a NEEDLE near a needle"
	a, err := fromString.ScanString(input)
	require.NoError(t, err)
	b, err := fromFile.ScanString(input)
	require.NoError(t, err)
	assert.Equal(t, ruleNames(a), ruleNames(b))
	require.Len(t, a, 1)
	assert.Equal(t, []string{"tag1", "tag2"}, a[0].Tags)
}

func TestCompileErrorsNameTheFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yar")
	require.NoError(t, os.WriteFile(path, []byte("rule A {\n  condition:\n    nope\n}"), 0o600))

	r := newRules(t)
	err := r.CompileFile(path)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, path, ce.Source)
	assert.Equal(t, 3, ce.Line)
	assert.True(t, strings.HasPrefix(err.Error(), "syntax error - "+path+"(3): "))

	err = r.CompileString("rule A {\n  condition:\n    nope\n}")
	require.ErrorAs(t, err, &ce)
	assert.True(t, strings.HasPrefix(err.Error(), "syntax error - line(3): "))

	err = r.CompileFile(filepath.Join(t.TempDir(), "missing.yar"))
	require.ErrorAs(t, err, &ce)
	assert.Zero(t, ce.Line)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWeight(t *testing.T) {
	r := newRules(t)
	w0, err := r.Weight()
	require.NoError(t, err)
	assert.Zero(t, w0)

	require.NoError(t, r.CompileString(ruleA))
	w1, err := r.Weight()
	require.NoError(t, err)
	assert.Greater(t, w1, w0)

	again, err := r.Weight()
	require.NoError(t, err)
	assert.Equal(t, w1, again)

	require.NoError(t, r.CompileString(`rule B { strings: $r = /ab+c/ condition: $r }`))
	w2, err := r.Weight()
	require.NoError(t, err)
	assert.Greater(t, w2, w1)

	other := newRules(t)
	require.NoError(t, other.CompileString(ruleA))
	require.NoError(t, other.CompileString(`rule B { strings: $r = /ab+c/ condition: $r }`))
	w3, err := other.Weight()
	require.NoError(t, err)
	assert.Equal(t, w2, w3)
}

func TestPrivateRulesAndPatterns(t *testing.T) {
	r := newRules(t)
	require.NoError(t, r.CompileString(`
private rule Hidden { condition: true }
rule Shown {
  strings:
    $pub = "public"
    $priv = "secret" private
  condition:
    $pub and $priv
}`))

	reports, err := r.ScanString("public secret")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "Shown", reports[0].Rule)
	require.Len(t, reports[0].Patterns, 1)
	assert.Equal(t, "$pub", reports[0].Patterns[0].ID)
}

func TestScanFileErrors(t *testing.T) {
	dir := t.TempDir()
	r := newRules(t, WithMaxScanSize(8))
	require.NoError(t, r.CompileString(ruleA))

	_, err := r.ScanFile(filepath.Join(dir, "nope"))
	assert.ErrorIs(t, err, types.ErrFileNotFound)

	_, err = r.ScanFile(dir)
	assert.ErrorIs(t, err, types.ErrFileUnreadable)

	big := filepath.Join(dir, "big")
	require.NoError(t, os.WriteFile(big, []byte("0123456789"), 0o600))
	_, err = r.ScanFile(big)
	assert.ErrorIs(t, err, types.ErrInputTooLarge)

	_, err = r.ScanBuffer([]byte("0123456789"))
	assert.ErrorIs(t, err, types.ErrInputTooLarge)

	small := filepath.Join(dir, "small")
	require.NoError(t, os.WriteFile(small, []byte("malware"), 0o600))
	reports, err := r.ScanFile(small)
	require.NoError(t, err)
	assert.Equal(t, []string{"default:A"}, ruleNames(reports))
}

func TestDestroy(t *testing.T) {
	r, err := NewRules()
	require.NoError(t, err)
	require.NoError(t, r.CompileString(ruleA))
	require.NoError(t, r.Destroy())
	require.NoError(t, r.Destroy())

	_, err = r.ScanString("malware")
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, r.CompileString(ruleA), ErrDestroyed)
	_, err = r.Weight()
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = r.Namespaces()
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = r.CurrentNamespace()
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, r.SetNamespace("x"), ErrDestroyed)
}

func TestLifecycle(t *testing.T) {
	// TestMain holds one reference.
	require.NoError(t, Initialize())
	require.NoError(t, Finalize())
	assert.True(t, Initialized())

	require.NoError(t, Finalize())
	assert.False(t, Initialized())
	_, err := NewRules()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, Finalize(), ErrNotInitialized)

	require.NoError(t, Initialize())
	assert.True(t, Initialized())
}

func TestConcurrentScans(t *testing.T) {
	r := newRules(t)
	require.NoError(t, r.CompileString(ruleA))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports, err := r.ScanString("..malware..malware")
			if err != nil {
				errs <- err
				return
			}
			if len(reports) != 1 || reports[0].MatchCount() != 2 {
				errs <- errors.New("unexpected reports")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.CompileString(`rule Late { condition: false }`, "late"); err != nil {
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestLoadBuiltin(t *testing.T) {
	r := newRules(t)
	require.NoError(t, r.LoadBuiltin())

	names, err := r.Namespaces()
	require.NoError(t, err)
	assert.Contains(t, names, rule.BuiltinNamespace)

	eicar := `X5O!P%@AP[4\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`
	reports, err := r.ScanString(eicar)
	require.NoError(t, err)
	assert.Contains(t, ruleNames(reports), "builtin:EICAR_Test_File")

	all, err := r.Rules()
	require.NoError(t, err)
	for _, ru := range all {
		assert.Equal(t, rule.BuiltinNamespace, ru.Namespace)
		assert.True(t, strings.HasPrefix(ru.Source, "builtin/"), ru.Source)
	}

	// A second load collides with the first and installs nothing.
	err = r.LoadBuiltin()
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "duplicated identifier")
	again, err := r.Rules()
	require.NoError(t, err)
	assert.Len(t, again, len(all))
}

func TestRuleFilter(t *testing.T) {
	r := newRules(t, WithRuleFilter(rule.FilterConfig{Exclude: []string{`:Noisy$`}}))
	require.NoError(t, r.CompileString(`rule Quiet { condition: true } rule Noisy { condition: true }`))

	reports, err := r.ScanString("")
	require.NoError(t, err)
	assert.Equal(t, []string{"default:Quiet"}, ruleNames(reports))

	installed, err := r.Rules()
	require.NoError(t, err)
	assert.Len(t, installed, 2)
	active, err := r.Active()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Quiet", active[0].Name)

	_, err = NewRules(WithRuleFilter(rule.FilterConfig{Include: []string{"("}}))
	assert.Error(t, err)
}

func TestContextLines(t *testing.T) {
	r := newRules(t, WithContextLines(1))
	require.NoError(t, r.CompileString(ruleA))

	reports, err := r.ScanString("first\nsecond malware here\nthird\nfourth")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	snip := reports[0].Patterns[0].Matches[0].Snippet
	require.NotNil(t, snip)
	assert.Equal(t, "first\nsecond ", string(snip.Before))
	assert.Equal(t, " here\nthird\n", string(snip.After))
}
