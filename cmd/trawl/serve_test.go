package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/trawl/pkg/scanner"
	"github.com/praetorian-inc/trawl/pkg/serve"
)

func TestRunServe(t *testing.T) {
	resetFlags(t)
	serveRules.paths = []string{writeRuleFile(t)}

	cmd, out, _ := newTestCmd()
	cmd.SetIn(strings.NewReader(strings.Join([]string{
		`{"type":"namespaces"}`,
		`{"type":"scan","payload":{"content":"MZ eval(","source":"req-1"}}`,
		`{"type":"close"}`,
	}, "\n") + "\n"))

	require.NoError(t, runServe(cmd, []string{}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	var responses []serve.Response
	for _, line := range lines {
		var resp serve.Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		responses = append(responses, resp)
	}
	assert.Equal(t, "ready", responses[0].Type)

	require.True(t, responses[1].Success, responses[1].Error)
	var ns serve.NamespacesData
	require.NoError(t, json.Unmarshal(responses[1].Data, &ns))
	assert.Equal(t, []string{"default"}, ns.Namespaces)

	require.True(t, responses[2].Success, responses[2].Error)
	var res scanner.ScanResult
	require.NoError(t, json.Unmarshal(responses[2].Data, &res))
	assert.Equal(t, "req-1", res.Source)
	assert.Len(t, res.Reports, 2)
}

func TestRunServe_BadRules(t *testing.T) {
	resetFlags(t)
	serveRules.paths = []string{"/nonexistent/rules.yar"}

	cmd, _, _ := newTestCmd()
	cmd.SetIn(strings.NewReader(""))
	assert.Error(t, runServe(cmd, []string{}))
}
