//go:build integration

package integration

import (
	"bufio"
	"encoding/json"
	"io"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/trawl/pkg/scanner"
	"github.com/praetorian-inc/trawl/pkg/serve"
)

const eicar = `X5O!P%@AP[4\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`

func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..")
}

// server is a running "trawl serve" process.
type server struct {
	t     *testing.T
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
}

func startServer(t *testing.T, args ...string) *server {
	t.Helper()

	bin := filepath.Join(t.TempDir(), "trawl")
	build := exec.Command("go", "build", "-o", bin, "./cmd/trawl")
	build.Dir = projectRoot()
	output, err := build.CombinedOutput()
	require.NoError(t, err, "build failed: %s", output)

	cmd := exec.Command(bin, append([]string{"serve"}, args...)...)
	stdin, err := cmd.StdinPipe()
	require.NoError(t, err)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	s := &server{t: t, cmd: cmd, stdin: stdin, lines: make(chan string, 16)}
	go func() {
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 1024*1024), 10*1024*1024)
		for sc.Scan() {
			s.lines <- sc.Text()
		}
		close(s.lines)
	}()
	t.Cleanup(func() {
		stdin.Close()
		cmd.Process.Kill()
		cmd.Wait()
	})
	return s
}

func (s *server) read() serve.Response {
	s.t.Helper()
	select {
	case line, ok := <-s.lines:
		require.True(s.t, ok, "server closed stdout")
		var resp serve.Response
		require.NoError(s.t, json.Unmarshal([]byte(line), &resp), line)
		return resp
	case <-time.After(30 * time.Second):
		s.t.Fatal("timeout waiting for response")
		return serve.Response{}
	}
}

func (s *server) request(typ string, payload any) serve.Response {
	s.t.Helper()
	req := map[string]any{"type": typ}
	if payload != nil {
		req["payload"] = payload
	}
	data, err := json.Marshal(req)
	require.NoError(s.t, err)
	_, err = s.stdin.Write(append(data, '\n'))
	require.NoError(s.t, err)
	return s.read()
}

func TestServe_ReadyAndScan(t *testing.T) {
	s := startServer(t, "--builtin")

	ready := s.read()
	assert.True(t, ready.Success)
	assert.Equal(t, "ready", ready.Type)

	resp := s.request(serve.TypeScan, serve.ScanPayload{Content: eicar, Source: "upload:1"})
	require.True(t, resp.Success, resp.Error)

	var res scanner.ScanResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, "upload:1", res.Source)
	require.Len(t, res.Reports, 1)
	assert.Equal(t, "builtin", res.Reports[0].Namespace)
	assert.Equal(t, "EICAR_Test_File", res.Reports[0].Rule)
}

func TestServe_CompileIntoNamespace(t *testing.T) {
	s := startServer(t)
	require.True(t, s.read().Success)

	resp := s.request(serve.TypeCompile, serve.CompilePayload{
		Source:    `rule Marker { strings: $a = "trawl-marker" condition: $a }`,
		Namespace: "custom",
	})
	require.True(t, resp.Success, resp.Error)

	var ns serve.NamespacesData
	require.NoError(t, json.Unmarshal(resp.Data, &ns))
	assert.Contains(t, ns.Namespaces, "custom")

	resp = s.request(serve.TypeScan, serve.ScanPayload{Content: "xx trawl-marker xx", Source: "a"})
	require.True(t, resp.Success, resp.Error)
	var res scanner.ScanResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	require.Len(t, res.Reports, 1)
	assert.Equal(t, "custom", res.Reports[0].Namespace)
}

func TestServe_CloseExits(t *testing.T) {
	s := startServer(t, "--builtin")
	require.True(t, s.read().Success)

	data, err := json.Marshal(map[string]string{"type": serve.TypeClose})
	require.NoError(t, err)
	_, err = s.stdin.Write(append(data, '\n'))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not exit after close")
	}
}
