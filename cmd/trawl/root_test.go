package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_ConfigFile(t *testing.T) {
	resetFlags(t)
	saved := zerolog.GlobalLevel()
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(saved)
		configPath, logLevel, logFormat, verbose, quiet = "", "", "", false, false
	})

	dir := t.TempDir()
	rulePath := writeRuleFile(t)
	cfg := "rules:\n  - path: " + rulePath + "\n    namespace: web\nlog:\n  level: info\nstore: results.db\n"
	configPath = filepath.Join(dir, "trawl.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))

	cmd, _, _ := newTestCmd()
	require.NoError(t, setup(cmd, nil))

	assert.Equal(t, filepath.Join(dir, "results.db"), settings.Store)
	require.Len(t, settings.Rules, 1)
	assert.Equal(t, "web", settings.Rules[0].Namespace)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	// Rules from the config file are enough for a scan.
	scanOutputFormat = "json"
	scanStorePath = ":memory:"
	cmd, out, _ := newTestCmd()
	require.NoError(t, runScan(cmd, []string{scanTarget(t)}))
	assert.Contains(t, out.String(), `"namespace": "web"`)
}

func TestSetup_FlagsOverrideConfig(t *testing.T) {
	resetFlags(t)
	saved := zerolog.GlobalLevel()
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(saved)
		configPath, logLevel, logFormat, verbose, quiet = "", "", "", false, false
	})

	tests := []struct {
		name  string
		setup func()
		want  zerolog.Level
	}{
		{name: "default", setup: func() {}, want: zerolog.WarnLevel},
		{name: "verbose", setup: func() { verbose = true }, want: zerolog.DebugLevel},
		{name: "quiet", setup: func() { quiet = true }, want: zerolog.ErrorLevel},
		{name: "explicit level wins", setup: func() { verbose, logLevel = true, "trace" }, want: zerolog.TraceLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath, logLevel, logFormat, verbose, quiet = "", "", "", false, false
			tt.setup()
			cmd, _, _ := newTestCmd()
			require.NoError(t, setup(cmd, nil))
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}

	logFormat = "xml"
	cmd, _, _ := newTestCmd()
	assert.Error(t, setup(cmd, nil))
}

func TestSetup_BadConfig(t *testing.T) {
	resetFlags(t)
	t.Cleanup(func() { configPath = "" })

	configPath = filepath.Join(t.TempDir(), "missing.yaml")
	cmd, _, _ := newTestCmd()
	err := setup(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}
