package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	saved := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(saved) })

	tests := []struct {
		name      string
		level     string
		output    string
		wantLevel zerolog.Level
		wantErr   string
	}{
		{name: "debug console", level: "debug", output: "console", wantLevel: zerolog.DebugLevel},
		{name: "info json", level: "info", output: "json", wantLevel: zerolog.InfoLevel},
		{name: "warn default output", level: "warn", output: "", wantLevel: zerolog.WarnLevel},
		{name: "error json", level: "error", output: "json", wantLevel: zerolog.ErrorLevel},
		{name: "invalid level", level: "loud", output: "json", wantErr: "invalid log level"},
		{name: "invalid output", level: "info", output: "syslog", wantErr: "invalid log output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := Configure(tt.level, tt.output, &buf)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, zerolog.GlobalLevel())
		})
	}
}

func TestComponentJSON(t *testing.T) {
	saved := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(saved) })

	var buf bytes.Buffer
	require.NoError(t, Configure("info", "json", &buf))

	log := Component("scan")
	log.Info().Int("rules", 3).Msg("done")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "scan", line["component"])
	assert.Equal(t, "done", line["message"])
	assert.Equal(t, float64(3), line["rules"])
}

func TestLevelFiltering(t *testing.T) {
	saved := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(saved) })

	var buf bytes.Buffer
	require.NoError(t, Configure("warn", "json", &buf))

	Logger.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	Logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
