package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLogger(t *testing.T, level LogLevel) (*ThreadLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return NewLogger(&LoggerConfig{Level: level, Format: "json", Output: &buf, Component: "test"}), &buf
}

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LogLevelDebug},
		{"", LogLevelInfo},
		{"WARNING", LogLevelWarn},
		{" error ", LogLevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLogRun(t *testing.T) {
	l, buf := jsonLogger(t, LogLevelDebug)

	LogRun(l, "completed", time.Second, 3, nil, "thread_id", "t1")
	LogRun(l, "cancelled", time.Second, 1, errors.New("interrupted by user"))
	LogRun(l, "failed", time.Second, 2, errors.New("exit status 1"))

	recs := records(t, buf)
	require.Len(t, recs, 3)

	assert.Equal(t, "Run finished", recs[0]["msg"])
	assert.Equal(t, "INFO", recs[0]["level"])
	assert.Equal(t, "t1", recs[0]["thread_id"])
	assert.Equal(t, "test", recs[0]["component"])
	assert.Equal(t, float64(3), recs[0]["events"])

	assert.Equal(t, "Run cancelled", recs[1]["msg"])
	assert.Equal(t, "interrupted by user", recs[1]["reason"])

	assert.Equal(t, "Run failed", recs[2]["msg"])
	assert.Equal(t, "ERROR", recs[2]["level"])
	assert.Equal(t, "exit status 1", recs[2]["err"])
}

func TestLogProcess(t *testing.T) {
	l, buf := jsonLogger(t, LogLevelInfo)

	LogProcess(l, "codex", 42, time.Second, 0, nil)
	LogProcess(l, "codex", 43, time.Second, 2, errors.New("exit status 2"))

	recs := records(t, buf)
	require.Len(t, recs, 1, "clean exits log at debug level")
	assert.Equal(t, "Process exited with error", recs[0]["msg"])
	assert.Equal(t, float64(43), recs[0]["pid"])
	assert.Equal(t, float64(2), recs[0]["exit_code"])
}

func TestWith(t *testing.T) {
	l, buf := jsonLogger(t, LogLevelInfo)
	With(l, "provider", "codex").Info("hello")

	recs := records(t, buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "codex", recs[0]["provider"])

	assert.Equal(t, NoOpLogger{}, With(NoOpLogger{}, "k", "v"))
	assert.Equal(t, NoOpLogger{}, OrNop(nil))
}
