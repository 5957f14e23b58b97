package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"":        InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"fatal":   FatalLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestDefaultLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLoggerWithWriter(&buf, false)

	child := logger.WithFields(Fields{"component": "tracker"})
	child.Debug("hidden")
	assert.Empty(t, buf.String())

	child.Info("frame processed", Fields{"frame": 7})
	out := buf.String()
	assert.Contains(t, out, "frame processed")
	assert.Contains(t, out, "component=tracker")
	assert.Contains(t, out, "frame=7")

	buf.Reset()
	child.SetLevel(ErrorLevel)
	logger.Warn("suppressed")
	assert.Empty(t, buf.String())

	logger.Error(errors.New("boom"), "render failed")
	assert.Contains(t, buf.String(), "boom")
}

func TestDefaultLoggerFatalExits(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLoggerWithWriter(&buf, true)

	code := -1
	logger.exit = func(c int) { code = c }
	logger.Fatal(errors.New("no input"), "aborting")

	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), `"level":"FATAL"`)
}

func TestWithContextPicksUpFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLoggerWithWriter(&buf, false)

	ctx := ContextWithFields(context.Background(), Fields{"run_id": "abc"})
	logger.WithContext(ctx).Info("started")

	assert.Contains(t, buf.String(), "run_id=abc")
}

func TestSetGlobalLoggerNil(t *testing.T) {
	prev := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(prev) })

	SetGlobalLogger(nil)
	_, ok := GetGlobalLogger().(*NoOpLogger)
	assert.True(t, ok)
}
