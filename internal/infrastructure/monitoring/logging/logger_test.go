package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(t *testing.T, lvl zapcore.Level) (Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(lvl)
	return NewLoggerFromCore(core), logs
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := NewLogger(LogConfig{Level: LevelInfo, Format: format})
		require.NoError(t, err, format)
		assert.NotNil(t, l)
	}
}

func TestNewLogger_EmptyOutputsRejected(t *testing.T) {
	l, err := NewLogger(LogConfig{OutputPaths: []string{}})
	assert.Error(t, err)
	assert.Nil(t, l)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestSetLevel_ChangesSharedLevel(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: LevelInfo})
	require.NoError(t, err)
	assert.Equal(t, "info", CurrentLevel())

	SetLevel(LevelDebug)
	assert.Equal(t, "debug", CurrentLevel())
	SetLevel(LevelInfo)
}

func TestZapLogger_FieldsAreTyped(t *testing.T) {
	l, logs := observed(t, zapcore.DebugLevel)

	l.Info("solved",
		Problem("vap"),
		ModelID("m-1"),
		Int("variables", 12),
		Float64("objective", 3.5),
		Bool("integral", true),
		Duration("elapsed", 2*time.Millisecond),
		Strings("keys", []string{"a", "b"}),
		Err(errors.New("boom")),
	)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "vap", ctx["problem_type"])
	assert.Equal(t, "m-1", ctx["model_id"])
	assert.Equal(t, int64(12), ctx["variables"])
	assert.Equal(t, 3.5, ctx["objective"])
	assert.Equal(t, true, ctx["integral"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestZapLogger_WithAndNamed(t *testing.T) {
	l, logs := observed(t, zapcore.DebugLevel)

	child := l.Named("store").With(String("backend", "memory"))
	child.Warn("sweep")

	entry := logs.All()[0]
	assert.Equal(t, "store", entry.LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "memory", entry.ContextMap()["backend"])
}

func TestZapLogger_LevelFiltering(t *testing.T) {
	l, logs := observed(t, zapcore.WarnLevel)
	l.Debug("hidden")
	l.Info("hidden")
	l.Error("shown")
	assert.Equal(t, 1, logs.Len())
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.Debug("x")
		l.Info("x")
		l.Warn("x")
		l.Error("x")
		l.With(String("a", "b")).Named("n").Info("x")
	})
}

func TestDefault_SetAndIgnoreNil(t *testing.T) {
	orig := Default()
	t.Cleanup(func() { SetDefault(orig) })

	l, _ := observed(t, zapcore.InfoLevel)
	SetDefault(l)
	assert.Same(t, l, Default())

	SetDefault(nil)
	assert.Same(t, l, Default())
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l, _ := observed(t, zapcore.InfoLevel)
	assert.Same(t, l, OrNop(l))
}
