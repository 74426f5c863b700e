package loop

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Contains(t, Level(99).String(), "LEVEL")
}

func TestNoOpLogger_DiscardsEverything(t *testing.T) {
	l := NewNoOpLogger()
	assert.False(t, l.IsEnabled(LevelError))
	assert.NotPanics(t, func() { l.Log(LogEntry{Level: LevelError, Message: "ignored"}) })
}

func TestDefaultLogger_RespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger(&buf, LevelWarn)

	assert.False(t, l.IsEnabled(LevelInfo))
	assert.True(t, l.IsEnabled(LevelWarn))
	assert.True(t, l.IsEnabled(LevelError))

	l.Log(LogEntry{Level: LevelInfo, Category: "loop", Message: "should not appear"})
	assert.Empty(t, buf.String())

	l.Log(LogEntry{Level: LevelError, Category: "loop", Message: "should appear", Err: errors.New("boom")})
	out := buf.String()
	assert.Contains(t, out, "loop")
	assert.Contains(t, out, "should appear")
	assert.Contains(t, out, "boom")
}

func TestDefaultLogger_SetLevelTakesEffectImmediately(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger(&buf, LevelError)
	l.Log(LogEntry{Level: LevelInfo, Message: "dropped"})
	assert.Empty(t, buf.String())

	l.SetLevel(LevelInfo)
	l.Log(LogEntry{Level: LevelInfo, Message: "kept"})
	assert.Contains(t, buf.String(), "kept")
}

func TestDefaultLogger_IncludesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger(&buf, LevelDebug)
	l.Log(LogEntry{Level: LevelDebug, Category: "pool", Message: "checkout", Fields: map[string]any{"conn_id": 7}})
	assert.Contains(t, buf.String(), "conn_id=7")
}
