package telemetry

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerSuppressesBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)
	l.Info("should not appear")
	assert.Empty(t, buf.String())

	l.Warn("should appear")
	assert.Contains(t, buf.String(), "should appear")
	assert.Contains(t, buf.String(), "WARN")
}

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)
	l.Info("inserted", "collection", "docs", "count", 3)
	out := buf.String()
	assert.True(t, strings.Contains(out, "collection=docs"))
	assert.True(t, strings.Contains(out, "count=3"))
}

func TestWithMergesFieldsAcrossCalls(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, LevelDebug)
	child := base.With("collection", "docs")
	child.Error("boom", "reason", "bad input")
	out := buf.String()
	assert.Contains(t, out, "collection=docs")
	assert.Contains(t, out, "reason=bad input")
	assert.Contains(t, out, "ERROR")
}

func TestNopLoggerDiscardsEverything(t *testing.T) {
	l := Nop()
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x")
	child := l.With("a", "b")
	child.Info("still nothing")
	// Nothing to assert on output; this test documents Nop's contract and
	// ensures With doesn't panic on the zero-field logger.
}

func TestLevelStringNames(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
}
