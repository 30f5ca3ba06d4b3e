package slogger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, LevelDebug, LevelFromString("debug"))
	assert.Equal(t, LevelWarn, LevelFromString("WARN"))
	assert.Equal(t, DefaultLogLevel, LevelFromString("nonsense"))
}

func TestContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, LevelInfo)

	ctx := WithLogger(context.Background(), logger)
	Ctx(ctx).Info("hello", "key", "value")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "value")

	assert.Equal(t, DefaultLogger, Ctx(context.Background()))
	assert.Equal(t, DefaultLogger, Ctx(nil))
}

func TestWithBindsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, LevelInfo).With("trace_id", "abc123")
	logger.Info("step finished")
	assert.Contains(t, buf.String(), "abc123")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, LevelWarn)
	logger.Info("ignored")
	require.Empty(t, buf.String())
	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}
