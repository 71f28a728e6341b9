package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	UseCore(core)
	SetLevel(DEBUG)
	SetRedactPII(true)
	t.Cleanup(func() {
		Init("info", false)
		SetRedactPII(true)
	})
	return logs
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestLog_RedactsEmailKeys(t *testing.T) {
	logs := observe(t)

	Info("admitted", "address", "alice@example.com", "repository_id", "r1")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "al***@example.com", fields["address"])
	assert.Equal(t, "r1", fields["repository_id"])
}

func TestLog_RedactsEmbeddedEmails(t *testing.T) {
	logs := observe(t)

	Warn("delivery failed", "error", errors.New("rejected bob.smith@example.org"))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "rejected bo***@example.org", logs.All()[0].ContextMap()["error"])
}

func TestLog_RedactionDisabled(t *testing.T) {
	logs := observe(t)
	SetRedactPII(false)

	Info("raw", "email", "carol@example.com")

	assert.Equal(t, "carol@example.com", logs.All()[0].ContextMap()["email"])
}

func TestLog_LevelFilter(t *testing.T) {
	logs := observe(t)
	SetLevel(WARN)

	Debug("hidden")
	Info("hidden")
	Error("shown", "count", 3)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "shown", entry.Message)
	assert.EqualValues(t, 3, entry.ContextMap()["count"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("bogus"))
}
