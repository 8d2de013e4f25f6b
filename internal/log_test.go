package internal

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, LogLevelSilent, ParseLogLevel("OFF"))
	assert.Equal(t, LogLevelInfo, ParseLogLevel("nonsense"))
}

func TestLoggerComponentAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{level: LogLevelInfo, out: log.New(&buf, "", 0)}
	driver := l.With("inference").With("driver")

	driver.Info("p=%.2f", 0.5)
	driver.Debug("hidden")

	assert.Equal(t, "[INFO] [inference.driver] p=0.50\n", buf.String())
}

func TestFieldsSorted(t *testing.T) {
	assert.Equal(t, "a=1 b=x", Fields(map[string]interface{}{"b": "x", "a": 1}))
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Info("nothing happens")
	assert.Nil(t, l.With("x"))
}
