package logx

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_Format(t *testing.T) {
	logger := Logger{}
	assert.Equal(t, "a", logger.Format("", "", nil, "a"))
	assert.Equal(t, `Error "test"`, logger.Format("", "", errors.New("test"), ""))
	assert.Equal(t, `Error "test" - a`, logger.Format("", "", errors.New("test"), "a"))
	assert.Equal(t, `(act): Error "test" - a`, logger.Format("", "act", errors.New("test"), "a"))
	assert.Equal(t, `fun(act): Error "test" - a`, logger.Format("fun", "act", errors.New("test"), "a"))

	logger.ComponentID = []IDField{{"a", 1}, {"b", "c"}}
	assert.Equal(t, `[a=1;b=c].fun(act): Error "test" - a`, logger.Format("fun", "act", errors.New("test"), "a"))

	logger.ComponentName = "comp"
	assert.Equal(t, `comp[a=1;b=c].fun(act): Error "test" - a`, logger.Format("fun", "act", errors.New("test"), "a"))

	long := logger.Format("fun", "act", errors.New("test"), strings.Repeat("a", MaxLogMessageLen))
	assert.Len(t, long, MaxLogMessageLen)
}

func TestLogger_Info_Warning(t *testing.T) {
	logger := Logger{ComponentName: "TestLogger_Info_Warning"}
	logger.Info("actor", nil, "informational %d", 1)
	logger.Warning("actor", errors.New("boom"), "something went wrong")
	logger.MaybeMinorError(nil)
	logger.MaybeMinorError(errors.New("use of closed network connection"))
	logger.MaybeMinorError(errors.New("pipe is broken"))
}

func TestTruncateString(t *testing.T) {
	require.Equal(t, "", TruncateString("", -1))
	require.Equal(t, "", TruncateString("a", 0))
	require.Equal(t, "a", TruncateString("aa", 1))
	require.Equal(t, "aa", TruncateString("aa", 3))
	require.Equal(t, "0123456789", TruncateString("01234567890123456789", 10))
	require.Equal(t, "0...(truncated)...9", TruncateString("01234567890123456789", 19))
}

func TestLintString(t *testing.T) {
	require.Equal(t, "", LintString("", -1))
	require.Equal(t, "a", LintString("abc", 1))
	a := LintString("\x01\x08 a \x0e\x1f b\n \x7f c\t \x80", 100)
	require.Equal(t, "__ a __ b\n _ c\t _", a)
}
