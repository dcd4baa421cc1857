package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTask_SkipFlag(t *testing.T) {
	task := NewTask(nil, nil)
	require.False(t, task.IsSkipped())
	task.SetSkipped(true)
	require.True(t, task.IsSkipped())
	task.SetSkipped(false)
	require.False(t, task.IsSkipped())
}

func TestMetricResult_Verdict(t *testing.T) {
	spam := MetricResult{Score: 10, RequiredScore: 5}
	ham := MetricResult{Score: 1, RequiredScore: 5}
	require.Equal(t, "True", spam.Verdict(false))
	require.Equal(t, "False", ham.Verdict(false))
	require.Equal(t, "Skip", spam.Verdict(true))
	require.True(t, spam.IsSpam())
	require.False(t, ham.IsSpam())
}

func TestVersion_String(t *testing.T) {
	require.Equal(t, "", Version{}.String())
	require.Equal(t, "1.1", Version{Major: 1, Minor: 1}.String())
}

func TestDialect_String(t *testing.T) {
	require.Equal(t, "SPAMC", DialectSpamc.String())
	require.Equal(t, "RSPAMC", DialectRspamc.String())
	require.Equal(t, "(unset)", DialectUnset.String())
}
