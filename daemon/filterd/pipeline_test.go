package filterd

import (
	"testing"

	"github.com/rspamd-go/protoengine/protocol"
	"github.com/stretchr/testify/require"
)

func TestNoopPipeline_Scan(t *testing.T) {
	task := protocol.NewTask(nil, nil)
	pipeline := &NoopPipeline{}
	require.NoError(t, pipeline.Scan(task, []byte("hello")))
	m, ok := task.Results["default"]
	require.True(t, ok)
	require.Equal(t, "default", m.MetricName)
	require.Equal(t, float64(0), m.Score)
	require.Equal(t, float64(15), m.RequiredScore)
	require.Len(t, task.FuzzyHashes, 1)
	require.Equal(t, computeFuzzyHash([]byte("hello")), task.FuzzyHashes[0])
}

func TestComputeFuzzyHash_Deterministic(t *testing.T) {
	a := computeFuzzyHash([]byte("the quick brown fox"))
	b := computeFuzzyHash([]byte("the quick brown fox"))
	c := computeFuzzyHash([]byte("a different message"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, fuzzyHashSize*2)
}

func TestNoopPipeline_ScanCustomThresholds(t *testing.T) {
	task := protocol.NewTask(nil, nil)
	pipeline := &NoopPipeline{RequiredScore: 5, RejectScore: 10}
	require.NoError(t, pipeline.Scan(task, nil))
	m := task.Results["default"]
	require.Equal(t, float64(5), m.RequiredScore)
	require.Equal(t, float64(10), m.RejectScore)
}
