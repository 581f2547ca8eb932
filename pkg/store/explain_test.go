package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogStore_Stats(t *testing.T) {
	s, _ := newTestStore(t)

	stats := s.Stats()
	assert.Equal(t, 0, stats.Keys)
	assert.Equal(t, int64(4), stats.DataSize)
	assert.Equal(t, int64(4), stats.LiveSize)

	_, err := s.Store("Test", "a", []byte("one"))
	require.NoError(t, err)
	_, err = s.Store("Test", "a", []byte("two"))
	require.NoError(t, err)

	stats = s.Stats()
	assert.Equal(t, 1, stats.Keys)
	assert.Less(t, stats.LiveSize, stats.DataSize)

	require.NoError(t, s.CleanUp())
	stats = s.Stats()
	assert.Equal(t, stats.LiveSize, stats.DataSize)
	assert.Equal(t, 1, stats.Compactions)
}

func TestLogStore_Explain(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Store("Customer", "1", []byte(strings.Repeat("x", 100)))
	require.NoError(t, err)
	_, err = s.Store("Customer", "2", []byte("short"))
	require.NoError(t, err)
	_, err = s.Store("Order", "1", []byte("order"))
	require.NoError(t, err)
	require.NoError(t, s.Remove("Order", "1"))
	_, err = s.Store("Order", "2", []byte("order"))
	require.NoError(t, err)

	res, err := s.Explain(ExplainOptions{WithSamples: 10})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Global.LiveKeys)
	assert.Equal(t, 2, res.Global.Tables)
	assert.Greater(t, res.Global.DeadPct, 0.0)
	assert.Equal(t, 2, res.Tables["Customer"].Keys)
	assert.Equal(t, 1, res.Tables["Order"].Keys)
	assert.Empty(t, res.Warnings)

	require.Len(t, res.Diagnostics.Samples, 3)
	first := res.Diagnostics.Samples[0]
	assert.Equal(t, "Customer", first.Table)
	assert.Equal(t, "1", first.Key)
	assert.Len(t, first.Value, sampleValueLimit)
	assert.Equal(t, uint64(100), first.Size)
}

func TestLogStore_ExplainTable(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Store("Customer", "1", []byte("a"))
	require.NoError(t, err)
	_, err = s.Store("Order", "1", []byte("b"))
	require.NoError(t, err)

	res, err := s.Explain(ExplainOptions{WithSamples: 5, Table: "Order"})
	require.NoError(t, err)
	assert.Len(t, res.Tables, 1)
	require.Len(t, res.Diagnostics.Samples, 1)
	assert.Equal(t, "Order", res.Diagnostics.Samples[0].Table)

	res, err = s.Explain(ExplainOptions{Table: "Missing"})
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 1)
}

func TestLogStore_ExplainReportsRecovery(t *testing.T) {
	data, _ := threeRecordLog(t)

	s, err := NewLogStore(NewMemoryStreamFrom(data[:len(data)-1]), MemoryStreamConfig())
	require.NoError(t, err)

	res, err := s.Explain(ExplainOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Diagnostics.Recovery.RecordsReplayed)
	assert.NotEmpty(t, res.Warnings)
}
