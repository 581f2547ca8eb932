package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/TravisTheTechie/Cashbox/pkg/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryProvider hands out memory streams and counts factory/cleanup calls
type memoryProvider struct {
	primaryFactoryCalls int
	tempFactoryCalls    int
	primaryCleanups     int
	tempCleanups        int
	primary             *MemoryStream
	failPrimaryFactory  bool
}

func (p *memoryProvider) config() LogStoreConfig {
	return LogStoreConfig{
		PrimaryFactory: func() (Stream, error) {
			p.primaryFactoryCalls++
			if p.failPrimaryFactory {
				return nil, errors.New("disk gone")
			}
			p.primary = NewMemoryStream()
			return p.primary, nil
		},
		TempFactory: func() (Stream, error) {
			p.tempFactoryCalls++
			return NewMemoryStream(), nil
		},
		PrimaryCleanup: func(s Stream) error {
			p.primaryCleanups++
			return CloseStream(s)
		},
		TempCleanup: func(s Stream) error {
			p.tempCleanups++
			return CloseStream(s)
		},
	}
}

func newTestStore(t *testing.T) (*LogStore, *memoryProvider) {
	t.Helper()
	p := &memoryProvider{primary: NewMemoryStream()}
	s, err := NewLogStore(p.primary, p.config())
	require.NoError(t, err)
	return s, p
}

// reopen builds a new store over a copy of the current primary contents
func reopen(t *testing.T, p *memoryProvider) *LogStore {
	t.Helper()
	p.primary = NewMemoryStreamFrom(p.primary.Bytes())
	s, err := NewLogStore(p.primary, p.config())
	require.NoError(t, err)
	return s
}

func intPayload(i int) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(i))
	return buf
}

func TestLogStore_NewStreamGetsHeader(t *testing.T) {
	s, p := newTestStore(t)

	assert.Equal(t, []byte{1, 0, 0, 0}, p.primary.Bytes())
	assert.Equal(t, int64(codec.StreamHeaderSize), s.Size())
	assert.Equal(t, 0, s.Len())
}

func TestLogStore_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	testCases := []struct {
		table string
		key   string
		data  []byte
	}{
		{"Test", "simple", []byte("value")},
		{"Test", "empty", []byte{}},
		{"Test", "binary", []byte{0x00, 0xFF, 0x10, 0x00}},
		{"Other", "simple", bytes.Repeat([]byte("v"), 10240)},
		{"tablé", "🔑", []byte("unicode")},
	}

	for _, tc := range testCases {
		_, err := s.Store(tc.table, tc.key, tc.data)
		require.NoError(t, err)
	}

	for _, tc := range testCases {
		data, ok, err := s.Read(tc.table, tc.key)
		require.NoError(t, err)
		require.True(t, ok, "%s/%s", tc.table, tc.key)
		assert.Equal(t, tc.data, data)
	}
}

func TestLogStore_StoreReturnsEndOffset(t *testing.T) {
	s, p := newTestStore(t)

	end, err := s.Store("Test", "k", []byte("abc"))
	require.NoError(t, err)

	header := codec.NewStoreHeader("Test", "k", 3)
	assert.Equal(t, int64(codec.StreamHeaderSize+header.Size()+3), end)
	assert.Equal(t, end, s.Size())
	assert.Equal(t, int(end), p.primary.Len())
}

func TestLogStore_Overwrite(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Store("Test", "k", []byte("first"))
	require.NoError(t, err)
	_, err = s.Store("Test", "k", []byte("second, longer"))
	require.NoError(t, err)

	data, ok, err := s.Read("Test", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second, longer", string(data))
	assert.Equal(t, 1, s.Len())
}

func TestLogStore_ReadMissing(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Store("Test", "k", []byte("v"))
	require.NoError(t, err)

	for _, k := range []RecordKey{{"Test", "missing"}, {"Other", "k"}, {"test", "k"}, {"Test", "K"}} {
		data, ok, err := s.Read(k.Table, k.Key)
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, data)
	}
}

func TestLogStore_DeleteThenMiss(t *testing.T) {
	s, p := newTestStore(t)

	_, err := s.Store("Test", "k", []byte("still-on-disk"))
	require.NoError(t, err)
	require.NoError(t, s.Remove("Test", "k"))

	_, ok, err := s.Read("Test", "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, s.Contains("Test", "k"))

	// deletes are appended, never in place
	assert.True(t, bytes.Contains(p.primary.Bytes(), []byte("still-on-disk")))

	// removing a missing key still appends a record
	before := s.Size()
	require.NoError(t, s.Remove("Test", "never-stored"))
	assert.Greater(t, s.Size(), before)
}

func TestLogStore_StoreAfterDelete(t *testing.T) {
	s, p := newTestStore(t)

	_, err := s.Store("Test", "k", []byte("one"))
	require.NoError(t, err)
	require.NoError(t, s.Remove("Test", "k"))
	_, err = s.Store("Test", "k", []byte("two"))
	require.NoError(t, err)

	reopened := reopen(t, p)
	data, ok, err := reopened.Read("Test", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", string(data))
}

func TestLogStore_ReopenRebuildsIndex(t *testing.T) {
	s, p := newTestStore(t)

	for i := 0; i < 50; i++ {
		_, err := s.Store("Test", strconv.Itoa(i), intPayload(i))
		require.NoError(t, err)
	}
	for i := 0; i < 50; i += 5 {
		require.NoError(t, s.Remove("Test", strconv.Itoa(i)))
	}
	_, err := s.Store("Other", "x", []byte("y"))
	require.NoError(t, err)

	before := s.ListKeys()
	reopened := reopen(t, p)

	assert.Equal(t, before, reopened.ListKeys())
	assert.Equal(t, s.Size(), reopened.Size())
	for _, k := range before {
		want, _, err := s.Read(k.Table, k.Key)
		require.NoError(t, err)
		got, ok, err := reopened.Read(k.Table, k.Key)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	recovery := reopened.Recovery()
	assert.Equal(t, int64(61), recovery.RecordsReplayed)
	assert.Zero(t, recovery.BytesTruncated)
}

func TestLogStore_KeysForTable(t *testing.T) {
	s, _ := newTestStore(t)

	for _, k := range []RecordKey{{"b", "2"}, {"a", "1"}, {"b", "1"}, {"c", "1"}} {
		_, err := s.Store(k.Table, k.Key, []byte(k.Key))
		require.NoError(t, err)
	}
	require.NoError(t, s.Remove("c", "1"))

	assert.Equal(t, []string{"1", "2"}, s.KeysForTable("b"))
	assert.Empty(t, s.KeysForTable("c"))
	assert.Equal(t, []RecordKey{{"a", "1"}, {"b", "1"}, {"b", "2"}}, s.ListKeys())
}

func TestLogStore_CleanUpScenario(t *testing.T) {
	s, p := newTestStore(t)

	for i := 0; i < 110; i++ {
		_, err := s.Store("Test", strconv.Itoa(i), intPayload(i))
		require.NoError(t, err)
	}
	for i := 11; i < 33; i++ {
		require.NoError(t, s.Remove("Test", strconv.Itoa(i)))
	}

	sizeBefore := s.Size()
	require.NoError(t, s.CleanUp())

	assert.Equal(t, 1, p.tempFactoryCalls)
	assert.Equal(t, 1, p.tempCleanups)
	assert.Equal(t, 1, p.primaryFactoryCalls)
	assert.Equal(t, 1, p.primaryCleanups)
	assert.Equal(t, 88, s.Len())
	assert.Less(t, s.Size(), sizeBefore)
	assert.Equal(t, s.Stats().LiveSize, s.Size())

	reopened := reopen(t, p)
	assert.Equal(t, 88, reopened.Len())
	for i := 0; i < 110; i++ {
		data, ok, err := reopened.Read("Test", strconv.Itoa(i))
		require.NoError(t, err)
		if i >= 11 && i < 33 {
			assert.False(t, ok, "key %d should stay deleted", i)
			continue
		}
		require.True(t, ok, "key %d should survive compaction", i)
		assert.Equal(t, intPayload(i), data)
	}
}

func TestLogStore_CleanUpPreservesVisibleState(t *testing.T) {
	s, p := newTestStore(t)

	for round := 0; round < 3; round++ {
		for i := 0; i < 20; i++ {
			_, err := s.Store(fmt.Sprintf("T%d", i%3), strconv.Itoa(i), []byte(fmt.Sprintf("%d-%d", round, i)))
			require.NoError(t, err)
		}
	}
	for i := 0; i < 20; i += 3 {
		require.NoError(t, s.Remove(fmt.Sprintf("T%d", i%3), strconv.Itoa(i)))
	}

	snapshot := map[RecordKey][]byte{}
	for _, k := range s.ListKeys() {
		data, _, err := s.Read(k.Table, k.Key)
		require.NoError(t, err)
		snapshot[k] = data
	}

	sizeBefore := s.Size()
	require.NoError(t, s.CleanUp())
	require.NoError(t, s.CleanUp())
	assert.LessOrEqual(t, s.Size(), sizeBefore)

	assert.Len(t, s.ListKeys(), len(snapshot))
	for k, want := range snapshot {
		got, ok, err := s.Read(k.Table, k.Key)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	// the store keeps working on the new primary
	_, err := s.Store("T0", "after", []byte("compaction"))
	require.NoError(t, err)
	data, ok, err := reopen(t, p).Read("T0", "after")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "compaction", string(data))
	assert.Equal(t, 2, s.Stats().Compactions)
}

func TestLogStore_CleanUpEmptyStore(t *testing.T) {
	s, p := newTestStore(t)

	require.NoError(t, s.CleanUp())
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, []byte{1, 0, 0, 0}, p.primary.Bytes())
}

func TestLogStore_CleanUpLosesPrimary(t *testing.T) {
	s, p := newTestStore(t)

	_, err := s.Store("Test", "k", []byte("v"))
	require.NoError(t, err)

	p.failPrimaryFactory = true
	err = s.CleanUp()
	require.ErrorIs(t, err, ErrStoreBroken)

	_, _, err = s.Read("Test", "k")
	assert.ErrorIs(t, err, ErrStoreBroken)
	_, err = s.Store("Test", "k", []byte("v"))
	assert.ErrorIs(t, err, ErrStoreBroken)
}

func TestLogStore_Close(t *testing.T) {
	s, p := newTestStore(t)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, p.primaryCleanups)

	_, err := s.Store("Test", "k", []byte("v"))
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, _, err = s.Read("Test", "k")
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestLogStore_BadConfig(t *testing.T) {
	_, err := NewLogStore(NewMemoryStream(), LogStoreConfig{})
	assert.ErrorIs(t, err, ErrBadConfig)

	_, err = NewLogStore(nil, MemoryStreamConfig())
	assert.ErrorIs(t, err, ErrBadConfig)
}
