package store

import (
	"sort"
)

// HashIndex provides O(1) average-case lookups for record locations.
//
// It is not safe for concurrent use: the index belongs to the store, which
// is only ever driven by one engine worker.
type HashIndex struct {
	entries map[RecordKey]*IndexEntry
}

// NewHashIndex creates a new hash index
func NewHashIndex() *HashIndex {
	return &HashIndex{
		entries: make(map[RecordKey]*IndexEntry),
	}
}

// Put adds or updates an index entry for a key
func (idx *HashIndex) Put(key RecordKey, entry *IndexEntry) {
	idx.entries[key] = entry
}

// Get retrieves the index entry for a key
func (idx *HashIndex) Get(key RecordKey) (*IndexEntry, bool) {
	entry, exists := idx.entries[key]
	return entry, exists
}

// Delete removes a key from the index
func (idx *HashIndex) Delete(key RecordKey) {
	delete(idx.entries, key)
}

// Size returns the number of keys in the index
func (idx *HashIndex) Size() int {
	return len(idx.entries)
}

// Clear removes all entries from the index
func (idx *HashIndex) Clear() {
	idx.entries = make(map[RecordKey]*IndexEntry)
}

// Keys returns all keys, ordered by table then key
func (idx *HashIndex) Keys() []RecordKey {
	keys := make([]RecordKey, 0, len(idx.entries))
	for key := range idx.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Table != keys[j].Table {
			return keys[i].Table < keys[j].Table
		}
		return keys[i].Key < keys[j].Key
	})
	return keys
}

// KeysForTable returns the sorted keys stored under table
func (idx *HashIndex) KeysForTable(table string) []string {
	var keys []string
	for key := range idx.entries {
		if key.Table == table {
			keys = append(keys, key.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Stats returns index statistics
func (idx *HashIndex) Stats() *IndexStats {
	stats := &IndexStats{
		TotalKeys: len(idx.entries),
		Tables:    make(map[string]TableStats),
	}
	for key, entry := range idx.entries {
		t := stats.Tables[key.Table]
		t.Keys++
		t.Bytes += entry.RecordSize()
		stats.Tables[key.Table] = t
		stats.LiveBytes += entry.RecordSize()
	}
	return stats
}

// IndexStats holds statistics about the index
type IndexStats struct {
	TotalKeys int
	LiveBytes int64 // header and payload bytes of every live record
	Tables    map[string]TableStats
}

// TableStats aggregates the live records of one table
type TableStats struct {
	Keys  int   `json:"keys"`
	Bytes int64 `json:"bytes"`
}
