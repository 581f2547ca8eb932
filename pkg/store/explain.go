package store

import (
	"github.com/TravisTheTechie/Cashbox/pkg/codec"
)

// ExplainOptions configures the explain operation
type ExplainOptions struct {
	WithSamples int    // number of records to sample, 0 for none
	Table       string // restrict table stats and samples to one table
}

// ExplainResult holds the results of an explain operation
type ExplainResult struct {
	Global struct {
		LiveKeys       int     `json:"live_keys"`
		Tables         int     `json:"tables"`
		TotalSizeBytes int64   `json:"total_size_bytes"`
		LiveSizeBytes  int64   `json:"live_size_bytes"`
		DeadPct        float64 `json:"dead_pct"`
		Compactions    int     `json:"compactions"`
	} `json:"global"`

	Tables map[string]TableStats `json:"tables"`

	Diagnostics struct {
		Recovery RecoveryResult `json:"recovery"`
		Samples  []Sample       `json:"samples,omitempty"`
	} `json:"diagnostics"`

	Warnings []string `json:"warnings,omitempty"`
}

// Sample is a truncated view of one live record
type Sample struct {
	Table string `json:"table"`
	Key   string `json:"key"`
	Value string `json:"value_truncated"`
	Size  uint64 `json:"size"`
}

const sampleValueLimit = 64

// Stats holds statistics about the store
type Stats struct {
	Keys        int
	DataSize    int64
	LiveSize    int64
	Compactions int
}

// Stats returns store statistics
func (s *LogStore) Stats() *Stats {
	idx := s.index.Stats()
	return &Stats{
		Keys:        idx.TotalKeys,
		DataSize:    s.size,
		LiveSize:    idx.LiveBytes + codec.StreamHeaderSize,
		Compactions: s.compactions,
	}
}

// Explain gathers diagnostic information about the store
func (s *LogStore) Explain(opts ExplainOptions) (*ExplainResult, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}

	stats := s.Stats()
	idx := s.index.Stats()

	res := &ExplainResult{}
	res.Global.LiveKeys = stats.Keys
	res.Global.Tables = len(idx.Tables)
	res.Global.TotalSizeBytes = stats.DataSize
	res.Global.LiveSizeBytes = stats.LiveSize
	res.Global.Compactions = stats.Compactions
	if stats.DataSize > 0 {
		res.Global.DeadPct = 100 * float64(stats.DataSize-stats.LiveSize) / float64(stats.DataSize)
	}

	res.Tables = idx.Tables
	if opts.Table != "" {
		t, ok := idx.Tables[opts.Table]
		res.Tables = map[string]TableStats{opts.Table: t}
		if !ok {
			res.Warnings = append(res.Warnings, "no live records in table "+opts.Table)
		}
	}

	res.Diagnostics.Recovery = s.recovery
	if res.Diagnostics.Recovery.BytesTruncated > 0 {
		res.Warnings = append(res.Warnings, "a torn trailing record was truncated on open")
	}

	if opts.WithSamples > 0 {
		for _, key := range s.index.Keys() {
			if len(res.Diagnostics.Samples) >= opts.WithSamples {
				break
			}
			if opts.Table != "" && key.Table != opts.Table {
				continue
			}
			data, ok, err := s.Read(key.Table, key.Key)
			if err != nil || !ok {
				res.Warnings = append(res.Warnings, "failed to sample "+key.Table+"/"+key.Key)
				continue
			}
			value := string(data)
			if len(value) > sampleValueLimit {
				value = value[:sampleValueLimit]
			}
			res.Diagnostics.Samples = append(res.Diagnostics.Samples, Sample{
				Table: key.Table,
				Key:   key.Key,
				Value: value,
				Size:  uint64(len(data)),
			})
		}
	}

	return res, nil
}
