package logging

import (
	"bytes"
	"regexp"
	"time"
)

var entryStart = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\]`)

// RetentionPolicy bounds the diagnostic log by entry age, total size, or both.
// Zero values disable the respective bound.
type RetentionPolicy struct {
	MaxAge   time.Duration
	MaxBytes int64
}

type PruneStats struct {
	Processed int
	Kept      int
	Removed   int
}

func (p RetentionPolicy) Enabled() bool {
	return p.MaxAge > 0 || p.MaxBytes > 0
}

// entry is a timestamped line plus its continuation lines.
type entry struct {
	lines [][]byte
	at    time.Time
	dated bool
	size  int64
}

// Apply returns the retained content. Entries whose timestamp cannot be
// parsed, and lines preceding the first entry, are always kept by the age
// pass.
func (p RetentionPolicy) Apply(data []byte, now time.Time) ([]byte, PruneStats) {
	entries := splitEntries(data)
	var stats PruneStats
	for _, e := range entries {
		stats.Processed += len(e.lines)
	}

	kept := entries[:0:0]
	if p.MaxAge > 0 {
		cutoff := now.Add(-p.MaxAge)
		for _, e := range entries {
			if e.dated && e.at.Before(cutoff) {
				continue
			}
			kept = append(kept, e)
		}
	} else {
		kept = append(kept, entries...)
	}

	if p.MaxBytes > 0 {
		var total int64
		for _, e := range kept {
			total += e.size
		}
		drop := 0
		for drop < len(kept) && total > p.MaxBytes {
			total -= kept[drop].size
			drop++
		}
		kept = kept[drop:]
	}

	var out bytes.Buffer
	for _, e := range kept {
		for _, line := range e.lines {
			out.Write(line)
			stats.Kept++
		}
	}
	stats.Removed = stats.Processed - stats.Kept
	return out.Bytes(), stats
}

func splitEntries(data []byte) []entry {
	var entries []entry
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		var line []byte
		if i < 0 {
			line, data = data, nil
		} else {
			line, data = data[:i+1], data[i+1:]
		}
		if m := entryStart.FindSubmatch(line); m != nil {
			e := entry{lines: [][]byte{line}, size: int64(len(line))}
			if at, err := time.ParseInLocation(TimestampLayout, string(m[1]), time.Local); err == nil {
				e.at = at
				e.dated = true
			}
			entries = append(entries, e)
			continue
		}
		if len(entries) == 0 {
			entries = append(entries, entry{})
		}
		last := &entries[len(entries)-1]
		last.lines = append(last.lines, line)
		last.size += int64(len(line))
	}
	return entries
}
