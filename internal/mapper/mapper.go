// Package mapper turns raw text rows into records, demultiplexing
// join-prefixed columns onto related records.
package mapper

import (
	"strings"

	"github.com/coregx/tabula/internal/driver"
	"github.com/coregx/tabula/internal/schema"
)

// Mapping routes prefixed columns onto a definition. An empty Relation
// marks the primary entry whose columns become the record's own fields;
// any other entry attaches a related record under its relation name.
type Mapping struct {
	Definition *schema.Definition
	Prefix     string
	Relation   string
}

// MapRows maps raw rows onto records of the primary definition. Nil
// mappings default to a single unprefixed mapping, the non-joined case.
// Each column lands in the entry with the longest matching prefix, so
// the unprefixed primary never swallows join-aliased columns. A related
// record is attached only when its primary-key column arrived non-null;
// an all-null slice from a LEFT JOIN miss produces no relation at all.
func MapRows(primary *schema.Definition, rows []driver.Row, mappings []Mapping) []*Record {
	if len(mappings) == 0 {
		mappings = []Mapping{{Definition: primary}}
	}
	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, mapRow(primary, row, mappings))
	}
	return records
}

func mapRow(primary *schema.Definition, row driver.Row, mappings []Mapping) *Record {
	buckets := make([]driver.Row, len(mappings))
	for i := range buckets {
		buckets[i] = driver.Row{}
	}

	for col, val := range row {
		best := -1
		for i, m := range mappings {
			if !strings.HasPrefix(col, m.Prefix) {
				continue
			}
			if best < 0 || len(m.Prefix) > len(mappings[best].Prefix) {
				best = i
			}
		}
		if best < 0 {
			continue
		}
		buckets[best][strings.TrimPrefix(col, mappings[best].Prefix)] = val
	}

	rec := NewRecord(primary, nil)
	for i, m := range mappings {
		if m.Relation == "" {
			for col, val := range buckets[i] {
				rec.fields[col] = val
			}
			continue
		}
		pk, ok := m.Definition.Primary()
		if !ok {
			continue
		}
		if v, present := buckets[i][pk.Name]; !present || !v.Valid {
			continue
		}
		rec.relations[m.Relation] = NewRecord(m.Definition, buckets[i])
	}
	return rec
}
