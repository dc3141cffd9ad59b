package docstore

import (
	"sort"
)

// SortKey is one key of a compound sort.
type SortKey struct {
	Field      string
	Descending bool
}

// ResultSet is a chainable cursor over a collection's current contents.
// The first error stops the chain and is returned by Data or Remove.
type ResultSet struct {
	coll    *Collection
	records []*record
	err     error
}

// Find keeps the records matching q.
func (rs *ResultSet) Find(q Query) *ResultSet {
	if rs.err != nil || len(q) == 0 {
		return rs
	}
	kept := rs.records[:0:0]
	for _, r := range rs.records {
		ok, err := Match(r.Doc, q)
		if err != nil {
			rs.err = err
			return rs
		}
		if ok {
			kept = append(kept, r)
		}
	}
	rs.records = kept
	return rs
}

// SimpleSort orders the records by one field.
func (rs *ResultSet) SimpleSort(field string, descending bool) *ResultSet {
	return rs.CompoundSort([]SortKey{{Field: field, Descending: descending}})
}

// CompoundSort orders the records by several fields, earlier keys first.
func (rs *ResultSet) CompoundSort(keys []SortKey) *ResultSet {
	if rs.err != nil || len(keys) == 0 {
		return rs
	}
	sort.SliceStable(rs.records, func(i, j int) bool {
		for _, k := range keys {
			a, aok := Lookup(rs.records[i].Doc, k.Field)
			b, bok := Lookup(rs.records[j].Doc, k.Field)
			c := compareForSort(a, aok, b, bok)
			if c == 0 {
				continue
			}
			if k.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return rs
}

// Limit keeps at most n records.
func (rs *ResultSet) Limit(n int) *ResultSet {
	if rs.err == nil && n >= 0 && n < len(rs.records) {
		rs.records = rs.records[:n]
	}
	return rs
}

// Offset skips the first n records.
func (rs *ResultSet) Offset(n int) *ResultSet {
	if rs.err != nil || n <= 0 {
		return rs
	}
	if n >= len(rs.records) {
		rs.records = nil
		return rs
	}
	rs.records = rs.records[n:]
	return rs
}

// Remove deletes the records in the set from the collection and empties
// the set.
func (rs *ResultSet) Remove() error {
	if rs.err != nil {
		return rs.err
	}
	if err := rs.coll.removeRecords(rs.records); err != nil {
		rs.err = err
		return err
	}
	rs.records = nil
	return nil
}

// Count returns the number of records in the set.
func (rs *ResultSet) Count() int {
	return len(rs.records)
}

// Data returns copies of the documents in the set.
func (rs *ResultSet) Data() ([]map[string]interface{}, error) {
	if rs.err != nil {
		return nil, rs.err
	}
	out := make([]map[string]interface{}, 0, len(rs.records))
	for _, r := range rs.records {
		out = append(out, cloneDoc(r.Doc))
	}
	return out, nil
}

// Err returns the first error raised in the chain.
func (rs *ResultSet) Err() error {
	return rs.err
}
