package docstore

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/go-memdb"
)

const tableName = "documents"

// record is the unit stored in memdb. Doc is never mutated after insert.
type record struct {
	ID  int
	Doc map[string]interface{}
}

// docFieldIndex indexes a scalar top-level document field. Documents
// without the field, or with a non-scalar value, are not indexed.
type docFieldIndex struct {
	Field string
}

func (d *docFieldIndex) FromObject(obj interface{}) (bool, []byte, error) {
	r, ok := obj.(*record)
	if !ok {
		return false, nil, fmt.Errorf("docstore: unexpected object %T", obj)
	}
	key, ok := indexKey(r.Doc[d.Field])
	if !ok {
		return false, nil, nil
	}
	return true, key, nil
}

func (d *docFieldIndex) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	key, ok := indexKey(args[0])
	if !ok {
		return nil, fmt.Errorf("value %v cannot be indexed", args[0])
	}
	return key, nil
}

func indexKey(v interface{}) ([]byte, bool) {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case bool:
		s = strconv.FormatBool(val)
	case nil:
		return nil, false
	default:
		f, ok := toFloat(v)
		if !ok {
			return nil, false
		}
		s = strconv.FormatFloat(f, 'g', -1, 64)
	}
	// Null terminate like memdb.StringFieldIndex so prefixes do not collide.
	return []byte(s + "\x00"), true
}

func uniqueIndexName(field string) string {
	return "unique_" + field
}

func newSchema(unique []string) *memdb.DBSchema {
	indexes := map[string]*memdb.IndexSchema{
		"id": {
			Name:    "id",
			Unique:  true,
			Indexer: &memdb.IntFieldIndex{Field: "ID"},
		},
	}
	for _, field := range unique {
		name := uniqueIndexName(field)
		indexes[name] = &memdb.IndexSchema{
			Name:         name,
			Unique:       true,
			AllowMissing: true,
			Indexer:      &docFieldIndex{Field: field},
		}
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableName: {Name: tableName, Indexes: indexes},
		},
	}
}
