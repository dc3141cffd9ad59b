package docstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-memdb"
)

// Reserved document fields.
const (
	FieldID   = "$loki"
	FieldMeta = "meta"
)

// CollectionOptions configures a collection.
type CollectionOptions struct {
	// Unique lists fields whose values must be unique across documents.
	Unique []string
}

// Collection is a named set of documents backed by its own memdb instance.
// Returned documents are copies; mutating them does not touch the store.
type Collection struct {
	name   string
	unique []string
	now    func() time.Time

	mu    sync.Mutex // serializes writers and guards maxID
	db    *memdb.MemDB
	maxID int
}

func newCollection(name string, opts CollectionOptions) (*Collection, error) {
	db, err := memdb.NewMemDB(newSchema(opts.Unique))
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	return &Collection{
		name:   name,
		unique: append([]string(nil), opts.Unique...),
		now:    time.Now,
		db:     db,
	}, nil
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Unique returns the unique fields.
func (c *Collection) Unique() []string {
	return append([]string(nil), c.unique...)
}

// Count returns the number of documents.
func (c *Collection) Count() int {
	return len(c.records())
}

// Get returns the document with the given id.
func (c *Collection) Get(id int) (map[string]interface{}, bool) {
	txn := c.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableName, "id", id)
	if err != nil || raw == nil {
		return nil, false
	}
	return cloneDoc(raw.(*record).Doc), true
}

// By returns the document whose field equals value. Unique fields use
// their index; other fields fall back to a scan for the first match.
func (c *Collection) By(field string, value interface{}) (map[string]interface{}, bool) {
	for _, u := range c.unique {
		if u != field {
			continue
		}
		txn := c.db.Txn(false)
		defer txn.Abort()
		raw, err := txn.First(tableName, uniqueIndexName(field), value)
		if err != nil || raw == nil {
			return nil, false
		}
		return cloneDoc(raw.(*record).Doc), true
	}

	for _, r := range c.records() {
		if v, ok := r.Doc[field]; ok && equalValues(v, value) {
			return cloneDoc(r.Doc), true
		}
	}
	return nil, false
}

// Find returns every document matching q.
func (c *Collection) Find(q Query) ([]map[string]interface{}, error) {
	return c.Chain().Find(q).Data()
}

// FindOne returns the first document matching q, or nil.
func (c *Collection) FindOne(q Query) (map[string]interface{}, error) {
	docs, err := c.Chain().Find(q).Limit(1).Data()
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// FindObject returns the first document whose fields equal obj's.
func (c *Collection) FindObject(obj map[string]interface{}) (map[string]interface{}, error) {
	return c.FindOne(equalityQuery(obj))
}

// FindObjects returns every document whose fields equal obj's.
func (c *Collection) FindObjects(obj map[string]interface{}) ([]map[string]interface{}, error) {
	return c.Find(equalityQuery(obj))
}

func equalityQuery(obj map[string]interface{}) Query {
	q := make(Query, len(obj))
	for k, v := range obj {
		q[k] = map[string]interface{}{"$eq": v}
	}
	return q
}

// Insert adds documents, assigning ids and metadata. Either every document
// is inserted or none is.
func (c *Collection) Insert(docs ...map[string]interface{}) ([]map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	txn := c.db.Txn(true)
	defer txn.Abort()

	nextID := c.maxID
	now := c.now().UnixMilli()
	out := make([]map[string]interface{}, 0, len(docs))

	for _, doc := range docs {
		if doc == nil {
			return nil, fmt.Errorf("cannot insert a null document")
		}
		if _, ok := doc[FieldID]; ok {
			return nil, fmt.Errorf("document is already in collection, please use update()")
		}

		nextID++
		stored := cloneDoc(doc)
		stored[FieldID] = nextID
		stored[FieldMeta] = map[string]interface{}{
			"revision": 0,
			"created":  now,
			"version":  0,
		}

		r := &record{ID: nextID, Doc: stored}
		if err := c.checkUnique(txn, r); err != nil {
			return nil, err
		}
		if err := txn.Insert(tableName, r); err != nil {
			return nil, fmt.Errorf("insert into %s: %w", c.name, err)
		}
		out = append(out, cloneDoc(stored))
	}

	txn.Commit()
	c.maxID = nextID
	return out, nil
}

// Update replaces documents by id and bumps their revision.
func (c *Collection) Update(docs ...map[string]interface{}) ([]map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	txn := c.db.Txn(true)
	defer txn.Abort()

	now := c.now().UnixMilli()
	out := make([]map[string]interface{}, 0, len(docs))

	for _, doc := range docs {
		rawID, ok := doc[FieldID]
		if !ok {
			return nil, fmt.Errorf("trying to update unsynced document, please save the document first by using insert()")
		}
		idf, ok := toFloat(rawID)
		if !ok {
			return nil, fmt.Errorf("invalid document id %v", rawID)
		}
		id := int(idf)

		raw, err := txn.First(tableName, "id", id)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, fmt.Errorf("trying to update a document not in collection")
		}
		old := raw.(*record)

		stored := cloneDoc(doc)
		stored[FieldID] = id
		meta := map[string]interface{}{}
		if oldMeta, ok := old.Doc[FieldMeta].(map[string]interface{}); ok {
			for k, v := range oldMeta {
				meta[k] = v
			}
		}
		revision, _ := toFloat(meta["revision"])
		meta["revision"] = int(revision) + 1
		meta["updated"] = now
		stored[FieldMeta] = meta

		r := &record{ID: id, Doc: stored}
		if err := c.checkUnique(txn, r); err != nil {
			return nil, err
		}
		if err := txn.Insert(tableName, r); err != nil {
			return nil, fmt.Errorf("update in %s: %w", c.name, err)
		}
		out = append(out, cloneDoc(stored))
	}

	txn.Commit()
	return out, nil
}

// RemoveWhere removes every document matching q and returns how many
// were removed.
func (c *Collection) RemoveWhere(q Query) (int, error) {
	rs := c.Chain().Find(q)
	n := len(rs.records)
	if err := rs.Remove(); err != nil {
		return 0, err
	}
	return n, nil
}

// RemoveDataOnly clears every document but keeps the collection.
func (c *Collection) RemoveDataOnly() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	txn := c.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(tableName, "id"); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Chain returns a result set over every document, ordered by id.
func (c *Collection) Chain() *ResultSet {
	return &ResultSet{coll: c, records: c.records()}
}

func (c *Collection) removeRecords(rs []*record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	txn := c.db.Txn(true)
	defer txn.Abort()
	for _, r := range rs {
		if err := txn.Delete(tableName, r); err != nil && err != memdb.ErrNotFound {
			return fmt.Errorf("remove from %s: %w", c.name, err)
		}
	}
	txn.Commit()
	return nil
}

func (c *Collection) checkUnique(txn *memdb.Txn, r *record) error {
	for _, field := range c.unique {
		value, ok := r.Doc[field]
		if !ok {
			continue
		}
		if _, indexable := indexKey(value); !indexable {
			continue
		}
		raw, err := txn.First(tableName, uniqueIndexName(field), value)
		if err != nil {
			return err
		}
		if raw != nil && raw.(*record).ID != r.ID {
			return fmt.Errorf("duplicate key for property %s: %v", field, value)
		}
	}
	return nil
}

func (c *Collection) records() []*record {
	txn := c.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableName, "id")
	if err != nil {
		return nil
	}
	var out []*record
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*record))
	}
	return out
}

// snapshot returns an independent copy sharing the immutable records.
func (c *Collection) snapshot() *Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Collection{
		name:   c.name,
		unique: c.unique,
		now:    c.now,
		db:     c.db.Snapshot(),
		maxID:  c.maxID,
	}
}

// cloneDoc deep copies a document.
func cloneDoc(doc map[string]interface{}) map[string]interface{} {
	if doc == nil {
		return nil
	}
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneDoc(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}
