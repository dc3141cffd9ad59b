// Package docstore is the embedded in-memory document store. Each
// collection is a go-memdb database holding JSON-like documents.
package docstore

import (
	"sync"
)

// Database is a named set of collections.
type Database struct {
	name string

	mu          sync.RWMutex
	collections map[string]*Collection
	order       []string
}

// New creates an empty database.
func New(name string) *Database {
	return &Database{
		name:        name,
		collections: make(map[string]*Collection),
	}
}

// Name returns the database name.
func (d *Database) Name() string {
	return d.name
}

// AddCollection creates a collection, or returns the existing one.
func (d *Database) AddCollection(name string, opts CollectionOptions) (*Collection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.collections[name]; ok {
		return c, nil
	}
	c, err := newCollection(name, opts)
	if err != nil {
		return nil, err
	}
	d.collections[name] = c
	d.order = append(d.order, name)
	return c, nil
}

// Collection returns the named collection or nil.
func (d *Database) Collection(name string) *Collection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.collections[name]
}

// Collections returns every collection in creation order.
func (d *Database) Collections() []*Collection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Collection, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.collections[name])
	}
	return out
}

// RemoveCollection drops a collection. It reports whether one existed.
func (d *Database) RemoveCollection(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.collections[name]; !ok {
		return false
	}
	delete(d.collections, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i:i], d.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns a point-in-time copy. Later writes to either database
// are not visible in the other.
func (d *Database) Snapshot() *Database {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap := New(d.name)
	for _, name := range d.order {
		snap.collections[name] = d.collections[name].snapshot()
		snap.order = append(snap.order, name)
	}
	return snap
}
