package collection

import (
	"sort"
	"sync"
)

// Index maintains secondary lookups from (field, encoded value) to document
// ids. Content mirrors the committed document set: entries are adjusted
// per field as part of every mutation, so no stale entry survives a delete
// and no entry is missing after a create or update of an indexed field.
type Index struct {
	mu     sync.RWMutex
	fields map[string]map[string]map[string]struct{}
}

// NewIndex tracks the given fields. An empty list yields a no-op index.
func NewIndex(fields []string) *Index {
	tracked := make(map[string]map[string]map[string]struct{}, len(fields))
	for _, field := range fields {
		tracked[field] = make(map[string]map[string]struct{})
	}
	return &Index{fields: tracked}
}

// Tracks reports whether the field has a secondary index.
func (x *Index) Tracks(field string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.fields[field]
	return ok
}

// Add records id under the encoded field value.
func (x *Index) Add(field, value, id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	values, ok := x.fields[field]
	if !ok {
		return
	}
	ids, ok := values[value]
	if !ok {
		ids = make(map[string]struct{})
		values[value] = ids
	}
	ids[id] = struct{}{}
}

// Remove drops id from the encoded field value's set.
func (x *Index) Remove(field, value, id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	values, ok := x.fields[field]
	if !ok {
		return
	}
	ids, ok := values[value]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(values, value)
	}
}

// Lookup returns the sorted ids recorded under the encoded field value.
func (x *Index) Lookup(field, value string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	values, ok := x.fields[field]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(values[value]))
	for id := range values[value] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset drops all entries while keeping the tracked fields.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	for field := range x.fields {
		x.fields[field] = make(map[string]map[string]struct{})
	}
}
