// Package cache holds the entity registries of the mirror.
//
// A Registry publishes an immutable map through an atomic pointer. Readers
// never lock and always see the state of one published version. Writers
// serialise on a mutex and publish a fresh copy, either one change at a time
// or as a batch through a Txn.
package cache

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// Registry maps entity IDs to records of type T. T should be a value type;
// records handed out by Get and All are copies.
type Registry[T any] struct {
	mu      sync.Mutex
	current atomic.Pointer[map[string]T]
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	r := &Registry[T]{}
	empty := map[string]T{}
	r.current.Store(&empty)
	return r
}

func (r *Registry[T]) load() map[string]T {
	return *r.current.Load()
}

// Get returns the record for id.
func (r *Registry[T]) Get(id string) (T, bool) {
	v, ok := r.load()[id]
	return v, ok
}

// Has reports whether id is present.
func (r *Registry[T]) Has(id string) bool {
	_, ok := r.load()[id]
	return ok
}

// IDs returns the live IDs, sorted.
func (r *Registry[T]) IDs() []string {
	return slices.Sorted(maps.Keys(r.load()))
}

// Len returns the number of records.
func (r *Registry[T]) Len() int {
	return len(r.load())
}

// All returns every record, ordered by ID. All records come from the same
// published version.
func (r *Registry[T]) All() []T {
	m := r.load()
	out := make([]T, 0, len(m))
	for _, id := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[id])
	}
	return out
}

// Put inserts or replaces the record for id.
func (r *Registry[T]) Put(id string, rec T) {
	tx := r.Begin()
	tx.Put(id, rec)
	tx.Commit()
}

// Remove deletes id and reports whether it was present. Removing an absent
// ID is a no-op.
func (r *Registry[T]) Remove(id string) bool {
	tx := r.Begin()
	ok := tx.Remove(id)
	tx.Commit()
	return ok
}

// Update applies fn to a copy of the record for id and publishes the result.
// It returns false without calling fn when id is absent.
func (r *Registry[T]) Update(id string, fn func(*T)) bool {
	tx := r.Begin()
	ok := tx.Update(id, fn)
	tx.Commit()
	return ok
}

// Clear removes every record.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	empty := map[string]T{}
	r.current.Store(&empty)
}

// Begin starts a write transaction. It holds the writer lock until Commit;
// readers keep seeing the previous version meanwhile.
func (r *Registry[T]) Begin() *Txn[T] {
	r.mu.Lock()
	return &Txn[T]{r: r, base: r.load()}
}

// Txn batches registry writes into one published version.
type Txn[T any] struct {
	r     *Registry[T]
	base  map[string]T
	draft map[string]T
	done  bool
}

func (tx *Txn[T]) view() map[string]T {
	if tx.draft != nil {
		return tx.draft
	}
	return tx.base
}

func (tx *Txn[T]) write() map[string]T {
	if tx.draft == nil {
		tx.draft = maps.Clone(tx.base)
		if tx.draft == nil {
			tx.draft = map[string]T{}
		}
	}
	return tx.draft
}

// Get returns the record for id as seen inside the transaction.
func (tx *Txn[T]) Get(id string) (T, bool) {
	v, ok := tx.view()[id]
	return v, ok
}

// Put inserts or replaces id.
func (tx *Txn[T]) Put(id string, rec T) {
	tx.write()[id] = rec
}

// Remove deletes id and reports whether it was present.
func (tx *Txn[T]) Remove(id string) bool {
	if _, ok := tx.view()[id]; !ok {
		return false
	}
	delete(tx.write(), id)
	return true
}

// Update applies fn to the record for id. It returns false when id is absent.
func (tx *Txn[T]) Update(id string, fn func(*T)) bool {
	v, ok := tx.view()[id]
	if !ok {
		return false
	}
	fn(&v)
	tx.write()[id] = v
	return true
}

// Commit publishes the changes and releases the writer lock.
func (tx *Txn[T]) Commit() {
	if tx.done {
		return
	}
	tx.done = true
	if m := tx.draft; m != nil {
		tx.r.current.Store(&m)
	}
	tx.r.mu.Unlock()
}
