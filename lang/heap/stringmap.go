package heap

import "github.com/dolthub/swiss"

// StringMap is a hash table keyed by interned string Handle.Idx, backed by
// github.com/dolthub/swiss. Every field table (Instance) and method table
// (Class) in the VM is one of these: because string keys are interned,
// lookups and equality are O(1) integer comparisons rather than content
// hashing.
type StringMap struct {
	m *swiss.Map[uint32, Value]
}

// NewStringMap returns a table with initial capacity for at least size
// entries.
func NewStringMap(size int) *StringMap {
	if size < 0 {
		size = 0
	}
	return &StringMap{m: swiss.NewMap[uint32, Value](uint32(size))}
}

// Get returns the value stored for the interned name key, if any.
func (sm *StringMap) Get(key Handle) (Value, bool) {
	v, ok := sm.m.Get(key.Idx)
	return v, ok
}

// Set stores v under the interned name key.
func (sm *StringMap) Set(key Handle, v Value) {
	sm.m.Put(key.Idx, v)
}

// Delete removes key from the table, reporting whether it was present.
func (sm *StringMap) Delete(key Handle) bool {
	return sm.m.Delete(key.Idx)
}

// Has reports whether key is present in the table.
func (sm *StringMap) Has(key Handle) bool {
	return sm.m.Has(key.Idx)
}

// Len returns the number of entries in the table.
func (sm *StringMap) Len() int {
	return sm.m.Count()
}

// Each calls fn for every entry in the table, in unspecified order. fn
// receives the raw interned-string index; callers that need the Handle
// reconstruct it with Handle{Type: ObjString, Idx: idx}.
func (sm *StringMap) Each(fn func(nameIdx uint32, v Value)) {
	sm.m.Iter(func(k uint32, v Value) bool {
		fn(k, v)
		return false
	})
}

// CopyInto copies every entry of sm into dst, overwriting existing keys.
// Used by OP_INHERIT to copy a superclass's methods into a subclass.
func (sm *StringMap) CopyInto(dst *StringMap) {
	sm.Each(func(idx uint32, v Value) {
		dst.m.Put(idx, v)
	})
}
