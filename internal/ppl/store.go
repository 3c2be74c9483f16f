package ppl

import "maps"

// Store is the program state threaded through continuations. It has value
// semantics: updates go through With, and snapshots taken with Clone never
// share a map with the original. Stored values are expected to be immutable.
type Store map[string]Value

// Clone returns an independent copy of the store.
func (s Store) Clone() Store {
	out := make(Store, len(s))
	maps.Copy(out, s)
	return out
}

// Get returns the value bound to key.
func (s Store) Get(key string) (Value, bool) {
	v, ok := s[key]
	return v, ok
}

// With returns a copy of the store with key bound to v.
func (s Store) With(key string, v Value) Store {
	out := s.Clone()
	out[key] = v
	return out
}
