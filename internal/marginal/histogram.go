// Package marginal aggregates the return values of an inference run into an
// empirical distribution.
//
// Two return values count as the same outcome when they are structurally
// equal: same dynamic types, equal scalars (NaN equals NaN), element-wise equal
// slices and arrays, key-wise equal maps regardless of iteration order, and
// field-wise equal structs including unexported fields. Pointers compare by
// the values they point to. Values containing funcs or channels cannot be
// aggregated.
package marginal

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/mitchellh/hashstructure/v2"
)

var (
	ErrUnhashable = errors.New("return value cannot be aggregated")
	ErrEmpty      = errors.New("no samples recorded")
)

var equalOptions = cmp.Options{
	cmpopts.EquateNaNs(),
	cmp.Exporter(func(reflect.Type) bool { return true }),
}

// Equal reports whether a and b are the same outcome.
func Equal(a, b any) bool {
	return cmp.Equal(a, b, equalOptions)
}

// Hash returns a structural hash consistent with Equal: values Equal reports
// as the same outcome hash identically.
func Hash(v any) (uint64, error) {
	c, err := canonical(reflect.ValueOf(v))
	if err != nil {
		return 0, err
	}
	h, err := hashstructure.Hash(c, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnhashable, err)
	}
	return h, nil
}

// canonical rewrites v into plain hashable data. Floats are normalized so
// that -0 hashes as 0 and every NaN hashes alike. Unexported struct fields are
// included because Equal compares them. Map entries are hashed individually
// and sorted so iteration order does not matter.
func canonical(v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if v.Type() == timeType && v.CanInterface() {
		ts := v.Interface().(time.Time)
		return [2]int64{ts.Unix(), int64(ts.Nanosecond())}, nil
	}
	if hasEqualMethod(v.Type()) {
		// Equal defers to the method, so only the type is stable.
		return v.Type().String(), nil
	}
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return canonicalFloat(v.Float()), nil
	case reflect.Complex64, reflect.Complex128:
		c := v.Complex()
		return [2]float64{canonicalFloat(real(c)), canonicalFloat(imag(c))}, nil
	case reflect.String:
		return v.String(), nil
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return canonical(v.Elem())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return []any{v.Type().String()}, nil
		}
		out := make([]any, 0, v.Len()+1)
		out = append(out, v.Type().String())
		for i := range v.Len() {
			e, err := canonical(v.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case reflect.Struct:
		out := make([]any, 0, v.NumField()+1)
		out = append(out, v.Type().String())
		for i := range v.NumField() {
			f, err := canonical(v.Field(i))
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
		return out, nil
	case reflect.Map:
		entries := make([]uint64, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k, err := canonical(iter.Key())
			if err != nil {
				return nil, err
			}
			e, err := canonical(iter.Value())
			if err != nil {
				return nil, err
			}
			h, err := hashstructure.Hash([]any{k, e}, hashstructure.FormatV2, nil)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnhashable, err)
			}
			entries = append(entries, h)
		}
		slices.Sort(entries)
		return []any{v.Type().String(), entries}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnhashable, v.Type())
}

var timeType = reflect.TypeFor[time.Time]()

func hasEqualMethod(t reflect.Type) bool {
	m, ok := t.MethodByName("Equal")
	if !ok {
		return false
	}
	ft := m.Type
	return ft.NumIn() == 2 && ft.NumOut() == 1 && ft.Out(0).Kind() == reflect.Bool
}

func canonicalFloat(f float64) float64 {
	switch {
	case math.IsNaN(f):
		return math.NaN()
	case f == 0:
		return 0
	}
	return f
}

type bucketIndex map[uint64][]int

func (b bucketIndex) find(outcomes []Outcome, hash uint64, v any) (int, bool) {
	for _, i := range b[hash] {
		if Equal(outcomes[i].Value, v) {
			return i, true
		}
	}
	return 0, false
}

// Histogram counts outcomes in first-seen order.
type Histogram struct {
	buckets  bucketIndex
	outcomes []Outcome
	total    int
}

func NewHistogram() *Histogram {
	return &Histogram{buckets: make(bucketIndex)}
}

// Add records one occurrence of v.
func (h *Histogram) Add(v any) error {
	hash, err := Hash(v)
	if err != nil {
		return err
	}
	h.total++
	if i, ok := h.buckets.find(h.outcomes, hash, v); ok {
		h.outcomes[i].Count++
		return nil
	}
	h.buckets[hash] = append(h.buckets[hash], len(h.outcomes))
	h.outcomes = append(h.outcomes, Outcome{Value: v, Count: 1})
	return nil
}

// Total returns the number of recorded occurrences.
func (h *Histogram) Total() int { return h.total }

// Len returns the number of distinct outcomes.
func (h *Histogram) Len() int { return len(h.outcomes) }

// Count returns how often v was recorded.
func (h *Histogram) Count(v any) int {
	hash, err := Hash(v)
	if err != nil {
		return 0
	}
	if i, ok := h.buckets.find(h.outcomes, hash, v); ok {
		return h.outcomes[i].Count
	}
	return 0
}

// Dist normalizes the counts into a distribution.
func (h *Histogram) Dist() (*Dist, error) {
	if h.total == 0 {
		return nil, ErrEmpty
	}
	outcomes := make([]Outcome, len(h.outcomes))
	copy(outcomes, h.outcomes)
	buckets := make(bucketIndex, len(h.buckets))
	for hash, idx := range h.buckets {
		buckets[hash] = append([]int(nil), idx...)
	}
	for i := range outcomes {
		outcomes[i].Probability = float64(outcomes[i].Count) / float64(h.total)
	}
	return &Dist{outcomes: outcomes, buckets: buckets, total: h.total}, nil
}
