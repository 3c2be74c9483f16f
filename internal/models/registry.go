// Package models holds the registry of named built-in probabilistic programs.
package models

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"tracemh/internal/marginal"
	"tracemh/internal/modelid"
	"tracemh/internal/ppl"
)

var (
	ErrModelExists   = errors.New("model already registered")
	ErrModelNotFound = errors.New("model not found")
	ErrInvalidModel  = errors.New("invalid model")
)

// Model is a registered program together with what is known about its
// posterior over return values.
type Model struct {
	Name        string
	Description string
	Program     ppl.Program
	// Exact is the closed-form posterior, nil when none is known.
	Exact []marginal.Outcome
	// Mean is the posterior mean of each numeric component, nil when unknown.
	Mean []float64
	// Tolerance is the total variation distance a healthy chain of
	// DefaultIterations stays under.
	Tolerance         float64
	DefaultIterations int
	DefaultBurnIn     int
}

// HasExact reports whether the model can be benchmarked against its posterior.
func (m Model) HasExact() bool { return len(m.Exact) > 0 }

var registry = struct {
	mu sync.RWMutex
	m  map[string]Model
}{
	m: make(map[string]Model),
}

// Register adds m under its normalized name.
func Register(m Model) error {
	name := modelid.Normalize(m.Name)
	if name == "" || m.Program == nil {
		return fmt.Errorf("%w: name=%q", ErrInvalidModel, m.Name)
	}
	if m.DefaultIterations <= 0 || m.DefaultBurnIn < 0 || m.DefaultBurnIn >= m.DefaultIterations {
		return fmt.Errorf("%w: %s iterations=%d burn_in=%d", ErrInvalidModel, name, m.DefaultIterations, m.DefaultBurnIn)
	}
	m.Name = name

	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, exists := registry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrModelExists, name)
	}
	registry.m[name] = m
	return nil
}

// Lookup resolves name, or any of its aliases, to a registered model.
func Lookup(name string) (Model, error) {
	normalized := modelid.Normalize(name)
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	m, ok := registry.m[normalized]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return m, nil
}

// List returns every registered model sorted by name.
func List() []Model {
	registry.mu.RLock()
	out := make([]Model, 0, len(registry.m))
	for _, m := range registry.m {
		out = append(out, m)
	}
	registry.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func Names() []string {
	list := List()
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.Name
	}
	return out
}

func mustRegister(m Model) {
	if err := Register(m); err != nil {
		panic(err)
	}
}
