package task

import (
	"fmt"
	"sort"
)

// Resolver resolves task keys to specs. String lookup happens only at the
// procedure/PPR parsing boundary; everything past it holds a Spec.
type Resolver interface {
	Get(key string) (Spec, bool)
	List() []Spec
}

// MapResolver is a Resolver backed by a map.
type MapResolver struct {
	specs map[string]Spec
}

// NewResolver builds a resolver from explicit specs. Duplicate keys panic:
// the registry is assembled once at startup from compile-time constructors,
// so a collision is a programming error, not input.
func NewResolver(specs ...Spec) MapResolver {
	m := make(map[string]Spec, len(specs))
	for _, s := range specs {
		if s.Key == "" {
			panic("task: spec without key")
		}
		if _, dup := m[s.Key]; dup {
			panic(fmt.Sprintf("task: duplicate spec key %q", s.Key))
		}
		m[s.Key] = s
	}
	return MapResolver{specs: m}
}

func (r MapResolver) Get(key string) (Spec, bool) {
	s, ok := r.specs[key]
	return s, ok
}

func (r MapResolver) List() []Spec {
	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// DefaultRegistry assembles every built-in task.
func DefaultRegistry() Resolver {
	return NewResolver(
		importdataSpec(),
		flagDeterministicSpec(),
		tsyscalSpec(),
		bandpassSpec(),
		gaincalSpec(),
		fluxscaleSpec(),
		applycalSpec(),
		makeimagesSpec(),
		selfcalSpec(),
		exportProductsSpec(),
	)
}
