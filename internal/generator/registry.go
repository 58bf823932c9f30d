package generator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownKind is returned when no generator is registered for a kind.
var ErrUnknownKind = errors.New("unknown job kind")

// Registry holds registered generators and resolves which one runs a job.
type Registry struct {
	mu          sync.RWMutex
	generators  map[string]Generator
	defaultKind string
}

// NewRegistry creates an empty registry. Resolve("") returns the generator
// registered under defaultKind.
func NewRegistry(defaultKind string) *Registry {
	return &Registry{
		generators:  make(map[string]Generator),
		defaultKind: defaultKind,
	}
}

// NewDefaultRegistry returns a registry holding the built-in generators,
// with radial as the default kind.
func NewDefaultRegistry() *Registry {
	r := NewRegistry(KindRadial)
	r.Register(Radial{})
	r.Register(Digest{})
	return r
}

// Register adds a generator under its profile name, replacing any previous one.
func (r *Registry) Register(g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[g.Profile().Name] = g
}

// DefaultKind returns the kind used when a submission names none.
func (r *Registry) DefaultKind() string {
	return r.defaultKind
}

// Resolve returns the generator for kind, or the default when kind is empty.
func (r *Registry) Resolve(kind string) (Generator, error) {
	if kind == "" {
		kind = r.defaultKind
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.generators[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return g, nil
}

// List returns the profiles of all registered generators, sorted by name
// for a stable API response.
func (r *Registry) List() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profiles := make([]Profile, 0, len(r.generators))
	for _, g := range r.generators {
		p := g.Profile()
		p.StepDelayMS = p.StepDelay.Milliseconds()
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].Name < profiles[j].Name
	})
	return profiles
}
