package step

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicateStep is returned when a type name is registered twice.
var ErrDuplicateStep = errors.New("step: type already registered")

// UnknownStepError is returned when decoding a type name nobody registered.
type UnknownStepError struct {
	TypeName string
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("step: unknown step type %q", e.TypeName)
}

// Factory returns a fresh, empty body.
type Factory func() Body

// Registry maps type names to factories. Build one at process start-up,
// register custom kinds, then pass it to whatever decodes step trees.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in step types.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.factories[MultiTypeName] = func() Body { return &Multi{} }
	r.factories[SolveTypeName] = func() Body { return &Solve{} }
	r.factories[PredictTypeName] = func() Body { return &Predict{} }
	r.factories[CorrectTypeName] = func() Body { return &Correct{} }
	r.factories[SubtractTypeName] = func() Body { return &Subtract{} }
	return r
}

// Register adds a factory for typeName.
func (r *Registry) Register(typeName string, f Factory) error {
	if typeName == "" || f == nil {
		return fmt.Errorf("step: invalid registration for %q", typeName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[typeName]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateStep, typeName)
	}
	r.factories[typeName] = f
	return nil
}

// Create returns a new body of the named type.
func (r *Registry) Create(typeName string) (Body, error) {
	r.mu.RLock()
	f, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownStepError{TypeName: typeName}
	}
	b := f()
	if b.TypeName() != typeName {
		return nil, fmt.Errorf("step: factory for %q built a %q", typeName, b.TypeName())
	}
	return b, nil
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
