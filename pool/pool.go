// Package pool recycles objects through fixed-capacity stacks that are owned
// by a single goroutine at a time.
//
// Factories are declared once on a shared Registry. Each owner then takes a
// Local from the registry and acquires/releases instances through it without
// any synchronization. A Local must never be used by two goroutines at once.
package pool

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	// ErrNotRegistered is returned when no factory was declared for a type.
	ErrNotRegistered = errors.New("pool: type not registered")

	// ErrDuplicate is returned when a type is registered twice on one Registry.
	ErrDuplicate = errors.New("pool: type already registered")
)

// Recyclable is implemented by objects that can be returned to a pool.
// Reset must clear every field back to the value a freshly constructed
// instance would carry.
type Recyclable interface {
	Reset()
}

type factory struct {
	newFn    func() Recyclable
	capacity int
}

// Registry holds the factories for all poolable types. It is written during
// startup and read by every Local afterwards.
type Registry struct {
	mu        sync.RWMutex
	factories map[reflect.Type]factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[reflect.Type]factory)}
}

// Register declares T as poolable. Each Local keeps at most capacity idle
// instances of T; a capacity of zero disables recycling for T.
func Register[T Recyclable](r *Registry, newFn func() T, capacity int) error {
	if newFn == nil {
		return fmt.Errorf("pool: nil factory for %s", reflect.TypeFor[T]())
	}
	if capacity < 0 {
		capacity = 0
	}
	key := reflect.TypeFor[T]()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.factories[key]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	r.factories[key] = factory{
		newFn:    func() Recyclable { return newFn() },
		capacity: capacity,
	}
	return nil
}

func (r *Registry) lookup(key reflect.Type) (factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[key]
	return f, ok
}

// NewLocal returns a Local bound to r. Stacks are created lazily the first
// time a type is requested.
func (r *Registry) NewLocal() *Local {
	return &Local{
		registry: r,
		stacks:   make(map[reflect.Type]*stack),
	}
}

// Local is a set of per-type idle stacks owned by one goroutine.
type Local struct {
	registry *Registry
	stacks   map[reflect.Type]*stack
}

// stack is a preallocated LIFO of idle instances. items never grows past the
// capacity given at registration time.
type stack struct {
	items []Recyclable
	n     int
	newFn func() Recyclable
}

func (l *Local) stackFor(key reflect.Type) (*stack, error) {
	if s, ok := l.stacks[key]; ok {
		return s, nil
	}
	f, ok := l.registry.lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, key)
	}
	s := &stack{
		items: make([]Recyclable, f.capacity),
		newFn: f.newFn,
	}
	l.stacks[key] = s
	return s, nil
}

// Handle is a typed view of one stack in a Local. Resolving a Handle once
// and keeping it avoids the type lookup on every Get and Put.
type Handle[T Recyclable] struct {
	s *stack
}

// For resolves the Handle for T in l.
func For[T Recyclable](l *Local) (Handle[T], error) {
	s, err := l.stackFor(reflect.TypeFor[T]())
	if err != nil {
		return Handle[T]{}, err
	}
	return Handle[T]{s: s}, nil
}

// Valid reports whether h is bound to a stack.
func (h Handle[T]) Valid() bool {
	return h.s != nil
}

// Get pops an idle instance or builds a new one with the registered factory.
func (h Handle[T]) Get() T {
	s := h.s
	if s.n == 0 {
		return s.newFn().(T)
	}
	s.n--
	v := s.items[s.n]
	s.items[s.n] = nil
	return v.(T)
}

// Put resets v and keeps it for reuse. When the stack is full v is dropped
// and Put reports false. The caller must not retain v after Put.
func (h Handle[T]) Put(v T) bool {
	v.Reset()
	s := h.s
	if s.n == len(s.items) {
		return false
	}
	s.items[s.n] = v
	s.n++
	return true
}

// Len returns the number of idle instances.
func (h Handle[T]) Len() int {
	if h.s == nil {
		return 0
	}
	return h.s.n
}

// Cap returns the maximum number of idle instances.
func (h Handle[T]) Cap() int {
	if h.s == nil {
		return 0
	}
	return len(h.s.items)
}

// Acquire is the one-shot form of For(l).Get().
func Acquire[T Recyclable](l *Local) (T, error) {
	h, err := For[T](l)
	if err != nil {
		var zero T
		return zero, err
	}
	return h.Get(), nil
}

// Release is the one-shot form of For(l).Put(v).
func Release[T Recyclable](l *Local, v T) (bool, error) {
	h, err := For[T](l)
	if err != nil {
		return false, err
	}
	return h.Put(v), nil
}
