package registry

import (
	"fmt"
	"sync"

	"github.com/kart-io/logger"
)

// TreeCallback is invoked with a deep copy of the complete current tree
// whenever the configuration is reloaded.
type TreeCallback func(tree map[string]any)

// Handle is the opaque reference returned when adding a zero-argument
// callback. Holding the handle is the only way to remove the callback;
// handles are never reused.
type Handle struct {
	id uint64
}

// CallbackRegistry holds whole-tree change callbacks in two flavors:
// named callbacks receiving the full tree, and anonymous zero-argument
// functions removable only via their Handle.
type CallbackRegistry struct {
	mu     sync.RWMutex
	named  map[string]TreeCallback
	nextID uint64
	anon   map[uint64]func()
}

// NewCallbackRegistry creates an empty registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{
		named: make(map[string]TreeCallback),
		anon:  make(map[uint64]func()),
	}
}

// Register stores a named whole-tree callback. Registering an existing
// name replaces the previous callback.
func (r *CallbackRegistry) Register(name string, fn TreeCallback) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[name] = fn
	logger.Debugw("Change callback registered", "name", name)
}

// Unregister removes a named callback. Returns false if the name was
// not registered.
func (r *CallbackRegistry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.named[name]; !ok {
		return false
	}
	delete(r.named, name)
	logger.Debugw("Change callback unregistered", "name", name)
	return true
}

// Add stores an anonymous zero-argument callback and returns the handle
// that removes it.
func (r *CallbackRegistry) Add(fn func()) *Handle {
	if fn == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.anon[r.nextID] = fn
	return &Handle{id: r.nextID}
}

// Remove drops the callback behind handle. Returns false if the handle
// is nil or its callback is already gone.
func (r *CallbackRegistry) Remove(h *Handle) bool {
	if h == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.anon[h.id]; !ok {
		return false
	}
	delete(r.anon, h.id)
	return true
}

// Fire invokes every registered callback. Named callbacks receive the
// tree; zero-argument callbacks receive nothing. A panicking callback
// is recovered and logged, and the remaining callbacks still run.
func (r *CallbackRegistry) Fire(tree map[string]any) {
	r.mu.RLock()
	named := make(map[string]TreeCallback, len(r.named))
	for name, fn := range r.named {
		named[name] = fn
	}
	anon := make(map[uint64]func(), len(r.anon))
	for id, fn := range r.anon {
		anon[id] = fn
	}
	r.mu.RUnlock()

	for name, fn := range named {
		invoke(name, func() { fn(tree) })
	}
	for id, fn := range anon {
		invoke(fmt.Sprintf("anonymous-%d", id), fn)
	}
}

// invoke runs one callback with panic isolation.
func invoke(identity string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("Change callback panicked",
				"callback", identity, "panic", r)
		}
	}()
	fn()
}

// Len returns the number of registered callbacks of both flavors.
func (r *CallbackRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.named) + len(r.anon)
}
