package sqlkit

import (
	"fmt"
	"sync"
)

// Factory constructs a Toolkit implementation.
type Factory func() (Toolkit, error)

var (
	mu       sync.Mutex
	factory  Factory
	instance Toolkit
)

// Register installs the toolkit factory. Exactly one implementation is
// active per process; registering replaces the factory and discards
// any previously built instance. Tests register fakes here and call
// Reset in teardown.
func Register(f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factory = f
	instance = nil
}

// Get returns the process-wide toolkit, constructing it lazily from
// the registered factory.
func Get() (Toolkit, error) {
	mu.Lock()
	defer mu.Unlock()
	if instance != nil {
		return instance, nil
	}
	if factory == nil {
		return nil, fmt.Errorf("no sqlkit implementation registered")
	}
	built, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to construct sqlkit implementation: %w", err)
	}
	instance = built
	return instance, nil
}

// Reset clears the registered factory and instance.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	factory = nil
	instance = nil
}
