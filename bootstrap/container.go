package bootstrap

import (
	"fmt"
	"sort"
	"sync"
)

// Well-known container names registered by the application.
const (
	InstanceConfig  = "config"
	InstanceLogger  = "logger"
	InstanceKernel  = "kernel"
	InstanceMetrics = "metrics"
	InstanceMonitor = "monitor"
	InstanceWatcher = "config-watcher"
)

// DefaultContainer is a name-keyed registry of singletons. Factories run
// once, on first Resolve.
type DefaultContainer struct {
	services  map[string]ServiceFactory
	instances map[string]interface{}

	// Names being built, to catch factories resolving themselves.
	resolving map[string]bool

	mutex sync.Mutex
}

// NewContainer creates an empty container.
func NewContainer() Container {
	return &DefaultContainer{
		services:  make(map[string]ServiceFactory),
		instances: make(map[string]interface{}),
		resolving: make(map[string]bool),
	}
}

// Register registers a lazily built service.
func (c *DefaultContainer) Register(name string, factory ServiceFactory) error {
	if name == "" {
		return ErrEmptyName
	}
	if factory == nil {
		return fmt.Errorf("factory %s: %w", name, ErrNilService)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.has(name) {
		return fmt.Errorf("%s: %w", name, ErrDuplicateService)
	}
	c.services[name] = factory
	return nil
}

// RegisterInstance registers an already built instance.
func (c *DefaultContainer) RegisterInstance(name string, instance interface{}) error {
	if name == "" {
		return ErrEmptyName
	}
	if instance == nil {
		return fmt.Errorf("instance %s: %w", name, ErrNilService)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.has(name) {
		return fmt.Errorf("%s: %w", name, ErrDuplicateService)
	}
	c.instances[name] = instance
	return nil
}

// Resolve returns the instance registered under name, building it on first
// use. Factories may resolve other names.
func (c *DefaultContainer) Resolve(name string) (interface{}, error) {
	c.mutex.Lock()
	if instance, ok := c.instances[name]; ok {
		c.mutex.Unlock()
		return instance, nil
	}
	factory, ok := c.services[name]
	if !ok {
		c.mutex.Unlock()
		return nil, fmt.Errorf("%s: %w", name, ErrServiceNotFound)
	}
	if c.resolving[name] {
		c.mutex.Unlock()
		return nil, fmt.Errorf("resolve %s: %w", name, ErrCircularDependency)
	}
	c.resolving[name] = true
	c.mutex.Unlock()

	// The factory runs unlocked so it can resolve its own dependencies.
	instance, err := factory(c)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.resolving, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create service %s: %w", name, err)
	}
	c.instances[name] = instance
	return instance, nil
}

// Has checks if a name is registered.
func (c *DefaultContainer) Has(name string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.has(name)
}

func (c *DefaultContainer) has(name string) bool {
	_, hasFactory := c.services[name]
	_, hasInstance := c.instances[name]
	return hasFactory || hasInstance
}

// Names returns every registered name, sorted.
func (c *DefaultContainer) Names() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	names := make([]string, 0, len(c.services)+len(c.instances))
	for name := range c.services {
		names = append(names, name)
	}
	for name := range c.instances {
		if _, ok := c.services[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ResolveAs resolves name and asserts its type.
func ResolveAs[T any](c Container, name string) (T, error) {
	var zero T
	instance, err := c.Resolve(name)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("%s is %T, want %T: %w", name, instance, zero, ErrServiceType)
	}
	return typed, nil
}
