package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Default per-operation timeouts.
const (
	DefaultServiceTimeout = 30 * time.Second
	DefaultHealthTimeout  = 5 * time.Second
)

// DefaultLifecycleManager starts services in dependency order and stops them
// in reverse.
type DefaultLifecycleManager struct {
	services     map[string]Service
	dependencies map[string][]string

	// Services that started, in start order.
	startOrder []string

	logger *zap.Logger

	mutex    sync.RWMutex
	started  bool
	stopping bool

	eventChan chan LifecycleEvent
	listeners []func(LifecycleEvent)

	timeout time.Duration
}

// LifecycleOption configures a DefaultLifecycleManager.
type LifecycleOption func(*DefaultLifecycleManager)

// WithLifecycleLogger sets the logger lifecycle events are written to.
func WithLifecycleLogger(logger *zap.Logger) LifecycleOption {
	return func(lm *DefaultLifecycleManager) {
		lm.logger = logger
	}
}

// WithServiceTimeout bounds each service Start and Stop.
func WithServiceTimeout(timeout time.Duration) LifecycleOption {
	return func(lm *DefaultLifecycleManager) {
		lm.timeout = timeout
	}
}

// NewLifecycleManager creates a lifecycle manager.
func NewLifecycleManager(opts ...LifecycleOption) *DefaultLifecycleManager {
	lm := &DefaultLifecycleManager{
		services:     make(map[string]Service),
		dependencies: make(map[string][]string),
		logger:       zap.NewNop(),
		eventChan:    make(chan LifecycleEvent, 100),
		timeout:      DefaultServiceTimeout,
	}
	for _, opt := range opts {
		opt(lm)
	}
	lm.logger = lm.logger.Named("lifecycle")
	return lm
}

// SetLogger replaces the logger lifecycle events are written to.
func (lm *DefaultLifecycleManager) SetLogger(logger *zap.Logger) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	lm.logger = logger.Named("lifecycle")
}

// Register adds a service that starts after every service in deps.
func (lm *DefaultLifecycleManager) Register(name string, service Service, deps ...string) error {
	if name == "" {
		return ErrEmptyName
	}
	if service == nil {
		return fmt.Errorf("service %s: %w", name, ErrNilService)
	}

	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return fmt.Errorf("register %s: %w", name, ErrAlreadyStarted)
	}
	if _, exists := lm.services[name]; exists {
		return fmt.Errorf("%s: %w", name, ErrDuplicateService)
	}

	lm.services[name] = service
	lm.dependencies[name] = append([]string(nil), deps...)

	lm.broadcastEvent(LifecycleEvent{
		Type:    EventServiceRegistered,
		Service: name,
		Data:    map[string]interface{}{"dependencies": deps},
	})
	return nil
}

// Start starts every service in dependency order. If one fails, the
// services already started are stopped again before Start returns.
func (lm *DefaultLifecycleManager) Start(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return ErrAlreadyStarted
	}

	order, err := lm.calculateStartOrder()
	if err != nil {
		return fmt.Errorf("failed to calculate start order: %w", err)
	}

	lm.broadcastEvent(LifecycleEvent{
		Type: EventLifecycleStarting,
		Data: map[string]interface{}{"order": order},
	})

	for _, name := range order {
		lm.broadcastEvent(LifecycleEvent{Type: EventServiceStarting, Service: name})

		startCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := lm.services[name].Start(startCtx)
		cancel()

		if err != nil {
			lm.broadcastEvent(LifecycleEvent{Type: EventServiceStartFailed, Service: name, Error: err})
			startErr := &ApplicationError{Operation: "start", Service: name, Err: err}
			if stopErr := lm.stopStarted(ctx); stopErr != nil {
				return errors.Join(startErr, stopErr)
			}
			return startErr
		}

		lm.startOrder = append(lm.startOrder, name)
		lm.broadcastEvent(LifecycleEvent{Type: EventServiceStarted, Service: name})
	}

	lm.started = true
	lm.broadcastEvent(LifecycleEvent{Type: EventLifecycleStarted})
	return nil
}

// Stop stops the started services in reverse start order. Every service is
// asked to stop even when an earlier one fails; the failures are joined.
func (lm *DefaultLifecycleManager) Stop(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if !lm.started {
		return nil
	}
	if lm.stopping {
		return ErrAlreadyStopping
	}
	lm.stopping = true

	lm.broadcastEvent(LifecycleEvent{Type: EventLifecycleStopping})
	err := lm.stopStarted(ctx)

	lm.started = false
	lm.stopping = false
	lm.broadcastEvent(LifecycleEvent{Type: EventLifecycleStopped})
	return err
}

// stopStarted stops startOrder back to front. Called with mutex held.
func (lm *DefaultLifecycleManager) stopStarted(ctx context.Context) error {
	var errs []error
	for i := len(lm.startOrder) - 1; i >= 0; i-- {
		name := lm.startOrder[i]
		lm.broadcastEvent(LifecycleEvent{Type: EventServiceStopping, Service: name})

		stopCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := lm.services[name].Stop(stopCtx)
		cancel()

		if err != nil {
			errs = append(errs, &ApplicationError{Operation: "stop", Service: name, Err: err})
			lm.broadcastEvent(LifecycleEvent{Type: EventServiceStopFailed, Service: name, Error: err})
			continue
		}
		lm.broadcastEvent(LifecycleEvent{Type: EventServiceStopped, Service: name})
	}
	lm.startOrder = nil
	return errors.Join(errs...)
}

// Health checks every service concurrently. A failing check is reported as
// unhealthy rather than returned.
func (lm *DefaultLifecycleManager) Health(ctx context.Context) (map[string]HealthStatus, error) {
	lm.mutex.RLock()
	services := make(map[string]Service, len(lm.services))
	for name, s := range lm.services {
		services[name] = s
	}
	lm.mutex.RUnlock()

	var (
		mu     sync.Mutex
		health = make(map[string]HealthStatus, len(services))
		g      errgroup.Group
	)
	for name, service := range services {
		g.Go(func() error {
			healthCtx, cancel := context.WithTimeout(ctx, DefaultHealthTimeout)
			defer cancel()

			status, err := service.Health(healthCtx)
			if err != nil {
				status = HealthStatus{State: HealthUnhealthy, Message: err.Error()}
			}
			if status.LastCheck.IsZero() {
				status.LastCheck = time.Now()
			}

			mu.Lock()
			health[name] = status
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return health, nil
}

// Services returns the registered service names, sorted.
func (lm *DefaultLifecycleManager) Services() []string {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	names := make([]string, 0, len(lm.services))
	for name := range lm.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Events returns a buffered channel of lifecycle events. Events are dropped
// when nobody drains it.
func (lm *DefaultLifecycleManager) Events() <-chan LifecycleEvent {
	return lm.eventChan
}

// AddListener adds a callback run synchronously for every event.
func (lm *DefaultLifecycleManager) AddListener(listener func(LifecycleEvent)) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.listeners = append(lm.listeners, listener)
}

// IsStarted reports whether Start succeeded and Stop has not run since.
func (lm *DefaultLifecycleManager) IsStarted() bool {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()
	return lm.started
}

// GetService returns a registered service by name.
func (lm *DefaultLifecycleManager) GetService(name string) (Service, bool) {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	service, exists := lm.services[name]
	return service, exists
}

// calculateStartOrder sorts services topologically with Kahn's algorithm.
// Ties are broken by name so the order is stable.
func (lm *DefaultLifecycleManager) calculateStartOrder() ([]string, error) {
	inDegree := make(map[string]int, len(lm.services))
	dependents := make(map[string][]string, len(lm.services))

	for name := range lm.services {
		inDegree[name] = 0
	}
	for name, deps := range lm.dependencies {
		for _, dep := range deps {
			if _, exists := lm.services[dep]; !exists {
				return nil, fmt.Errorf("%s of service %s: %w", dep, name, ErrUnknownDependency)
			}
			dependents[dep] = append(dependents[dep], name)
			inDegree[name]++
		}
	}

	var ready []string
	for name, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(lm.services))
	for len(ready) > 0 {
		sort.Strings(ready)
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		for _, dependent := range dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(lm.services) {
		return nil, ErrCircularDependency
	}
	return order, nil
}

// broadcastEvent logs the event and hands it to the channel and the
// listeners. Called with mutex held.
func (lm *DefaultLifecycleManager) broadcastEvent(event LifecycleEvent) {
	event.Timestamp = time.Now()

	fields := []zap.Field{zap.String("event", event.Type)}
	if event.Service != "" {
		fields = append(fields, zap.String("service", event.Service))
	}
	if event.Error != nil {
		lm.logger.Warn("lifecycle event", append(fields, zap.Error(event.Error))...)
	} else {
		lm.logger.Debug("lifecycle event", fields...)
	}

	select {
	case lm.eventChan <- event:
	default:
	}

	for _, listener := range lm.listeners {
		lm.notify(listener, event)
	}
}

func (lm *DefaultLifecycleManager) notify(listener func(LifecycleEvent), event LifecycleEvent) {
	defer func() {
		if r := recover(); r != nil {
			lm.logger.Error("lifecycle listener panicked",
				zap.String("event", event.Type),
				zap.Any("panic", r))
		}
	}()
	listener(event)
}
