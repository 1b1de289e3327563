package bootstrap

import "errors"

var (
	// ErrEmptyName is returned when a service is registered without a name.
	ErrEmptyName = errors.New("service name cannot be empty")

	// ErrNilService is returned when a nil service, factory or instance is registered.
	ErrNilService = errors.New("service cannot be nil")

	// ErrDuplicateService is returned when a name is registered twice.
	ErrDuplicateService = errors.New("service already registered")

	// ErrServiceNotFound is returned when resolving an unknown name.
	ErrServiceNotFound = errors.New("service not registered")

	// ErrServiceType is returned when a resolved instance has the wrong type.
	ErrServiceType = errors.New("service has unexpected type")

	// ErrUnknownDependency is returned when a dependency was never registered.
	ErrUnknownDependency = errors.New("dependency not registered")

	// ErrCircularDependency is returned when dependencies form a cycle.
	ErrCircularDependency = errors.New("circular dependency detected")

	// ErrAlreadyStarted is returned when the lifecycle is started twice or
	// modified while running.
	ErrAlreadyStarted = errors.New("lifecycle manager already started")

	// ErrAlreadyStopping is returned when Stop is called during a stop.
	ErrAlreadyStopping = errors.New("lifecycle manager already stopping")

	// ErrAlreadyRunning is returned by Run and Configure on a running application.
	ErrAlreadyRunning = errors.New("application is already running")

	// ErrAlreadyConfigured is returned when Configure is called twice.
	ErrAlreadyConfigured = errors.New("application is already configured")

	// ErrNotConfigured is returned by Run before Configure.
	ErrNotConfigured = errors.New("application is not configured")
)
