package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/najoast/zkernel/config"
	"github.com/najoast/zkernel/core"
	"github.com/najoast/zkernel/logging"
	"github.com/najoast/zkernel/monitor"
)

// DefaultShutdownTimeout bounds Shutdown when the caller's context has no
// deadline.
const DefaultShutdownTimeout = 30 * time.Second

// DefaultApplication builds config -> logger -> kernel -> monitor and runs
// them under a lifecycle manager.
type DefaultApplication struct {
	cfg *config.Config

	// Set when the configuration came from a file; enables hot reload.
	configFile string
	loader     *config.Loader

	kernelOpts []core.Option

	container Container
	lifecycle *DefaultLifecycleManager

	logger  *logging.Logger
	kernel  *core.Context
	metrics *monitor.Metrics
	monitor *monitor.Server
	watcher *config.Watcher

	mutex      sync.RWMutex
	configured bool
	running    bool
	stopped    chan struct{}
}

// NewApplication creates an unconfigured application.
func NewApplication() *DefaultApplication {
	return &DefaultApplication{
		loader:    config.NewLoader(),
		container: NewContainer(),
		lifecycle: NewLifecycleManager(),
		logger:    logging.NewNop(),
	}
}

// Configure builds the kernel and registers its services from cfg. A nil
// cfg means the defaults.
func (app *DefaultApplication) Configure(cfg *config.Config) error {
	app.mutex.Lock()
	defer app.mutex.Unlock()

	if app.running {
		return ErrAlreadyRunning
	}
	if app.configured {
		return ErrAlreadyConfigured
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return &ApplicationError{Operation: "configure", Err: err}
	}

	if err := app.build(cfg); err != nil {
		return &ApplicationError{Operation: "configure", Err: err}
	}
	app.configured = true
	return nil
}

// ConfigureFromFile loads the configuration from path and configures the
// application with it. The file is then watched and socket defaults and the
// log level follow its changes.
func (app *DefaultApplication) ConfigureFromFile(path string) error {
	cfg, err := app.loader.LoadFromFile(path)
	if err != nil {
		return &ApplicationError{Operation: "configure", Err: err}
	}

	app.mutex.Lock()
	app.configFile = path
	app.mutex.Unlock()

	return app.Configure(cfg)
}

// build creates every component. Called with mutex held.
func (app *DefaultApplication) build(cfg *config.Config) error {
	logger, err := logging.New(LoggerConfig(cfg))
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	logger.Logger = logger.With(zap.String("app", cfg.App.Name))

	metrics := monitor.NewMetrics(cfg.App.Name)

	opts := []core.Option{
		core.WithIOThreads(cfg.Kernel.IOThreads),
		core.WithMaxSockets(cfg.Kernel.MaxSockets),
		core.WithLogger(logger.Logger),
		core.WithMetrics(metrics),
		core.WithSocketDefaults(SocketOptions(cfg.Socket)),
	}
	kernel := core.NewContext(append(opts, app.kernelOpts...)...)

	app.cfg = cfg
	app.logger = logger
	app.metrics = metrics
	app.kernel = kernel
	app.lifecycle.SetLogger(logger.Logger)

	instances := map[string]interface{}{
		InstanceConfig:  cfg,
		InstanceLogger:  logger,
		InstanceKernel:  kernel,
		InstanceMetrics: metrics,
	}

	if err := app.lifecycle.Register(ServiceKernel, NewKernelService(kernel, logger.Logger)); err != nil {
		return err
	}

	if cfg.Monitor.Enabled {
		app.monitor = monitor.NewServer(monitor.ServerConfig{
			Addr:        cfg.MonitorAddr(),
			MetricsPath: cfg.Monitor.MetricsPath,
			HealthPath:  cfg.Monitor.HealthPath,
			Development: cfg.IsDevelopment(),
		}, metrics, kernel, logger.Logger)
		instances[InstanceMonitor] = app.monitor

		if err := app.lifecycle.Register(ServiceMonitor, NewMonitorService(app.monitor), ServiceKernel); err != nil {
			return err
		}
	}

	if app.configFile != "" {
		watcher, err := config.NewWatcher(app.configFile, app.loader,
			config.WithWatcherLogger(logger.Logger))
		if err != nil {
			return err
		}
		app.watcher = watcher
		instances[InstanceWatcher] = watcher

		service := NewConfigWatcherService(watcher, kernel, logger)
		if err := app.lifecycle.Register(ServiceConfigWatcher, service, ServiceKernel); err != nil {
			return err
		}
	}

	for name, instance := range instances {
		if err := app.container.RegisterInstance(name, instance); err != nil {
			return err
		}
	}

	logger.Info("application configured",
		zap.String("version", cfg.App.Version),
		zap.Stringer("environment", cfg.App.Environment),
		zap.Strings("services", app.lifecycle.Services()))
	return nil
}

// Run starts every service and blocks until ctx is cancelled, the process
// receives SIGINT or SIGTERM, or Shutdown is called.
func (app *DefaultApplication) Run(ctx context.Context) error {
	app.mutex.Lock()
	if !app.configured {
		app.mutex.Unlock()
		return ErrNotConfigured
	}
	if app.running {
		app.mutex.Unlock()
		return ErrAlreadyRunning
	}
	app.running = true
	stopped := make(chan struct{})
	app.stopped = stopped
	logger := app.logger
	app.mutex.Unlock()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.lifecycle.Start(ctx); err != nil {
		app.mutex.Lock()
		app.running = false
		app.mutex.Unlock()
		return fmt.Errorf("failed to start services: %w", err)
	}
	logger.Info("application running")

	select {
	case <-ctx.Done():
		logger.Info("starting graceful shutdown", zap.NamedError("cause", context.Cause(ctx)))
		return app.Shutdown(context.Background())
	case <-stopped:
		return nil
	}
}

// Shutdown stops every service in reverse dependency order. The kernel is
// stopped last and waits for all sockets to be closed.
func (app *DefaultApplication) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	if !app.running {
		app.mutex.Unlock()
		return nil
	}
	app.running = false
	stopped := app.stopped
	logger := app.logger
	app.mutex.Unlock()

	defer close(stopped)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultShutdownTimeout)
		defer cancel()
	}

	err := app.lifecycle.Stop(ctx)
	if err != nil {
		logger.Error("shutdown finished with errors", zap.Error(err))
	} else {
		logger.Info("application stopped")
	}

	// Syncing stdout fails on some platforms; that is not a shutdown error.
	if syncErr := logger.Sync(); syncErr != nil && !errors.Is(syncErr, syscall.EINVAL) {
		logger.Debug("logger sync failed", zap.Error(syncErr))
	}

	if err != nil {
		return fmt.Errorf("failed to stop services: %w", err)
	}
	return nil
}

// Container returns the dependency injection container.
func (app *DefaultApplication) Container() Container {
	return app.container
}

// LifecycleManager returns the lifecycle manager.
func (app *DefaultApplication) LifecycleManager() LifecycleManager {
	return app.lifecycle
}

// Kernel returns the kernel context, nil before Configure.
func (app *DefaultApplication) Kernel() *core.Context {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.kernel
}

// Logger returns the application logger.
func (app *DefaultApplication) Logger() *logging.Logger {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.logger
}

// Config returns the configuration the application was built from.
func (app *DefaultApplication) Config() *config.Config {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.cfg
}

// Monitor returns the monitor server, nil when monitoring is disabled.
func (app *DefaultApplication) Monitor() *monitor.Server {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.monitor
}

// ApplicationBuilder collects settings and builds a configured application.
type ApplicationBuilder struct {
	app        *DefaultApplication
	config     *config.Config
	configFile string
	errs       []error
}

// NewApplicationBuilder creates a new application builder.
func NewApplicationBuilder() *ApplicationBuilder {
	return &ApplicationBuilder{app: NewApplication()}
}

// WithConfig sets the configuration.
func (b *ApplicationBuilder) WithConfig(cfg *config.Config) *ApplicationBuilder {
	b.config = cfg
	return b
}

// WithConfigFile loads the configuration from a file and watches it.
func (b *ApplicationBuilder) WithConfigFile(filename string) *ApplicationBuilder {
	b.configFile = filename
	return b
}

// WithEnvPrefix sets the prefix of environment overrides.
func (b *ApplicationBuilder) WithEnvPrefix(prefix string) *ApplicationBuilder {
	b.app.loader.SetEnvPrefix(prefix)
	return b
}

// WithKernelOption passes an extra option to the kernel context, for
// example a custom socket pattern.
func (b *ApplicationBuilder) WithKernelOption(opt core.Option) *ApplicationBuilder {
	b.app.kernelOpts = append(b.app.kernelOpts, opt)
	return b
}

// WithService registers a service.
func (b *ApplicationBuilder) WithService(name string, service Service, deps ...string) *ApplicationBuilder {
	if err := b.app.lifecycle.Register(name, service, deps...); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// WithServiceFactory registers a service factory.
func (b *ApplicationBuilder) WithServiceFactory(name string, factory ServiceFactory) *ApplicationBuilder {
	if err := b.app.container.Register(name, factory); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Build configures the application.
func (b *ApplicationBuilder) Build() (*DefaultApplication, error) {
	if err := errors.Join(b.errs...); err != nil {
		return nil, fmt.Errorf("failed to build application: %w", err)
	}

	var err error
	if b.configFile != "" {
		err = b.app.ConfigureFromFile(b.configFile)
	} else {
		err = b.app.Configure(b.config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to configure application: %w", err)
	}
	return b.app, nil
}
