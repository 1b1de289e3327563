package bootstrap

import (
	"context"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/najoast/zkernel/config"
	"github.com/najoast/zkernel/core"
	"github.com/najoast/zkernel/logging"
	"github.com/najoast/zkernel/monitor"
)

// Service names registered by the application.
const (
	ServiceKernel        = "kernel"
	ServiceMonitor       = "monitor"
	ServiceConfigWatcher = "config-watcher"
)

var (
	_ Application      = (*DefaultApplication)(nil)
	_ LifecycleManager = (*DefaultLifecycleManager)(nil)
	_ Service          = (*KernelService)(nil)
	_ Service          = (*MonitorService)(nil)
	_ Service          = (*ConfigWatcherService)(nil)
)

// SocketOptions converts the socket section of the configuration.
func SocketOptions(sc config.SocketConfig) core.SocketOptions {
	return core.SocketOptions{
		SendHWM:     sc.SendHWM,
		RecvHWM:     sc.RecvHWM,
		Linger:      sc.Linger.Std(),
		SendTimeout: sc.SendTimeout.Std(),
		RecvTimeout: sc.RecvTimeout.Std(),
	}
}

// LoggerConfig converts the log section of the configuration.
func LoggerConfig(cfg *config.Config) logging.Config {
	lc := logging.Config{
		Level:       cfg.Log.Level.String(),
		Format:      cfg.Log.Format,
		Development: cfg.IsDevelopment() && cfg.IsDebugEnabled(),
	}
	if cfg.Log.Output != "" {
		lc.OutputPaths = []string{cfg.Log.Output}
	}
	return lc
}

// KernelService manages the lifetime of a kernel Context. The context starts
// its threads lazily; stopping it terminates the kernel, which waits for
// every socket to be closed.
type KernelService struct {
	kernel *core.Context
	logger *zap.Logger
}

// NewKernelService wraps kernel.
func NewKernelService(kernel *core.Context, logger *zap.Logger) *KernelService {
	return &KernelService{kernel: kernel, logger: logger.Named("kernel")}
}

func (s *KernelService) Name() string {
	return ServiceKernel
}

func (s *KernelService) Start(ctx context.Context) error {
	stats := s.kernel.Stats()
	if stats.Terminating || stats.Terminated {
		return core.ErrTerminated
	}
	s.logger.Info("kernel ready",
		zap.String("context_id", stats.ID),
		zap.Int("io_threads", stats.IOThreads),
		zap.Int("max_sockets", stats.MaxSockets))
	return nil
}

func (s *KernelService) Stop(ctx context.Context) error {
	return s.kernel.Terminate(ctx)
}

func (s *KernelService) Health(ctx context.Context) (HealthStatus, error) {
	stats := s.kernel.Stats()
	status := HealthStatus{
		State:     HealthHealthy,
		Message:   "kernel running",
		LastCheck: time.Now(),
		Data: map[string]interface{}{
			"sockets":      stats.Sockets,
			"free_slots":   stats.FreeSlots,
			"endpoints":    stats.Endpoints,
			"worker_loads": stats.WorkerLoads,
		},
	}
	switch {
	case stats.Terminated:
		status.State = HealthStopped
		status.Message = "kernel terminated"
	case stats.Terminating:
		status.State = HealthStopping
		status.Message = "kernel terminating"
	case !stats.Started:
		status.Message = "kernel idle"
	case stats.FreeSlots == 0:
		status.State = HealthCritical
		status.Message = "no free socket slots"
	}
	return status, nil
}

// MonitorService runs the metrics and health HTTP server.
type MonitorService struct {
	server *monitor.Server
}

// NewMonitorService wraps server.
func NewMonitorService(server *monitor.Server) *MonitorService {
	return &MonitorService{server: server}
}

func (s *MonitorService) Name() string {
	return ServiceMonitor
}

func (s *MonitorService) Start(ctx context.Context) error {
	return s.server.Start()
}

func (s *MonitorService) Stop(ctx context.Context) error {
	return s.server.Stop(ctx)
}

func (s *MonitorService) Health(ctx context.Context) (HealthStatus, error) {
	addr := s.server.Addr()
	if addr == "" {
		return HealthStatus{State: HealthStopped, Message: "monitor not listening"}, nil
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "monitor listening",
		Data:    map[string]interface{}{"addr": addr},
	}, nil
}

// ConfigWatcherService reloads the configuration file on change and applies
// the settings that can change at runtime: socket defaults and log level.
// Everything else needs a restart and is only logged.
type ConfigWatcherService struct {
	watcher *config.Watcher
	kernel  *core.Context
	logger  *logging.Logger

	reloads atomic.Int64
}

// NewConfigWatcherService registers the change callback on watcher.
func NewConfigWatcherService(watcher *config.Watcher, kernel *core.Context, logger *logging.Logger) *ConfigWatcherService {
	s := &ConfigWatcherService{
		watcher: watcher,
		kernel:  kernel,
		logger:  logger,
	}
	watcher.OnConfigChange(s.apply)
	return s
}

func (s *ConfigWatcherService) Name() string {
	return ServiceConfigWatcher
}

func (s *ConfigWatcherService) Start(ctx context.Context) error {
	return s.watcher.Start()
}

func (s *ConfigWatcherService) Stop(ctx context.Context) error {
	return s.watcher.Stop()
}

func (s *ConfigWatcherService) Health(ctx context.Context) (HealthStatus, error) {
	return HealthStatus{
		State:   HealthHealthy,
		Message: "watching configuration",
		Data:    map[string]interface{}{"reloads": s.reloads.Load()},
	}, nil
}

func (s *ConfigWatcherService) apply(oldCfg, newCfg *config.Config) {
	s.reloads.Inc()
	log := s.logger.Named("config")

	if oldCfg.Socket != newCfg.Socket {
		if err := s.kernel.SetSocketDefaults(SocketOptions(newCfg.Socket)); err != nil {
			log.Error("rejected socket defaults", zap.Error(err))
		}
	}

	if oldCfg.Log.Level != newCfg.Log.Level {
		if err := s.logger.SetLevel(newCfg.Log.Level.String()); err != nil {
			log.Error("rejected log level", zap.Error(err))
		} else {
			log.Info("log level changed", zap.Stringer("level", newCfg.Log.Level))
		}
	}

	if oldCfg.Kernel != newCfg.Kernel || oldCfg.Monitor != newCfg.Monitor {
		log.Warn("kernel and monitor settings take effect after restart",
			zap.Any("kernel", newCfg.Kernel),
			zap.Any("monitor", newCfg.Monitor))
	}
}
