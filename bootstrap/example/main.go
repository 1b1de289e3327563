// Example running the kernel as a managed application: configuration from a
// file or the defaults, the monitor server, and a heartbeat service that
// exchanges messages over an inproc pair until the process is interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/najoast/zkernel/bootstrap"
	"github.com/najoast/zkernel/config"
	"github.com/najoast/zkernel/core"
)

// heartbeatService pings itself through two pair sockets.
type heartbeatService struct {
	app      *bootstrap.DefaultApplication
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *heartbeatService) Name() string {
	return "heartbeat"
}

func (s *heartbeatService) Start(ctx context.Context) error {
	kernel := s.app.Kernel()
	logger := s.app.Logger().Named("heartbeat")

	ping, err := kernel.CreateSocket(core.TypePair)
	if err != nil {
		return err
	}
	pong, err := kernel.CreateSocket(core.TypePair)
	if err != nil {
		ping.Close()
		return err
	}
	if err := pong.Bind("inproc://heartbeat"); err != nil {
		ping.Close()
		pong.Close()
		return err
	}
	if err := ping.Connect("inproc://heartbeat"); err != nil {
		ping.Close()
		pong.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ping.Close()
		defer pong.Close()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for seq := 1; ; seq++ {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}
			if err := ping.Send(core.NewFrame([]byte(strconv.Itoa(seq))), core.DontWait); err != nil {
				logger.Warn("ping dropped", zap.Int("seq", seq), zap.Error(err))
				continue
			}
			f, err := pong.Recv(0)
			if err != nil {
				logger.Warn("pong failed", zap.Error(err))
				return
			}
			logger.Info("heartbeat", zap.ByteString("seq", f.Data))
		}
	}()
	return nil
}

func (s *heartbeatService) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *heartbeatService) Health(ctx context.Context) (bootstrap.HealthStatus, error) {
	return bootstrap.HealthStatus{State: bootstrap.HealthHealthy, Message: "beating"}, nil
}

func main() {
	configFile := flag.String("config", "", "configuration file (yaml, json or toml)")
	interval := flag.Duration("interval", time.Second, "heartbeat interval")
	flag.Parse()

	builder := bootstrap.NewApplicationBuilder()
	if *configFile != "" {
		builder.WithConfigFile(*configFile)
	} else {
		cfg := config.DefaultConfig()
		cfg.Log.Format = "console"
		cfg.Monitor.Enabled = true
		builder.WithConfig(cfg)
	}

	app, err := builder.Build()
	if err != nil {
		log.Fatalf("build application: %v", err)
	}

	heartbeat := &heartbeatService{app: app, interval: *interval}
	if err := app.LifecycleManager().Register(heartbeat.Name(), heartbeat, bootstrap.ServiceKernel); err != nil {
		log.Fatalf("register heartbeat: %v", err)
	}

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("application failed: %v", err)
	}
}
