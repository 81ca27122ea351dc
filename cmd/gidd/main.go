package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veesix-networks/gidd/pkg/component"
	"github.com/veesix-networks/gidd/pkg/config"
	"github.com/veesix-networks/gidd/pkg/events"
	"github.com/veesix-networks/gidd/pkg/events/local"
	"github.com/veesix-networks/gidd/pkg/gidcache"
	"github.com/veesix-networks/gidd/pkg/gidmgmt"
	"github.com/veesix-networks/gidd/pkg/logger"
	"github.com/veesix-networks/gidd/pkg/metrics"
	"github.com/veesix-networks/gidd/pkg/netdev"
	"github.com/veesix-networks/gidd/pkg/netdev/nlsource"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "/etc/gidd/config.yaml", "Path to configuration file")
	shell := flag.Bool("shell", false, "Run an interactive shell instead of waiting for a signal")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Configure(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Components)

	logOut, err := openLogOutput(cfg.Logging.Output)
	if err != nil {
		log.Fatalf("Failed to open log output: %v", err)
	}
	defer logOut.Close()
	logger.SetOutput(logOut)

	mainLog := logger.Get(logger.Main)
	mainLog.Info("Starting gidd", "devices", len(cfg.Devices))

	registry := netdev.NewRegistry()
	guard := &netdev.Guard{}
	eventBus := local.NewBus(cfg.Events.QueueSize)
	reclaimer := gidcache.NewReclaimer(cfg.Reclaim.DeferQueueSize())

	var sources []gidmgmt.Source
	if cfg.Netlink.IsEnabled() {
		sources = append(sources, nlsource.New(nlsource.Config{
			Registry:  registry,
			Guard:     guard,
			Namespace: cfg.Netlink.Namespace,
		}))
	}

	svc := gidmgmt.NewService(gidmgmt.Config{
		Registry:   registry,
		Guard:      guard,
		Dispatcher: gidmgmt.NewDispatcher(cfg.Dispatcher.QueueSize),
		Reclaimer:  reclaimer,
		Notifier:   &events.GIDNotifier{Bus: eventBus, Source: "gidcache"},
		Bus:        eventBus,
		Sources:    sources,
	})

	eventBus.Subscribe(events.TopicGIDChange, func(ev events.Event) {
		if change, ok := ev.Data.(events.GIDChangeEvent); ok {
			mainLog.Debug("GID changed", "device", change.Device, "port", change.Port, "index", change.Index)
		}
	})

	devs, err := buildDevices(cfg.Devices, registry)
	if err != nil {
		log.Fatalf("Failed to build devices: %v", err)
	}

	orch := component.NewOrchestrator()
	orch.Register(svc)

	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(
			metrics.NewGIDTableHandler(svc),
			metrics.NewDispatcherHandler(svc.Dispatcher()),
			metrics.NewReclaimHandler(reclaimer),
			metrics.NewBusHandler(eventBus),
		)
		orch.Register(metrics.NewExporter(cfg.Metrics.ListenAddress, collector))
	}

	ctx := context.Background()
	if err := orch.Start(ctx); err != nil {
		log.Fatalf("Failed to start components: %v", err)
	}

	for _, dev := range devs {
		if err := svc.AttachDevice(dev); err != nil {
			mainLog.Error("Failed to attach device", "device", dev.Name(), "error", err)
		}
	}

	mainLog.Info("gidd started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *shell {
		sh := NewShell(svc, reclaimer, eventBus)
		go func() {
			<-sigCh
			sh.Stop()
		}()
		if err := sh.Run(); err != nil {
			mainLog.Error("Shell failed", "error", err)
		}
	} else {
		<-sigCh
	}

	mainLog.Info("Shutting down gidd...")

	stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := orch.Stop(stopCtx); err != nil {
		mainLog.Error("Error stopping components", "error", err)
	}

	reclaimer.Close()
	if err := eventBus.Close(); err != nil {
		mainLog.Error("Error closing event bus", "error", err)
	}

	mainLog.Info("gidd stopped")
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func openLogOutput(output string) (io.WriteCloser, error) {
	switch output {
	case "", "stdout":
		return nopCloser{os.Stdout}, nil
	case "stderr":
		return nopCloser{os.Stderr}, nil
	}
	return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
