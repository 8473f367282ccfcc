package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"overlay/internal/bootstrap"
	"overlay/internal/clustertest"
	"overlay/internal/logger"
	zapfactory "overlay/internal/logger/zap"
)

var defaultConfigPath = "config/tester/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()

	cfg, err := clustertest.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %q: %v", *configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	var lgr logger.Logger
	if cfg.Logger.Active {
		zapLog, err := zapfactory.New(cfg.Logger)
		if err != nil {
			log.Fatalf("failed to initialize logger: %v", err)
		}
		defer func() { _ = zapLog.Sync() }()
		lgr = zapfactory.NewZapAdapter(zapLog)
	} else {
		lgr = &logger.NopLogger{}
	}

	var writer clustertest.ResultWriter
	if cfg.CSV.Enabled {
		w, err := clustertest.NewCSVResultWriter(cfg.CSV.Path)
		if err != nil {
			lgr.Error("failed to initialize csv writer", logger.F("err", err))
			return
		}
		writer = w
	} else {
		writer = clustertest.NopResultWriter{}
	}
	defer writer.Close()

	var disc bootstrap.Discoverer
	switch cfg.Discovery.Mode {
	case "docker", "":
		d, err := clustertest.NewDockerDiscoverer(
			cfg.Discovery.Docker.ContainerSuffix,
			cfg.Discovery.Docker.Port,
			cfg.Discovery.Docker.Network,
		)
		if err != nil {
			lgr.Error("failed to initialize docker discoverer", logger.F("err", err))
			return
		}
		defer d.Close()
		disc = d
	case "static":
		disc = bootstrap.NewStatic(cfg.Discovery.Static)
	default:
		lgr.Error("unknown discovery mode", logger.F("mode", cfg.Discovery.Mode))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		lgr.Warn("received termination signal", logger.F("signal", sig.String()))
		cancel()
	}()

	runner := clustertest.NewRunner(cfg, lgr.Named("runner"), writer, disc)
	start := time.Now()
	if err := runner.Run(ctx); err != nil {
		lgr.Error("exerciser run failed", logger.F("err", err))
	}
	lgr.Info("exerciser finished", logger.F("elapsed", time.Since(start)))
}
