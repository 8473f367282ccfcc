package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"overlay/internal/bootstrap"
	"overlay/internal/client"
	"overlay/internal/config"
	"overlay/internal/domain"
	"overlay/internal/logger"
	zapfactory "overlay/internal/logger/zap"
	"overlay/internal/peer"
	"overlay/internal/server"
	"overlay/internal/telemetry"
)

var defaultConfigPath = "config/node/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %q: %v", *configPath, err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.ValidateConfig(); err != nil {
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
		lgr = logger.NopLogger{}
	}
	cfg.LogConfig(lgr)

	lis, advertised, err := server.Listen(cfg.DHT.Mode, "", cfg.Node.Server.Host, cfg.Node.Server.Port)
	if err != nil {
		lgr.Error("failed to initialize listener", logger.F("err", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = lis.Close() }()
	lgr.Debug("created listener", logger.F("addr", advertised))

	topo, err := domain.NewTopology(cfg.DHT.Topology.Fanout, cfg.DHT.Topology.TreeMapperRoot)
	if err != nil {
		lgr.Error("failed to initialize topology", logger.F("err", err.Error()))
		os.Exit(1)
	}

	host, port, err := parseAdvertised(advertised)
	if err != nil {
		lgr.Error("failed to parse advertised address", logger.F("err", err.Error()))
		os.Exit(1)
	}
	self := domain.NewNodeInfo(domain.Position{}, domain.PhysicalAddr{IP: host, Port: port})
	lgr = lgr.Named("node").WithNode(self)
	lgr.Info("peer initializing", logger.F("uuid", self.UUID.String()))

	shutdownTracer := telemetry.InitTracer(cfg.Telemetry, "overlay-node", self.UUID.String())
	defer func() { _ = shutdownTracer(context.Background()) }()

	pool := client.NewPool(lgr.Named("clientpool"), 5*time.Second, 2*time.Minute, 5*time.Second)

	p := peer.New(self, topo, cfg.DHT, lgr.Named("peer"), pool)

	var grpcOpts []grpc.ServerOption
	srv, err := server.New(lis, p, grpcOpts, server.WithLogger(lgr.Named("server")))
	if err != nil {
		lgr.Error("failed to initialize gRPC server", logger.F("err", err.Error()))
		os.Exit(1)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()
	lgr.Debug("gRPC server started")

	runCtx, runCancel := context.WithCancel(context.Background())
	go p.Run(runCtx)
	defer runCancel()

	if err := bootstrapJoin(context.Background(), p, cfg, lgr); err != nil {
		lgr.Error("failed to join overlay", logger.F("err", err.Error()))
		srv.Stop()
		p.Stop(context.Background())
		os.Exit(1)
	}

	var registrar bootstrap.Registrar
	if cfg.DHT.Bootstrap.Register.Enabled {
		bs, err := bootstrap.New(context.Background(), cfg.DHT.Bootstrap, lgr.Named("bootstrap"))
		if err != nil {
			lgr.Warn("failed to initialize registrar", logger.F("err", err.Error()))
		} else {
			registrar = bs
			regCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := registrar.Register(regCtx, self); err != nil {
				lgr.Warn("peer registration failed", logger.F("err", err.Error()))
			}
			cancel()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ctx.Done():
		lgr.Info("shutdown signal received, stopping gracefully")
		stop()

		if registrar != nil {
			deregCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := registrar.Deregister(deregCtx, self); err != nil {
				lgr.Warn("peer deregistration failed", logger.F("err", err.Error()))
			}
			cancel()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
			lgr.Info("server stopped gracefully")
		case <-shutdownCtx.Done():
			lgr.Warn("graceful stop timed out, forcing shutdown")
			srv.Stop()
		}
		p.Stop(context.Background())

	case err := <-serveErr:
		lgr.Error("gRPC server terminated unexpectedly", logger.F("err", err.Error()))
		p.Stop(context.Background())
		os.Exit(1)
	}
}

// bootstrapJoin drives the peer's startup position per spec §4.4.1:
// InitRoot for the first peer of a fresh overlay, a single known endpoint,
// or fan-out discovery over a bootstrap.Discoverer.
func bootstrapJoin(ctx context.Context, p *peer.Peer, cfg *config.Config, lgr logger.Logger) error {
	switch cfg.DHT.Bootstrap.JoinInfo.Mode {
	case "root":
		p.InitRoot()
		lgr.Info("initialized as root of a new overlay")
		return nil
	case "known_endpoint":
		var lastErr error
		for _, contact := range cfg.DHT.Bootstrap.Discovery.Peers {
			if err := p.Join(ctx, contact); err != nil {
				lgr.Warn("join attempt failed", logger.F("contact", contact), logger.F("err", err.Error()))
				lastErr = err
				continue
			}
			return nil
		}
		return lastErr
	case "discovery":
		disc, err := bootstrap.New(ctx, cfg.DHT.Bootstrap, lgr.Named("bootstrap"))
		if err != nil {
			return err
		}
		return p.JoinViaDiscovery(ctx, disc)
	default:
		p.InitRoot()
		return nil
	}
}

// parseAdvertised splits a "host:port" address into its domain.PhysicalAddr
// parts.
func parseAdvertised(advertised string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(advertised)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, err
	}
	return host, uint16(port), nil
}
