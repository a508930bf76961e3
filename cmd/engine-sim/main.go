package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/AltairaLabs/locbatch-mcp/internal/engine/sim"
	"github.com/AltairaLabs/locbatch-mcp/internal/engine/wire"
)

const (
	appVersion      = "0.1.0"
	defaultGRPCPort = "50051"
)

// options are the simulator settings
type options struct {
	version       bool
	debug         bool
	grpcPort      string
	driveInterval time.Duration
	driveMeters   uint32
	driveFixes    int
}

func parseFlags(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("engine-sim", pflag.ContinueOnError)
	flagSet.BoolVar(&opts.version, "version", false, "Print version and exit")
	flagSet.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flagSet.StringVar(&opts.grpcPort, "port", getEnv("GRPC_PORT", defaultGRPCPort), "gRPC listen port")
	flagSet.DurationVar(&opts.driveInterval, "drive-interval", 0, "Advance the simulated device this often (0 disables)")
	flagSet.Uint32Var(&opts.driveMeters, "drive-meters", 50, "Meters travelled per drive step")
	flagSet.IntVar(&opts.driveFixes, "drive-fixes", 1, "Fixes recorded per drive step")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if opts.driveFixes < 0 {
		return options{}, fmt.Errorf("drive-fixes must not be negative, got %d", opts.driveFixes)
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	if opts.version {
		fmt.Println("Positioning Engine Simulator v" + appVersion)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if opts.debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if err := run(opts, logger); err != nil {
		logger.Error("Simulator failed", "error", err)
		os.Exit(1)
	}
}

func run(opts options, logger *slog.Logger) error {
	engine := sim.New(sim.DefaultConfig(), logger)

	grpcServer := grpc.NewServer()
	wire.Register(grpcServer, sim.NewServer(engine, logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenConfig := net.ListenConfig{}
	lis, err := listenConfig.Listen(ctx, "tcp", ":"+opts.grpcPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", opts.grpcPort, err)
	}

	if opts.driveInterval > 0 {
		go drive(ctx, engine, opts, logger)
	}

	// SIGHUP simulates an engine restart; SIGINT and SIGTERM stop the server
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				logger.Info("Simulating engine restart")
				engine.Restart()
				continue
			}
			logger.Info("Shutting down simulator")
			cancel()
			grpcServer.GracefulStop()
			return
		}
	}()

	logger.Info("Simulator listening", "port", opts.grpcPort, "drive_interval", opts.driveInterval)
	return grpcServer.Serve(lis)
}

// drive advances the simulated device on a ticker
func drive(ctx context.Context, engine *sim.Engine, opts options, logger *slog.Logger) {
	ticker := time.NewTicker(opts.driveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			engine.Drive(opts.driveMeters, opts.driveFixes)
			logger.Debug("Drive step", "meters", opts.driveMeters, "fixes", opts.driveFixes)
		case <-ctx.Done():
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
