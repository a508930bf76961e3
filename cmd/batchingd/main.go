package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AltairaLabs/locbatch-mcp/internal/batching"
	"github.com/AltairaLabs/locbatch-mcp/internal/cache"
	"github.com/AltairaLabs/locbatch-mcp/internal/config"
	"github.com/AltairaLabs/locbatch-mcp/internal/engine/grpcengine"
	"github.com/AltairaLabs/locbatch-mcp/internal/mcpserver"
	"github.com/AltairaLabs/locbatch-mcp/internal/taskqueue"
)

const (
	appVersion         = "0.1.0"
	defaultEngineAddr  = "localhost:50051"
	defaultHTTPPort    = "8080"
	httpShutdownPeriod = 2 * time.Second
)

// options are the process settings
type options struct {
	version    bool
	debug      bool
	httpMode   bool
	engineAddr string
	httpPort   string
	configPath string
}

// parseFlags reads options from args, falling back to the environment
func parseFlags(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("batchingd", pflag.ContinueOnError)
	flagSet.BoolVar(&opts.version, "version", false, "Print version and exit")
	flagSet.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flagSet.BoolVar(&opts.httpMode, "http", false, "Enable HTTP/SSE transport instead of stdio")
	flagSet.StringVar(&opts.engineAddr, "engine-addr", getEnv("ENGINE_ADDR", defaultEngineAddr), "Positioning engine gRPC address")
	flagSet.StringVar(&opts.httpPort, "http-port", getEnv("HTTP_PORT", defaultHTTPPort), "Port for the HTTP/SSE transport")
	flagSet.StringVar(&opts.configPath, "config", os.Getenv("BATCHING_CONF"), "Batching settings file (key=value)")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", rest[0])
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
		fmt.Println("Location Batching MCP Daemon v" + appVersion)
		os.Exit(0)
	}

	if err := run(opts); err != nil {
		slog.Error("Daemon failed", "error", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if opts.debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting location batching daemon",
		"version", appVersion,
		"debug", opts.debug,
		"engine_addr", opts.engineAddr,
		"http_mode", opts.httpMode,
		"http_port", opts.httpPort,
		"config", opts.configPath,
	)

	settings, err := config.LoadSettings(opts.configPath)
	if err != nil {
		return err
	}

	conn, err := grpc.NewClient(opts.engineAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create engine client: %w", err)
	}
	defer conn.Close()

	engineClient := grpcengine.New(conn, grpcengine.DefaultConfig(), logger)
	queue := taskqueue.NewQueue(logger, taskqueue.DefaultQueueConfig())
	service := batching.NewService(engineClient, queue, settings, logger)
	mailbox := cache.NewMailbox(config.DefaultReportConfig())
	defer mailbox.Close()

	queue.Start()
	defer queue.Stop()
	service.Start()
	engineClient.Start()
	defer engineClient.Close()

	mcpServer := mcpserver.NewMCPServer(mcpserver.Config{
		Name:            "locbatch-mcp",
		Version:         appVersion,
		ResponseTimeout: config.DefaultResponseTimeout,
	}, service, mailbox, logger)

	logger.Info("MCP Server initialized",
		"batch_size", settings.BatchSize,
		"trip_batch_size", settings.TripBatchSize,
		"session_timeout", settings.SessionTimeout,
	)

	// Setup context for shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	addr := ":" + opts.httpPort
	sse := mcpServer.NewSSEServer(addr)
	serveErr := make(chan error, 1)

	// Start MCP server in goroutine
	go func() {
		if opts.httpMode {
			serveErr <- mcpServer.ServeHTTPWithLogger(sse, addr, logger)
			return
		}
		serveErr <- mcpServer.ServeWithLogger(logger)
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			logger.Error("MCP server error", "error", err)
		}
	}

	logger.Info("Shutting down gracefully")

	if opts.httpMode {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownPeriod)
		defer shutdownCancel()
		if err := sse.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown incomplete", "error", err)
		}
	}

	logger.Info("Daemon shutdown complete")
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
