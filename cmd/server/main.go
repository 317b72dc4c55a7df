package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/INLOpen/nexuswal/config"
	"github.com/INLOpen/nexuswal/engine"
	"github.com/INLOpen/nexuswal/hooks"
	"github.com/INLOpen/nexuswal/hooks/listeners"
	"github.com/INLOpen/nexuswal/server"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// createLogger builds the JSON logger described by cfg. The returned closer is
// non-nil when output goes to a file.
func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	case "file":
		if cfg.File == "" {
			return nil, nil, errors.New("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output, closer = file, file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})), closer, nil
}

// initTracerProvider creates and configures an OpenTelemetry TracerProvider.
// It sets up an exporter based on the configuration to send traces to a collector.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Info("Distributed tracing is disabled.")
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error

	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("nexuswal")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		logger.Info("Shutting down tracer provider...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}

	return tp, cleanup, nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("nexuswal exited with an error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load configuration %s: %w", configPath, err)
	}

	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	if cfg.Engine.DataDir == "" {
		return errors.New("engine.data_dir must be specified")
	}

	tp, tracerCleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer tracerCleanup()

	opts, err := engine.OptionsFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("engine configuration: %w", err)
	}
	opts.TracerProvider = tp

	// Listeners go in before Open so they see the PostWALOpen events.
	hookManager := hooks.NewHookManager(logger)
	walMonitor := listeners.NewWALMonitorListener(logger)
	walMonitor.Register(hookManager)
	opts.HookManager = hookManager

	walEngine, err := engine.Open(opts)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() {
		if err := walEngine.Close(); err != nil {
			logger.Error("WAL engine closed with errors", "error", err)
		}
		logger.Info("WAL engine stopped",
			"wal_rotations", walMonitor.Rotations(),
			"failed_flushes", walMonitor.FailedFlushes(),
			"read_only", walMonitor.SawReadOnly())
	}()
	logger.Info("WAL engine running", "data_dir", cfg.Engine.DataDir, "regions", walEngine.Regions())

	appServer, err := server.NewAppServer(walEngine, cfg, logger)
	if err != nil {
		return fmt.Errorf("create application server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() { serverErr <- appServer.Start() }()

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
		// No network servers configured; keep the engine up until signalled.
		<-ctx.Done()
	case <-ctx.Done():
		logger.Info("Shutdown signal received. Stopping servers...")
		appServer.Stop()
		if err := <-serverErr; err != nil {
			logger.Error("Server stopped with an error", "error", err)
		}
	}
	return nil
}
