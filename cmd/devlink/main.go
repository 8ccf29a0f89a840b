// Command devlink serves one device's control protocol over NATS: it
// loads the device definition from a config file, announces the device,
// answers set/query-option controls, and broadcasts its disconnect on
// shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/c360/devlink/config"
	"github.com/c360/devlink/device"
	"github.com/c360/devlink/metric"
	"github.com/c360/devlink/natsclient"
	"github.com/c360/devlink/topics"
	"github.com/c360/devlink/transport"
)

const (
	defaultNATSURL    = "nats://localhost:4222"
	shutdownTimeout   = 10 * time.Second
	disconnectTimeout = 3 * time.Second
)

func main() {
	configPath := flag.String("config", "devlink.yaml", "path to the config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("devlink failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	coreMetrics := registry.CoreMetrics()

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer metricsServer.Stop()
		logger.Info("metrics server listening", "address", metricsServer.Address())
	}

	client, err := buildClient(cfg, logger, coreMetrics)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Error("NATS close failed", "error", err)
		}
	}()

	participant := transport.NewNATSParticipant(client, transport.WithLogger(logger))

	streams, err := buildStreams(cfg.Device.Streams)
	if err != nil {
		return err
	}
	options := device.OptionsFromConfig(cfg.Device.Options)

	server := device.New(participant, cfg.Device.TopicRoot,
		device.WithLogger(logger),
		device.WithMetrics(coreMetrics),
		device.WithSettings(cfg.Settings),
	)
	if err := server.Init(ctx, streams, options, nil); err != nil {
		return err
	}
	defer func() {
		if err := server.Close(shutdownTimeout); err != nil {
			logger.Error("device close failed", "error", err)
		}
	}()

	info := topics.DeviceInfo{
		Name:        cfg.Device.Name,
		Serial:      cfg.Device.Serial,
		ProductLine: cfg.Device.ProductLine,
		TopicRoot:   cfg.Device.TopicRoot,
	}
	if err := server.Broadcast(ctx, info); err != nil {
		return err
	}
	defer func() {
		if err := server.BroadcastDisconnect(disconnectTimeout); err != nil {
			logger.Error("disconnect broadcast failed", "error", err)
		}
	}()

	logger.Info("device online", "name", cfg.Device.Name, "topic-root", cfg.Device.TopicRoot)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func buildClient(cfg *config.Config, logger *slog.Logger, coreMetrics *metric.Metrics) (*natsclient.Client, error) {
	url := cfg.NATS.URL
	if url == "" {
		url = defaultNATSURL
	}

	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithClientName("devlink-" + cfg.Device.TopicRoot),
		natsclient.WithCoreMetrics(coreMetrics),
	}
	if cfg.NATS.MaxReconnects != 0 {
		opts = append(opts, natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects))
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}

	return natsclient.NewClient(url, opts...)
}

func buildStreams(scs []config.StreamConfig) ([]*device.Stream, error) {
	streams := make([]*device.Stream, 0, len(scs))
	for _, sc := range scs {
		s, err := device.StreamFromConfig(sc)
		if err != nil {
			return nil, fmt.Errorf("stream %q: %w", sc.Name, err)
		}
		streams = append(streams, s)
	}
	return streams, nil
}
