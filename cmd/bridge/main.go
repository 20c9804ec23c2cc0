// Command bridge runs the OPC UA <-> AAS synchronization bridge as a
// standalone process: it loads YAML configuration, wires the Connection
// Pool, AAS Client, Mapping Registry, Loop-Suppression Cache, and Sync
// Manager, serves /healthz, /readyz, /metrics, and /debug/feed, and shuts
// down on SIGINT/SIGTERM. Structured after the gateway's main.go: flag
// parsing, defaulted config load, zap setup, signal-driven context
// cancellation, and a --health-check short-circuit mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/industrial-twin/opcua-aas-bridge/internal/aasclient"
	"github.com/industrial-twin/opcua-aas-bridge/internal/audit"
	"github.com/industrial-twin/opcua-aas-bridge/internal/config"
	"github.com/industrial-twin/opcua-aas-bridge/internal/health"
	"github.com/industrial-twin/opcua-aas-bridge/internal/loopcache"
	"github.com/industrial-twin/opcua-aas-bridge/internal/mapping"
	"github.com/industrial-twin/opcua-aas-bridge/internal/metrics"
	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
	"github.com/industrial-twin/opcua-aas-bridge/internal/opcuapool"
	"github.com/industrial-twin/opcua-aas-bridge/internal/resilience"
	"github.com/industrial-twin/opcua-aas-bridge/internal/sync"
)

// Exit codes per the bridge's process contract.
const (
	exitOK               = 0
	exitConfigInvalid    = 1
	exitOPCUAAuthFailure = 2
	exitAASAuthFailure   = 3
)

func main() {
	var (
		configFile  = flag.String("config", "bridge.yaml", "Path to configuration file")
		logLevel    = flag.String("log-level", "", "Override log level (debug, info, warn, error)")
		healthAddr  = flag.String("health-addr", "", "Override health/metrics server address")
		healthCheck = flag.Bool("health-check", false, "Probe a running bridge's /readyz and exit")
	)
	flag.Parse()

	if *healthCheck {
		os.Exit(performHealthCheck(*healthAddr))
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(exitConfigInvalid)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *healthAddr != "" {
		cfg.Health.Addr = *healthAddr
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting opcua-aas-bridge",
		zap.Int("endpoints", len(cfg.OPCUA.Endpoints)),
		zap.Int("mappings", len(cfg.Mappings)),
		zap.String("aas_url", cfg.AAS.URL),
	)

	registry, err := mapping.Build(cfg.ToModelMappings())
	if err != nil {
		logger.Error("invalid mapping configuration", zap.Error(err))
		os.Exit(exitConfigInvalid)
	}

	breakers := resilience.NewBreakerRegistry(logger, cfg.Resilience.Breaker,
		func(endpoint string) { logger.Warn("circuit breaker tripped", zap.String("endpoint", endpoint)) },
		func(endpoint string) { logger.Info("circuit breaker reset", zap.String("endpoint", endpoint)) },
	)
	backoff := resilience.NewBackoff(cfg.Resilience.Backoff)

	pool := opcuapool.NewPool(logger, cfg.OpcuaPoolEndpoints(), cfg.Resilience.Breaker, cfg.Resilience.Backoff, sync.DefaultEventQueueSize)

	maxEntries, ttl := cfg.LoopCacheParams()
	cache := loopcache.New(maxEntries, ttl)

	metricsReg := metrics.New()

	fileAudit, err := audit.NewFileLogger(cfg.Audit)
	if err != nil {
		logger.Error("failed to open audit log", zap.Error(err))
		os.Exit(exitConfigInvalid)
	}

	// healthServer is filled in once it's constructed below; the ring
	// logger's forward closure captures the variable rather than a value
	// so records logged after the server is assigned are broadcast; records
	// logged before that are not broadcast and reach feed clients only
	// through the ring's backlog.
	var healthServer *health.Server
	ring := audit.NewRingLogger(256, func(record model.AuditRecord) {
		if healthServer != nil {
			healthServer.BroadcastAuditRecord(record)
		}
	})
	auditLog := fanoutAuditLogger{sinks: []audit.Logger{fileAudit, ring}}

	events, sink := sync.NewEventQueue(logger)
	aasClient := aasclient.New(cfg.AASClientConfig(), cfg.AASMQTTConfig(), logger, backoff, breakers, registry, sink)

	manager := sync.New(logger, pool, registry, aasClient, cache, auditLog, metricsReg, events)

	healthServer = health.NewServer(cfg.Health, logger, manager, metricsReg.Gatherer(), ring.Recent)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	healthServer.Start(ctx)

	if err := manager.Start(ctx); err != nil {
		logger.Error("sync manager failed to start", zap.Error(err))
		cancel()
		os.Exit(classifyStartupError(err))
	}

	<-ctx.Done()
	manager.Stop()
	logger.Info("bridge shutdown complete")
}

// fanoutAuditLogger fans every AuditRecord out to every sink: the
// file-backed log and the in-memory ring feeding the debug WebSocket,
// layering a durable sink under an in-memory one for dashboards.
type fanoutAuditLogger struct {
	sinks []audit.Logger
}

func (f fanoutAuditLogger) Log(record model.AuditRecord) {
	for _, s := range f.sinks {
		s.Log(record)
	}
}

func (f fanoutAuditLogger) Close() error {
	var firstErr error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return logger
}

// classifyStartupError maps a Sync Manager startup failure to the
// process's fatal-auth exit codes when the failing component's error
// kind identifies which side of the bridge rejected credentials,
// falling back to the generic configuration-invalid code.
func classifyStartupError(err error) int {
	if model.Is(err, model.KindOpcError) {
		return exitOPCUAAuthFailure
	}
	if model.Is(err, model.KindHttpError) || model.Is(err, model.KindMqttError) {
		return exitAASAuthFailure
	}
	return exitConfigInvalid
}

func performHealthCheck(addr string) int {
	if addr == "" {
		addr = health.DefaultAddr
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addrWithoutScheme(addr) + "/readyz")
	if err != nil {
		fmt.Fprintln(os.Stderr, "health check failed:", err)
		return exitConfigInvalid
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return exitOK
	}
	return exitConfigInvalid
}

func addrWithoutScheme(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
