package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kratos/kratos/v2/log"
	_ "go.uber.org/automaxprocs"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/conf"
	"github.com/camrenhall/luceron-ai-communications-agent/pkg/logger"
	"github.com/camrenhall/luceron-ai-communications-agent/pkg/observability"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name string = "communications-agent"
	// Version is the version of the compiled software.
	Version string = "v1.0.0"

	configFile = flag.String("conf", "", "config path, eg: -conf configs/communications-agent.yaml")
)

func main() {
	flag.Parse()

	config, err := conf.Load(*configFile)
	if err != nil {
		stdlog.Fatalf("Failed to load config: %v", err)
	}

	zlog, logCleanup, err := logger.NewZapLogger(config.Observability.LogLevel)
	if err != nil {
		stdlog.Fatalf("Failed to init logger: %v", err)
	}
	defer logCleanup()

	kv := log.With(zlog,
		"service.name", Name,
		"service.version", Version,
	)
	helper := log.NewHelper(kv)

	shutdownTracing, err := observability.InitTracing(context.Background(), observability.TracingConfig{
		ServiceName:    config.Observability.ServiceName,
		ServiceVersion: config.Observability.ServiceVersion,
		Environment:    config.Observability.Environment,
		Endpoint:       config.Observability.OTELEndpoint,
		SamplingRate:   config.Observability.SamplingRate,
		Enabled:        config.Observability.EnableTrace,
	})
	if err != nil {
		helper.Fatalf("Failed to init tracing: %v", err)
	}

	app, cleanup, err := initApp(config, kv)
	if err != nil {
		helper.Fatalf("Failed to initialize application: %v", err)
	}
	defer cleanup()

	helper.Infof("Starting %s %s", Name, Version)
	go func() {
		if err := app.Start(); err != nil {
			helper.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	helper.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		helper.Errorf("HTTP server shutdown failed: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		helper.Errorf("Tracing shutdown failed: %v", err)
	}

	helper.Info("Server exited")
}

func addrFromPort(port int) string {
	if port <= 0 {
		port = 8080
	}
	return fmt.Sprintf(":%d", port)
}
