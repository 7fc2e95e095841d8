package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/naokiiwakami/mission-control/internal/console"
	"github.com/naokiiwakami/mission-control/internal/mcconfig"
	"github.com/naokiiwakami/mission-control/internal/metrics"
	"github.com/naokiiwakami/mission-control/internal/orchestrator"
	"github.com/naokiiwakami/mission-control/internal/schema"
)

// Helper implementations live in dedicated files: version.go, logger.go,
// actors_init.go, status_logger.go, backend.go/backend_*.go, mdns.go.

func main() {
	cfg, showVersion := mcconfig.ParseFlags()
	if showVersion {
		fmt.Printf("mission-control %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}

	l := setupLogger(cfg.LogFormat, cfg.LogLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	schemaReg, err := schema.Load(cfg.SchemaDir)
	if err != nil {
		l.Error("schema_load_error", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	reg, streams := initActors(ctx, cfg, l)
	startStatusLogger(ctx, cfg.LogStatusEvery, reg, l, &wg)

	adapter, cleanupBackend, berr := initBackend(ctx, cfg, l, &wg)
	if berr != nil {
		l.Error("backend_init_error", "error", berr)
		return
	}

	orchCfg := orchestrator.Config{
		IndividualBase:  cfg.IndividualBase,
		AdminWiresBase:  cfg.AdminWiresBase,
		WirePoolSize:    uint32(cfg.WirePoolSize),
		IDAssignRetries: cfg.IDAssignRetries,
		IDAssignTimeout: cfg.IDAssignTimeout,
		CommandTimeout:  cfg.CommandTimeout,
	}
	orch := orchestrator.New(orchCfg, adapter, reg, streams, schemaReg)
	wg.Add(1)
	go func() {
		defer wg.Done()
		orch.Run(ctx, adapter.Inbound())
	}()

	cons := console.New(cfg.ConsoleListen, orch, reg, schemaReg)
	go func() {
		if err := cons.Serve(ctx); err != nil {
			l.Error("console_server_error", "error", err)
			cancel()
		}
	}()

	go func() {
		if !cfg.MDNSEnable {
			return
		}
		select {
		case <-cons.Ready():
		case <-ctx.Done():
			return
		}
		portNum := extractPort(cons.Addr())
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.MDNSName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-cons.Ready():
			return ctx.Err() == nil
		default:
			return false
		}
	})
	if cfg.MetricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv := metrics.StartHTTP(cfg.MetricsAddr)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	cleanupBackend()
	wg.Wait()
}

func extractPort(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if pn, perr := strconv.Atoi(p); perr == nil {
			return pn
		}
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if pn, perr := strconv.Atoi(addr[i+1:]); perr == nil {
			return pn
		}
	}
	return 0
}
