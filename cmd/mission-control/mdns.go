package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/naokiiwakami/mission-control/internal/mcconfig"
)

// mdnsServiceType advertises the operator console, not the CAN bus itself.
const mdnsServiceType = "_mission-control._tcp"

// startMDNS registers the operator console via mDNS and returns a cleanup
// function. Safe to call even when disabled (no-op).
func startMDNS(ctx context.Context, cfg *mcconfig.Config, port int) (func(), error) {
	if !cfg.MDNSEnable {
		return func() {}, nil
	}
	instance := cfg.MDNSName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("mission-control-%s", host)
	}
	meta := []string{
		"can-backend=" + cfg.CANBackend,
		"version=" + version,
		"commit=" + commit,
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
