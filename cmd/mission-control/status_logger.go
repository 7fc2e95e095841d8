package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/naokiiwakami/mission-control/internal/registry"
)

// startStatusLogger periodically logs registry occupancy, the
// non-Prometheus equivalent of a metrics snapshot logger: a direct read of
// the registry actor on a ticker. Stream occupancy is already visible via
// the admin_wires_in_use/streams_active gauges.
func startStatusLogger(ctx context.Context, interval time.Duration, reg *registry.Registry, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				modules := reg.List(ctx)
				l.Info("status_snapshot", "modules_registered", len(modules))
			case <-ctx.Done():
				return
			}
		}
	}()
}
