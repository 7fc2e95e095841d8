package main

import (
	"context"
	"log/slog"

	"github.com/naokiiwakami/mission-control/internal/mcconfig"
	"github.com/naokiiwakami/mission-control/internal/registry"
	"github.com/naokiiwakami/mission-control/internal/stream"
)

// initActors launches the module registry and stream manager actors.
// Both are goroutine-owned state machines with no shared memory.
func initActors(ctx context.Context, cfg *mcconfig.Config, l *slog.Logger) (*registry.Registry, *stream.Manager) {
	reg := registry.Start(ctx)
	streams := stream.Start(ctx, uint16(cfg.AdminWiresBase), uint16(cfg.WirePoolSize))
	l.Info("actors_started", "admin_wires_base", cfg.AdminWiresBase, "wire_pool_size", cfg.WirePoolSize)
	return reg, streams
}
