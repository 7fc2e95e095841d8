package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/naokiiwakami/mission-control/internal/mcconfig"
	"github.com/naokiiwakami/mission-control/internal/transport"
)

// initBackend selects the configured CAN backend, starts its RX loop, and
// returns the transport adapter plus a cleanup function. It returns an
// error instead of exiting the process, leaving process-level handling to
// the caller.
func initBackend(ctx context.Context, cfg *mcconfig.Config, l *slog.Logger, wg *sync.WaitGroup) (*transport.Adapter, func(), error) {
	switch cfg.CANBackend {
	case "serial":
		return initSerialBackend(ctx, cfg, l, wg)
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, l, wg)
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use serial|socketcan)", cfg.CANBackend)
	}
}
