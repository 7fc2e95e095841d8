//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/naokiiwakami/mission-control/internal/canframe"
	"github.com/naokiiwakami/mission-control/internal/mcconfig"
	"github.com/naokiiwakami/mission-control/internal/metrics"
	"github.com/naokiiwakami/mission-control/internal/socketcan"
	"github.com/naokiiwakami/mission-control/internal/transport"
)

// openSocketCANDevice is a hook for tests.
var openSocketCANDevice = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }

// socketcanDriver adapts a socketcan.Dev plus its dedicated TXWriter into a
// transport.Driver: outbound frames funnel through the TXWriter's own
// single-writer goroutine (which carries the SocketCAN-specific tx metrics
// and overflow handling), while Close tears down both.
type socketcanDriver struct {
	dev socketcan.Dev
	tw  *socketcan.TXWriter
}

func (d *socketcanDriver) SendFrame(fr canframe.Frame) error { return d.tw.SendFrame(fr) }
func (d *socketcanDriver) Close() error {
	d.tw.Close()
	return d.dev.Close()
}

// initSocketCANBackend opens the SocketCAN interface, wires it behind the
// transport adapter, and launches its RX loop.
func initSocketCANBackend(ctx context.Context, cfg *mcconfig.Config, l *slog.Logger, wg *sync.WaitGroup) (*transport.Adapter, func(), error) {
	dev, err := openSocketCANDevice(cfg.CANIf)
	if err != nil {
		return nil, func() {}, fmt.Errorf("socketcan open %s: %w", cfg.CANIf, err)
	}
	l.Info("socketcan_open", "if", cfg.CANIf)

	driver := &socketcanDriver{dev: dev, tw: socketcan.NewTXWriter(ctx, dev, txQueueSize)}
	adapter := transport.NewAdapter(ctx, driver, transport.Hooks{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("socketcan_rx_end")
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var fr canframe.Frame
			if err := dev.ReadFrame(&fr); err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.IncError(metrics.ErrSocketCANRead)
				l.Warn("socketcan_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
				continue
			}
			metrics.IncSocketCANRx()
			adapter.OnFrameReceived(fr)
			backoff = rxBackoffMin
		}
	}()

	return adapter, func() { _ = adapter.Close() }, nil
}
