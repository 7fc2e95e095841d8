package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/naokiiwakami/mission-control/internal/canframe"
	"github.com/naokiiwakami/mission-control/internal/mcconfig"
	"github.com/naokiiwakami/mission-control/internal/metrics"
	"github.com/naokiiwakami/mission-control/internal/serial"
	"github.com/naokiiwakami/mission-control/internal/transport"
)

// openSerialPort is a hook for tests.
var openSerialPort = serial.Open

// serialDriver adapts a serial.Port plus its TXWriter into a
// transport.Driver, mirroring socketcanDriver.
type serialDriver struct {
	sp serial.Port
	tw *serial.TXWriter
}

func (d *serialDriver) SendFrame(fr canframe.Frame) error { return d.tw.SendFrame(fr) }
func (d *serialDriver) Close() error {
	d.tw.Close()
	return d.sp.Close()
}

// initSerialBackend opens the serial-attached CAN adapter, wires it behind
// the transport adapter, and launches its RX loop.
func initSerialBackend(ctx context.Context, cfg *mcconfig.Config, l *slog.Logger, wg *sync.WaitGroup) (*transport.Adapter, func(), error) {
	sp, err := openSerialPort(cfg.SerialDev, cfg.SerialBaud, cfg.SerialReadTO)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.SerialDev, "baud", cfg.SerialBaud)

	codec := serial.Codec{}
	driver := &serialDriver{sp: sp, tw: serial.NewTXWriter(ctx, sp, codec, txQueueSize)}
	adapter := transport.NewAdapter(ctx, driver, transport.Hooks{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("serial_rx_end")
		buf := make([]byte, serialReadBufSize)
		acc := bytes.NewBuffer(nil)
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, err := sp.Read(buf)
			if n > 0 {
				acc.Write(buf[:n])
				_ = codec.DecodeStream(acc, adapter.OnFrameReceived)
				if acc.Len() == 0 && cap(acc.Bytes()) > largeBufferReclaimThreshold {
					acc = bytes.NewBuffer(nil)
				}
				backoff = rxBackoffMin
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				var perr *os.PathError
				if errors.As(err, &perr) {
					return
				}
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					continue
				}
				metrics.IncError(metrics.ErrSerialRead)
				l.Warn("serial_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
			}
		}
	}()

	return adapter, func() { _ = adapter.Close() }, nil
}
