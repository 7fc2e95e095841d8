//go:build linux

package socketcan

import (
	"context"
	"errors"

	"github.com/naokiiwakami/mission-control/internal/canframe"
	"github.com/naokiiwakami/mission-control/internal/metrics"
	"github.com/naokiiwakami/mission-control/internal/transport"
)

var ErrTxOverflow = errors.New("socketcan tx overflow")

// Dev is the minimal interface needed by the TXWriter; implemented by
// *Device in production and by fakes in tests.
type Dev interface {
	ReadFrame(*canframe.Frame) error
	WriteFrame(canframe.Frame) error
	Close() error
}

// TXWriter funnels all SocketCAN writes through a single goroutine.
type TXWriter struct{ base *transport.AsyncTx }

// NewTXWriter creates a SocketCAN TXWriter with a buffered channel of size buf.
func NewTXWriter(parent context.Context, dev Dev, buf int) *TXWriter {
	send := func(fr canframe.Frame) error { return dev.WriteFrame(fr) }
	hooks := transport.Hooks{
		OnError: func(err error) { metrics.IncError(metrics.ErrSocketCANWr) },
		OnAfter: metrics.IncSocketCANTx,
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSocketCANOver)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, send, hooks)}
}

func (w *TXWriter) SendFrame(fr canframe.Frame) error { return w.base.SendFrame(fr) }
func (w *TXWriter) Close()                            { w.base.Close() }
