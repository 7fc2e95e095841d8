package serial

import (
	"context"
	"errors"

	"github.com/naokiiwakami/mission-control/internal/canframe"
	"github.com/naokiiwakami/mission-control/internal/logging"
	"github.com/naokiiwakami/mission-control/internal/metrics"
	"github.com/naokiiwakami/mission-control/internal/transport"
)

var ErrTxOverflow = errors.New("serial tx overflow")

// TXWriter funnels all serial writes through one goroutine.
type TXWriter struct{ base *transport.AsyncTx }

// NewTXWriter creates a serial TXWriter with a buffered channel of size buf.
func NewTXWriter(parent context.Context, sp Port, codec Codec, buf int) *TXWriter {
	send := func(fr canframe.Frame) error {
		_, err := sp.Write(codec.Encode(fr))
		return err
	}
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			logging.L().Error("serial_write_error", "error", err)
		},
		OnAfter: metrics.IncSerialTx,
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSerialOver)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, send, hooks)}
}

func (w *TXWriter) SendFrame(fr canframe.Frame) error { return w.base.SendFrame(fr) }
func (w *TXWriter) Close()                            { w.base.Close() }
