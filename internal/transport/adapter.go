package transport

import (
	"context"

	"github.com/naokiiwakami/mission-control/internal/canframe"
	"github.com/naokiiwakami/mission-control/internal/logging"
)

// InboundCapacity and OutboundCapacity are the fixed channel sizes mandated
// by this package.
const (
	InboundCapacity  = 16
	OutboundCapacity = 16
)

// Driver is the out-of-scope CAN controller boundary: a physical or virtual
// link exposing only frame send and a received-frame callback, matching
// the physical CAN controller driver (exposes only send_frame,
// on_frame_received callback, create/free primitives)".
type Driver interface {
	SendFrame(canframe.Frame) error
	Close() error
}

// Adapter is the CAN transport adapter. It owns the inbound and
// outbound bounded channels that are the sole boundary between the driver
// and the rest of mission-control.
type Adapter struct {
	driver  Driver
	tx      *AsyncTx
	inbound chan canframe.Frame
}

// NewAdapter wraps driver with the bounded inbound/outbound pipeline. hooks
// lets the concrete backend (socketcan, serial) attach its own metrics to
// the outbound async writer.
func NewAdapter(ctx context.Context, driver Driver, hooks Hooks) *Adapter {
	a := &Adapter{
		driver:  driver,
		inbound: make(chan canframe.Frame, InboundCapacity),
	}
	send := func(fr canframe.Frame) error { return driver.SendFrame(fr) }
	a.tx = NewAsyncTx(ctx, OutboundCapacity, send, hooks)
	return a
}

// Send enqueues a frame for outbound transmission. Non-blocking; see AsyncTx.
func (a *Adapter) Send(fr canframe.Frame) error { return a.tx.SendFrame(fr) }

// Inbound returns the channel the dispatcher reads received frames from.
func (a *Adapter) Inbound() <-chan canframe.Frame { return a.inbound }

// OnFrameReceived is the driver's asynchronous receive callback. It must
// never block: if the inbound channel is saturated the frame is dropped
// with an error log.
func (a *Adapter) OnFrameReceived(fr canframe.Frame) {
	select {
	case a.inbound <- fr:
	default:
		logging.L().Error("inbound_frame_dropped", "frame", fr.String())
	}
}

// Close releases the outbound writer and the underlying driver.
func (a *Adapter) Close() error {
	a.tx.Close()
	return a.driver.Close()
}
