// Package transport provides the CAN driver boundary: a bounded
// outbound sink whose consumer serializes frames to a physical driver, and
// the reusable asynchronous single-writer funnel each concrete backend uses
// to implement it. Adapted from internal/transport.AsyncTx.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/naokiiwakami/mission-control/internal/canframe"
)

// AsyncTx funnels frame writes through a single goroutine so a slow or
// wedged device can never block its producers. SendFrame is non-blocking:
// when the internal buffer is full it invokes OnDrop and returns its error
// instead of retrying ("no retries, the application is
// expected to size buffers adequately").
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan canframe.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(canframe.Frame) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks let each backend keep distinct metrics/logging without duplicating
// the goroutine and buffer plumbing.
type Hooks struct {
	OnError func(error)
	OnAfter func()
	OnDrop  func() error
}

// ErrClosed is returned by SendFrame once Close has been called.
var ErrClosed = errors.New("async tx closed")

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf.
func NewAsyncTx(parent context.Context, buf int, send func(canframe.Frame) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan canframe.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case fr, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(fr); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// SendFrame queues a frame for asynchronous transmission, or invokes OnDrop
// and returns its error if the buffer is full.
func (a *AsyncTx) SendFrame(fr canframe.Frame) error {
	if a.closed.Load() {
		return ErrClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrClosed
	}
	select {
	case a.ch <- fr:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops the worker and waits for it to exit. Frames still queued when
// Close is called may be discarded without being sent.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
