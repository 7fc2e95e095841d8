// Package stream is the stream manager actor: allocation,
// lookup, and teardown of per-stream response rendezvous points keyed by
// stream-id. Like the module registry, it is a single-goroutine actor
// serialized by a command channel — the same "owning goroutine,
// no locks" shape applied elsewhere to Hub state, here generalized from a
// broadcast fan-out map into a rendezvous-slot map, and from BusManager's
// per-CAN-ID subscriber slice (internal/bus_manager.go in the gocanopen
// pack) which is the closest precedent for "one slot keyed
// by CAN-ID, installed and later consulted by a different task."
package stream

import (
	"context"
	"fmt"

	"github.com/naokiiwakami/mission-control/internal/canframe"
	"github.com/naokiiwakami/mission-control/internal/mcerr"
	"github.com/naokiiwakami/mission-control/internal/metrics"
)

// ReplySlot is a one-shot rendezvous channel: exactly one frame is ever sent
// on it before it is discarded.
type ReplySlot chan canframe.Frame

// NewReplySlot allocates a fresh, unarmed reply slot.
func NewReplySlot() ReplySlot { return make(ReplySlot, 1) }

type opKind uint8

const (
	opStart opKind = iota
	opCreateWire
	opGet
	opContinue
	opTerminate
)

type request struct {
	kind     opKind
	streamID uint16
	slot     ReplySlot
	reply    chan response
}

type response struct {
	streamID uint16
	slot     ReplySlot
	err      error
}

type entry struct {
	slot ReplySlot // nil once taken by Get, until Continue reinstalls one
}

// Manager is the stream manager actor's client handle.
type Manager struct {
	reqs           chan request
	adminWiresBase uint16
	wirePoolSize   uint16
}

// Start launches the stream manager actor loop. adminWiresBase and
// wirePoolSize define the admin-wire CAN-ID pool CreateWire allocates from.
func Start(ctx context.Context, adminWiresBase uint16, wirePoolSize uint16) *Manager {
	m := &Manager{
		reqs:           make(chan request),
		adminWiresBase: adminWiresBase,
		wirePoolSize:   wirePoolSize,
	}
	go m.run(ctx)
	return m
}

func (m *Manager) run(ctx context.Context) {
	streams := map[uint16]*entry{}

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-m.reqs:
			switch req.kind {
			case opStart:
				if _, busy := streams[req.streamID]; busy {
					req.reply <- response{err: fmt.Errorf("%w: stream 0x%X already allocated", mcerr.ErrBusy, req.streamID)}
					continue
				}
				streams[req.streamID] = &entry{slot: req.slot}
				metrics.SetStreamsActive(len(streams))
				req.reply <- response{streamID: req.streamID}

			case opCreateWire:
				id, ok := smallestFreeWireID(streams, m.adminWiresBase, m.wirePoolSize)
				if !ok {
					req.reply <- response{err: fmt.Errorf("%w: admin wire pool exhausted", mcerr.ErrBusy)}
					continue
				}
				streams[id] = &entry{slot: req.slot}
				metrics.SetStreamsActive(len(streams))
				metrics.SetAdminWiresInUse(wiresInUse(streams, m.adminWiresBase, m.wirePoolSize))
				req.reply <- response{streamID: id}

			case opGet:
				e, ok := streams[req.streamID]
				if !ok {
					req.reply <- response{err: fmt.Errorf("%w: stream 0x%X", mcerr.ErrNoSuchStream, req.streamID)}
					continue
				}
				if e.slot == nil {
					req.reply <- response{err: fmt.Errorf("%w: stream 0x%X", mcerr.ErrStaleStream, req.streamID)}
					continue
				}
				slot := e.slot
				e.slot = nil
				req.reply <- response{slot: slot}

			case opContinue:
				e, ok := streams[req.streamID]
				if !ok {
					req.reply <- response{err: fmt.Errorf("%w: stream 0x%X", mcerr.ErrNoSuchStream, req.streamID)}
					continue
				}
				e.slot = req.slot
				req.reply <- response{}

			case opTerminate:
				if _, ok := streams[req.streamID]; !ok {
					req.reply <- response{err: fmt.Errorf("%w: stream 0x%X", mcerr.ErrNoSuchStream, req.streamID)}
					continue
				}
				delete(streams, req.streamID)
				metrics.SetStreamsActive(len(streams))
				metrics.SetAdminWiresInUse(wiresInUse(streams, m.adminWiresBase, m.wirePoolSize))
				req.reply <- response{}
			}
		}
	}
}

func smallestFreeWireID(streams map[uint16]*entry, base, size uint16) (uint16, bool) {
	for i := uint16(0); i < size; i++ {
		id := base + i
		if _, busy := streams[id]; !busy {
			return id, true
		}
	}
	return 0, false
}

func wiresInUse(streams map[uint16]*entry, base, size uint16) int {
	n := 0
	for i := uint16(0); i < size; i++ {
		if _, busy := streams[base+i]; busy {
			n++
		}
	}
	return n
}

func (m *Manager) call(ctx context.Context, req request) response {
	req.reply = make(chan response, 1)
	select {
	case m.reqs <- req:
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}
	select {
	case resp := <-req.reply:
		return resp
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}
}

// StartStream installs slot as the reply rendezvous for streamID, failing with
// ErrBusy if the id is already occupied.
func (m *Manager) StartStream(ctx context.Context, streamID uint16, slot ReplySlot) error {
	resp := m.call(ctx, request{kind: opStart, streamID: streamID, slot: slot})
	return resp.err
}

// CreateWire picks the smallest free admin-wire id, installs slot on it,
// and returns the chosen id. Fails with ErrBusy if the pool is exhausted.
func (m *Manager) CreateWire(ctx context.Context, slot ReplySlot) (uint16, error) {
	resp := m.call(ctx, request{kind: opCreateWire, slot: slot})
	return resp.streamID, resp.err
}

// Get atomically takes the installed reply slot for streamID. Returns
// ErrNoSuchStream if unmapped, ErrStaleStream if already taken without a
// follow-up Continue.
func (m *Manager) Get(ctx context.Context, streamID uint16) (ReplySlot, error) {
	resp := m.call(ctx, request{kind: opGet, streamID: streamID})
	return resp.slot, resp.err
}

// Continue reinstalls a fresh slot on an existing stream, rearming it
// between successive multi-frame replies.
func (m *Manager) Continue(ctx context.Context, streamID uint16, slot ReplySlot) error {
	resp := m.call(ctx, request{kind: opContinue, streamID: streamID, slot: slot})
	return resp.err
}

// Terminate removes streamID's entry. Non-fatal to callers if absent.
func (m *Manager) Terminate(ctx context.Context, streamID uint16) error {
	resp := m.call(ctx, request{kind: opTerminate, streamID: streamID})
	return resp.err
}
