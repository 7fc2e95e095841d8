package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/naokiiwakami/mission-control/internal/canframe"
	"github.com/naokiiwakami/mission-control/internal/logging"
	"github.com/naokiiwakami/mission-control/internal/mcerr"
	"github.com/naokiiwakami/mission-control/internal/metrics"
	"github.com/naokiiwakami/mission-control/internal/registry"
	"github.com/naokiiwakami/mission-control/internal/schema"
	"github.com/naokiiwakami/mission-control/internal/stream"
)

// Sender is the minimal outbound capability the orchestrator needs from the
// CAN transport adapter.
type Sender interface {
	Send(canframe.Frame) error
}

// Config carries the bus-layout and timing constants the orchestrator needs.
type Config struct {
	IndividualBase  uint32
	AdminWiresBase  uint32
	WirePoolSize    uint32
	IDAssignRetries int
	IDAssignTimeout time.Duration
	CommandTimeout  time.Duration
}

// Orchestrator is the mission-control orchestrator. It holds no
// durable state of its own; the registry and stream manager actors own all
// mutable state.
type Orchestrator struct {
	cfg      Config
	sender   Sender
	registry *registry.Registry
	streams  *stream.Manager
	schema   *schema.Registry
}

// New builds an Orchestrator wired to its collaborators.
func New(cfg Config, sender Sender, reg *registry.Registry, streams *stream.Manager, sch *schema.Registry) *Orchestrator {
	return &Orchestrator{cfg: cfg, sender: sender, registry: reg, streams: streams, schema: sch}
}

// Inject feeds fr through the same dispatch path as a frame received off
// the bus. The operator console uses this for its pretend-sign-in and
// pretend-notify-id commands, which let an operator exercise the admin
// handshake without a physical module attached.
func (o *Orchestrator) Inject(ctx context.Context, fr canframe.Frame) {
	o.dispatch(ctx, fr)
}

// Run consumes frames from inbound until ctx is cancelled, dispatching each
// one.
func (o *Orchestrator) Run(ctx context.Context, inbound <-chan canframe.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case fr := <-inbound:
			o.dispatch(ctx, fr)
		}
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, fr canframe.Frame) {
	switch {
	case fr.Extended:
		o.dispatchAdmin(ctx, fr)
	case uint32(fr.ID) >= o.cfg.IndividualBase:
		o.dispatchIndividualReply(ctx, fr)
	case uint32(fr.ID) >= o.cfg.AdminWiresBase:
		o.dispatchWireReply(ctx, fr)
	default:
		metrics.IncDispatcherDropped("ignored_range")
	}
}

func (o *Orchestrator) dispatchAdmin(ctx context.Context, fr canframe.Frame) {
	if fr.Length < 1 {
		logging.L().Warn("admin_frame_missing_opcode", "uid", fmt.Sprintf("0x%X", fr.ID))
		metrics.IncDispatcherDropped("opcode_missing")
		return
	}
	uid := fr.ID
	switch fr.Data[0] {
	case AdminSignIn:
		go o.runIDAssignment(ctx, uid)
	case AdminNotifyID:
		if fr.Length < 2 {
			logging.L().Warn("notify_id_short_frame", "uid", fmt.Sprintf("0x%X", uid))
			metrics.IncDispatcherDropped("opcode_missing")
			return
		}
		o.registry.Register(ctx, uid, fr.Data[1])
	case AdminReqUIDCancel:
		o.registry.Deregister(ctx, uid)
	default:
		logging.L().Warn("admin_opcode_unknown", "opcode", fr.Data[0], "uid", fmt.Sprintf("0x%X", uid))
		metrics.IncDispatcherDropped("opcode_unknown")
	}
}

func (o *Orchestrator) dispatchIndividualReply(ctx context.Context, fr canframe.Frame) {
	if fr.Length < 1 {
		metrics.IncDispatcherDropped("opcode_missing")
		return
	}
	switch fr.Data[0] {
	case IMReplyPing, IMIDAssignAck:
		o.routeStreamReply(ctx, uint16(fr.ID), fr)
	default:
		metrics.IncDispatcherDropped("opcode_unknown")
	}
}

func (o *Orchestrator) dispatchWireReply(ctx context.Context, fr canframe.Frame) {
	o.routeStreamReply(ctx, uint16(fr.ID), fr)
}

// routeStreamReply asks the stream manager for the armed reply slot and
// hands the frame to it. On NoSuchStream/Stale it logs and drops: the frame
// is never retried.
func (o *Orchestrator) routeStreamReply(ctx context.Context, streamID uint16, fr canframe.Frame) {
	slot, err := o.streams.Get(ctx, streamID)
	if err != nil {
		logging.L().Debug("stream_reply_dropped", "stream_id", fmt.Sprintf("0x%X", streamID), "error", err)
		metrics.IncDispatcherDropped("no_such_stream")
		return
	}
	slot <- fr
}

func (o *Orchestrator) wireAddr(wireID uint16) uint8 {
	return uint8(uint32(wireID) - o.cfg.AdminWiresBase)
}

// mcFrame builds an outbound standard frame from mission-control's CAN-ID.
func (o *Orchestrator) mcFrame(opcode byte, payload ...byte) canframe.Frame {
	data := append([]byte{opcode}, payload...)
	return canframe.New(o.cfg.IndividualBase, data)
}

// awaitReply blocks on slot until a frame arrives or timeout elapses,
// mirroring the select{ errCh / ctx.Done() } rendezvous idiom used
// throughout the protocol handshakes below.
func awaitReply(ctx context.Context, slot stream.ReplySlot, timeout time.Duration) (canframe.Frame, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case fr := <-slot:
		return fr, nil
	case <-t.C:
		return canframe.Frame{}, mcerr.ErrTimeout
	case <-ctx.Done():
		return canframe.Frame{}, ctx.Err()
	}
}
