package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/naokiiwakami/mission-control/internal/logging"
	"github.com/naokiiwakami/mission-control/internal/mcerr"
	"github.com/naokiiwakami/mission-control/internal/metrics"
	"github.com/naokiiwakami/mission-control/internal/stream"
)

// runIDAssignment drives the ID assignment state machine in
// response to an AdminSignIn frame from uid. It allocates (or recovers) an
// id from the registry, sends MC_ASSIGN_MODULE_ID(uid, id) from the
// mission-control CAN-ID, awaits the ack on that id's stream with a
// doubling timeout, and retries up to IDAssignRetries times before giving
// up. There is no caller waiting on this: failures are logged, not
// returned, same as other background reconnect loops in this codebase.
func (o *Orchestrator) runIDAssignment(ctx context.Context, uid uint32) {
	id := o.registry.GetOrCreateIDByUID(ctx, uid)
	if id == 0 {
		logging.L().Error("id_assignment_space_exhausted", "uid", fmt.Sprintf("0x%X", uid))
		return
	}

	slot := stream.NewReplySlot()
	streamID := uint16(o.cfg.IndividualBase) + uint16(id)
	if err := o.streams.StartStream(ctx, streamID, slot); err != nil {
		logging.L().Warn("id_assignment_stream_busy", "uid", fmt.Sprintf("0x%X", uid), "id", id, "error", err)
		return
	}
	defer o.streams.Terminate(ctx, streamID)

	timeout := o.cfg.IDAssignTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}

	for attempt := 0; attempt < o.cfg.IDAssignRetries; attempt++ {
		if attempt > 0 {
			metrics.IncOrchestratorRetry("id_assign")
			timeout *= 2
		}
		fr := o.mcFrame(MCAssignModuleID, byte(uid>>24), byte(uid>>16), byte(uid>>8), byte(uid), id)
		if err := o.sender.Send(fr); err != nil {
			logging.L().Warn("id_assignment_send_failed", "uid", fmt.Sprintf("0x%X", uid), "error", err)
			return
		}

		reply, err := awaitReply(ctx, slot, timeout)
		if err == nil && reply.Length >= 1 && reply.Data[0] == IMIDAssignAck {
			logging.L().Info("id_assigned", "uid", fmt.Sprintf("0x%X", uid), "id", id)
			return
		}
		if err != nil && err != mcerr.ErrTimeout {
			return
		}
		// Tear down and recreate the stream rather than reusing the slot:
		// a reply that arrives late for this attempt must not be mistaken
		// for the next attempt's reply, and the id's stream slot must be
		// free between attempts.
		o.streams.Terminate(ctx, streamID)
		slot = stream.NewReplySlot()
		if err := o.streams.StartStream(ctx, streamID, slot); err != nil {
			logging.L().Warn("id_assignment_stream_busy", "uid", fmt.Sprintf("0x%X", uid), "id", id, "error", err)
			return
		}
	}

	metrics.IncOrchestratorTimeout("id_assign")
	logging.L().Warn("id_assignment_abandoned", "uid", fmt.Sprintf("0x%X", uid), "id", id, "retries", o.cfg.IDAssignRetries)
}
