package orchestrator

import (
	"context"
	"fmt"

	"github.com/naokiiwakami/mission-control/internal/canframe"
	"github.com/naokiiwakami/mission-control/internal/mcerr"
	"github.com/naokiiwakami/mission-control/internal/metrics"
	"github.com/naokiiwakami/mission-control/internal/stream"
)

// Ping sends MC_PING to id and waits up to CommandTimeout for IM_REPLY_PING.
// If visual is set, an extra payload byte 0x01 after the id asks the module
// to flash an indicator rather than just reply.
func (o *Orchestrator) Ping(ctx context.Context, id uint8, visual bool) error {
	streamID := uint16(o.cfg.IndividualBase) + uint16(id)
	slot := stream.NewReplySlot()
	if err := o.streams.StartStream(ctx, streamID, slot); err != nil {
		return err
	}
	defer o.streams.Terminate(ctx, streamID)

	payload := []byte{MCPing, id}
	if visual {
		payload = append(payload, 0x01)
	}
	if err := o.sender.Send(o.mcFrame(payload[0], payload[1:]...)); err != nil {
		return fmt.Errorf("%w: %v", mcerr.ErrRuntime, err)
	}

	_, err := awaitReply(ctx, slot, o.cfg.CommandTimeout)
	if err == mcerr.ErrTimeout {
		metrics.IncOrchestratorTimeout("ping")
	}
	return err
}
