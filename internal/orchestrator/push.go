package orchestrator

import (
	"context"
	"fmt"

	"github.com/naokiiwakami/mission-control/internal/canframe"
	"github.com/naokiiwakami/mission-control/internal/mcerr"
	"github.com/naokiiwakami/mission-control/internal/metrics"
	"github.com/naokiiwakami/mission-control/internal/propcodec"
	"github.com/naokiiwakami/mission-control/internal/registry"
	"github.com/naokiiwakami/mission-control/internal/stream"
)

// SetConfig runs the push protocol for MC_MODIFY_CONFIG: allocate an admin
// wire, announce it, then drive the encoder every time the module solicits
// the next chunk with an RTR frame on the wire id. On success it mirrors the
// "name" property onto the registry entry for id, if present.
func (o *Orchestrator) SetConfig(ctx context.Context, id uint8, properties []propcodec.Property) error {
	slot := stream.NewReplySlot()
	wireID, err := o.streams.CreateWire(ctx, slot)
	if err != nil {
		return err
	}
	defer o.streams.Terminate(ctx, wireID)
	wireAddr := o.wireAddr(wireID)

	enc := propcodec.NewEncoder(properties)

	if err := o.sender.Send(o.mcFrame(MCModifyConfig, id, wireAddr)); err != nil {
		return fmt.Errorf("%w: %v", mcerr.ErrRuntime, err)
	}

	for {
		fr, rerr := awaitReply(ctx, slot, o.cfg.CommandTimeout)
		if rerr != nil {
			if rerr == mcerr.ErrTimeout {
				metrics.IncOrchestratorTimeout("set_config")
			}
			return rerr
		}
		if !fr.Remote {
			if fr.Length >= 1 && StreamStatus(fr.Data[0]) == StatusBusy {
				return fmt.Errorf("%w: set-config", mcerr.ErrBusy)
			}
			return fmt.Errorf("%w: set-config expected solicitation frame", mcerr.ErrProtocol)
		}

		var chunk [8]byte
		n := enc.Flush(chunk[:])
		out := canframe.New(uint32(wireID), chunk[:n])
		if err := o.sender.Send(out); err != nil {
			return fmt.Errorf("%w: %v", mcerr.ErrRuntime, err)
		}
		if enc.IsDone() {
			break
		}

		slot = stream.NewReplySlot()
		if err := o.streams.Continue(ctx, wireID, slot); err != nil {
			return err
		}
	}

	var name string
	for _, p := range properties {
		if p.ID == 2 {
			name = string(p.Data)
			o.registry.SetProperties(ctx, id, registry.SetFields{Name: &name})
			break
		}
	}
	return nil
}
