package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/naokiiwakami/mission-control/internal/mcerr"
	"github.com/naokiiwakami/mission-control/internal/metrics"
	"github.com/naokiiwakami/mission-control/internal/modconfig"
	"github.com/naokiiwakami/mission-control/internal/propcodec"
	"github.com/naokiiwakami/mission-control/internal/registry"
	"github.com/naokiiwakami/mission-control/internal/stream"
)

var pullBackoff = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

type streamReply struct {
	status StreamStatus
	data   []byte
}

// pull drives the request/Ready-or-Busy/Continue pull protocol shared by
// GetName and GetConfig: allocate an admin wire, send opcode/id/wireAddr,
// retry on Busy with exponential backoff, then drain dec over successive
// MC_CONTINUE_STREAM round trips.
func (o *Orchestrator) pull(ctx context.Context, metric string, opcode byte, id uint8, dec *propcodec.Decoder) error {
	slot := stream.NewReplySlot()
	wireID, err := o.streams.CreateWire(ctx, slot)
	if err != nil {
		return err
	}
	defer o.streams.Terminate(ctx, wireID)
	wireAddr := o.wireAddr(wireID)

	var first streamReply
	accepted := false
	for attempt := 0; attempt <= len(pullBackoff); attempt++ {
		if err := o.sender.Send(o.mcFrame(opcode, id, wireAddr)); err != nil {
			return fmt.Errorf("%w: %v", mcerr.ErrRuntime, err)
		}
		fr, rerr := awaitReply(ctx, slot, o.cfg.CommandTimeout)
		if rerr != nil {
			if rerr == mcerr.ErrTimeout {
				metrics.IncOrchestratorTimeout(metric)
			}
			return rerr
		}

		first = streamReply{data: fr.Payload()}
		if fr.Length >= 1 {
			first.status = StreamStatus(fr.Data[0])
			first.data = fr.Payload()[1:]
		}

		switch first.status {
		case StatusReady:
			accepted = true
		case StatusBusy:
			if attempt == len(pullBackoff)-1 {
				return fmt.Errorf("%w: %s busy after retries", mcerr.ErrBusy, metric)
			}
			metrics.IncOrchestratorRetry(metric)
			select {
			case <-time.After(pullBackoff[attempt]):
			case <-ctx.Done():
				return ctx.Err()
			}
			slot = stream.NewReplySlot()
			if err := o.streams.Continue(ctx, wireID, slot); err != nil {
				return err
			}
			continue
		case StatusNotSupported:
			return fmt.Errorf("%w: %s", mcerr.ErrProtocol, metric)
		case StatusNoSuchStream:
			return fmt.Errorf("%w: module reported no such stream", mcerr.ErrProtocol)
		default:
			return fmt.Errorf("%w: unexpected stream status %d", mcerr.ErrProtocol, first.status)
		}
		if accepted {
			break
		}
	}

	if done, ferr := dec.Feed(first.data); ferr != nil {
		return ferr
	} else if done {
		return nil
	}

	for !dec.Done() {
		slot = stream.NewReplySlot()
		if err := o.streams.Continue(ctx, wireID, slot); err != nil {
			return err
		}
		if err := o.sender.Send(o.mcFrame(MCContinueStream, id, wireAddr)); err != nil {
			return fmt.Errorf("%w: %v", mcerr.ErrRuntime, err)
		}
		fr, rerr := awaitReply(ctx, slot, o.cfg.CommandTimeout)
		if rerr != nil {
			if rerr == mcerr.ErrTimeout {
				metrics.IncOrchestratorTimeout(metric)
			}
			return rerr
		}
		if _, ferr := dec.Feed(fr.Payload()); ferr != nil {
			return ferr
		}
	}
	return nil
}

// GetName runs the pull protocol for MC_REQUEST_NAME and mirrors the
// decoded name onto the registry entry for id.
func (o *Orchestrator) GetName(ctx context.Context, id uint8) (string, error) {
	dec := propcodec.NewSingleFieldDecoder()
	if err := o.pull(ctx, "get_name", MCRequestName, id, dec); err != nil {
		return "", err
	}
	props := dec.Properties()
	if len(props) != 1 {
		return "", fmt.Errorf("%w: get-name returned %d properties", mcerr.ErrProtocol, len(props))
	}
	name := string(props[0].Data)
	o.registry.SetProperties(ctx, id, registry.SetFields{Name: &name})
	return name, nil
}

// GetConfig runs the pull protocol for MC_REQUEST_CONFIG, interprets the
// decoded properties against the schema registry, and mirrors the observed
// name/module-type onto the registry entry for id.
func (o *Orchestrator) GetConfig(ctx context.Context, id uint8) (*modconfig.Configuration, error) {
	dec := propcodec.NewDecoder()
	if err := o.pull(ctx, "get_config", MCRequestConfig, id, dec); err != nil {
		return nil, err
	}
	cfg, err := modconfig.Interpret(o.schema, dec.Properties())
	if err != nil {
		return nil, err
	}

	fields := registry.SetFields{}
	if name, ok := cfg.Name(); ok {
		fields.Name = &name
	}
	if mt, ok := cfg.ModuleType(); ok {
		fields.ModuleTypeID = &mt
		if cfg.Def != nil {
			fields.ModuleTypeName = &cfg.Def.ModuleTypeName
		}
	}
	o.registry.SetProperties(ctx, id, fields)
	return cfg, nil
}
