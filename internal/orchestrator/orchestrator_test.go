package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/naokiiwakami/mission-control/internal/canframe"
	"github.com/naokiiwakami/mission-control/internal/mcerr"
	"github.com/naokiiwakami/mission-control/internal/propcodec"
	"github.com/naokiiwakami/mission-control/internal/registry"
	"github.com/naokiiwakami/mission-control/internal/schema"
	"github.com/naokiiwakami/mission-control/internal/stream"
)

// fakeSender records every frame handed to Send and optionally runs fn to
// simulate a module's reply on the stream manager.
type fakeSender struct {
	sends []canframe.Frame
	fn    func(canframe.Frame) error
}

func (s *fakeSender) Send(fr canframe.Frame) error {
	s.sends = append(s.sends, fr)
	if s.fn != nil {
		return s.fn(fr)
	}
	return nil
}

func TestRunIDAssignmentSuccessOnFirstTry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.Start(ctx)
	streams := stream.Start(ctx, 0x680, 4)
	cfg := Config{IndividualBase: 0x700, AdminWiresBase: 0x680, WirePoolSize: 4, IDAssignRetries: 3, IDAssignTimeout: 20 * time.Millisecond}

	sender := &fakeSender{}
	sender.fn = func(fr canframe.Frame) error {
		id := fr.Data[5]
		streamID := uint16(cfg.IndividualBase) + uint16(id)
		slot, err := streams.Get(ctx, streamID)
		if err != nil {
			return err
		}
		slot <- canframe.New(uint32(streamID), []byte{IMIDAssignAck})
		return nil
	}
	o := New(cfg, sender, reg, streams, &schema.Registry{})
	o.runIDAssignment(ctx, 0x1234)

	mod, err := reg.GetByID(ctx, 1)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if mod.UID != 0x1234 {
		t.Fatalf("got uid 0x%X, want 0x1234", mod.UID)
	}
	if len(sender.sends) != 1 {
		t.Fatalf("got %d sends, want 1", len(sender.sends))
	}
}

func TestRunIDAssignmentRetriesThenSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.Start(ctx)
	streams := stream.Start(ctx, 0x680, 4)
	cfg := Config{IndividualBase: 0x700, AdminWiresBase: 0x680, WirePoolSize: 4, IDAssignRetries: 3, IDAssignTimeout: 10 * time.Millisecond}

	attempts := 0
	sender := &fakeSender{}
	sender.fn = func(fr canframe.Frame) error {
		attempts++
		if attempts < 2 {
			return nil // no reply: the caller times out and retries
		}
		id := fr.Data[5]
		streamID := uint16(cfg.IndividualBase) + uint16(id)
		slot, err := streams.Get(ctx, streamID)
		if err != nil {
			return err
		}
		slot <- canframe.New(uint32(streamID), []byte{IMIDAssignAck})
		return nil
	}
	o := New(cfg, sender, reg, streams, &schema.Registry{})
	o.runIDAssignment(ctx, 0x5678)

	if _, err := reg.GetByID(ctx, 1); err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("got %d attempts, want 2", attempts)
	}
}

func TestRunIDAssignmentAbandonedAfterRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.Start(ctx)
	streams := stream.Start(ctx, 0x680, 4)
	cfg := Config{IndividualBase: 0x700, AdminWiresBase: 0x680, WirePoolSize: 4, IDAssignRetries: 2, IDAssignTimeout: 5 * time.Millisecond}

	sender := &fakeSender{}
	o := New(cfg, sender, reg, streams, &schema.Registry{})
	o.runIDAssignment(ctx, 0x9999)

	if len(sender.sends) != cfg.IDAssignRetries {
		t.Fatalf("got %d sends, want %d (=IDAssignRetries)", len(sender.sends), cfg.IDAssignRetries)
	}
	if _, err := streams.Get(ctx, uint16(cfg.IndividualBase)+1); !errors.Is(err, mcerr.ErrNoSuchStream) {
		t.Fatalf("stream not cleaned up after abandonment: %v", err)
	}
}

func TestPingSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.Start(ctx)
	streams := stream.Start(ctx, 0x680, 4)
	cfg := Config{IndividualBase: 0x700, AdminWiresBase: 0x680, WirePoolSize: 4, CommandTimeout: 50 * time.Millisecond}

	sender := &fakeSender{}
	sender.fn = func(fr canframe.Frame) error {
		streamID := uint16(cfg.IndividualBase) + uint16(fr.Data[1])
		slot, err := streams.Get(ctx, streamID)
		if err != nil {
			return err
		}
		slot <- canframe.New(uint32(streamID), []byte{IMReplyPing})
		return nil
	}
	o := New(cfg, sender, reg, streams, &schema.Registry{})
	if err := o.Ping(ctx, 7, false); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestPingTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.Start(ctx)
	streams := stream.Start(ctx, 0x680, 4)
	cfg := Config{IndividualBase: 0x700, AdminWiresBase: 0x680, WirePoolSize: 4, CommandTimeout: 5 * time.Millisecond}

	o := New(cfg, &fakeSender{}, reg, streams, &schema.Registry{})
	if err := o.Ping(ctx, 3, false); !errors.Is(err, mcerr.ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}

	// A timed-out Ping must leave no stream entry behind.
	streamID := uint16(cfg.IndividualBase) + 3
	if _, err := streams.Get(ctx, streamID); !errors.Is(err, mcerr.ErrNoSuchStream) {
		t.Fatalf("stream not cleaned up after timeout: %v", err)
	}
}

func TestPingVisualSetsFlagByte(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.Start(ctx)
	streams := stream.Start(ctx, 0x680, 4)
	cfg := Config{IndividualBase: 0x700, AdminWiresBase: 0x680, WirePoolSize: 4, CommandTimeout: 50 * time.Millisecond}

	sender := &fakeSender{}
	sender.fn = func(fr canframe.Frame) error {
		streamID := uint16(cfg.IndividualBase) + uint16(fr.Data[1])
		slot, err := streams.Get(ctx, streamID)
		if err != nil {
			return err
		}
		slot <- canframe.New(uint32(streamID), []byte{IMReplyPing})
		return nil
	}
	o := New(cfg, sender, reg, streams, &schema.Registry{})
	if err := o.Ping(ctx, 2, true); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if len(sender.sends) != 1 || sender.sends[0].Length != 3 || sender.sends[0].Data[2] != 0x01 {
		t.Fatalf("unexpected visual ping frame: %+v", sender.sends[0])
	}
}

func TestGetNameImmediateReady(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.Start(ctx)
	streams := stream.Start(ctx, 0x680, 4)
	cfg := Config{IndividualBase: 0x700, AdminWiresBase: 0x680, WirePoolSize: 4, CommandTimeout: 50 * time.Millisecond}
	reg.Register(ctx, 0xAAAA, 9)

	sender := &fakeSender{}
	sender.fn = func(fr canframe.Frame) error {
		wireID := uint16(cfg.AdminWiresBase) + uint16(fr.Data[2])
		slot, err := streams.Get(ctx, wireID)
		if err != nil {
			return err
		}
		payload := append([]byte{byte(StatusReady)}, 2, 5, 'v', 'c', 'o', '-', '1')
		slot <- canframe.New(uint32(wireID), payload)
		return nil
	}
	o := New(cfg, sender, reg, streams, &schema.Registry{})
	name, err := o.GetName(ctx, 9)
	if err != nil {
		t.Fatalf("GetName: %v", err)
	}
	if name != "vco-1" {
		t.Fatalf("got %q, want vco-1", name)
	}
	mod, err := reg.GetByID(ctx, 9)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if mod.Name == nil || *mod.Name != "vco-1" {
		t.Fatalf("registry name not mirrored: %+v", mod)
	}
}

func TestGetNameBusyThenReady(t *testing.T) {
	orig := pullBackoff
	pullBackoff = []time.Duration{5 * time.Millisecond}
	t.Cleanup(func() { pullBackoff = orig })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.Start(ctx)
	streams := stream.Start(ctx, 0x680, 4)
	cfg := Config{IndividualBase: 0x700, AdminWiresBase: 0x680, WirePoolSize: 4, CommandTimeout: 100 * time.Millisecond}
	reg.Register(ctx, 0xBBBB, 11)

	attempt := 0
	sender := &fakeSender{}
	sender.fn = func(fr canframe.Frame) error {
		wireID := uint16(cfg.AdminWiresBase) + uint16(fr.Data[2])
		slot, err := streams.Get(ctx, wireID)
		if err != nil {
			return err
		}
		attempt++
		if attempt == 1 {
			slot <- canframe.New(uint32(wireID), []byte{byte(StatusBusy)})
			return nil
		}
		payload := append([]byte{byte(StatusReady)}, 2, 2, 'h', 'i')
		slot <- canframe.New(uint32(wireID), payload)
		return nil
	}
	o := New(cfg, sender, reg, streams, &schema.Registry{})
	name, err := o.GetName(ctx, 11)
	if err != nil {
		t.Fatalf("GetName: %v", err)
	}
	if name != "hi" {
		t.Fatalf("got %q, want hi", name)
	}
	if attempt != 2 {
		t.Fatalf("got %d attempts, want 2", attempt)
	}
}

func TestGetNameBusyExhaustsRetries(t *testing.T) {
	orig := pullBackoff
	pullBackoff = []time.Duration{2 * time.Millisecond, 2 * time.Millisecond, 2 * time.Millisecond}
	t.Cleanup(func() { pullBackoff = orig })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.Start(ctx)
	streams := stream.Start(ctx, 0x680, 4)
	cfg := Config{IndividualBase: 0x700, AdminWiresBase: 0x680, WirePoolSize: 4, CommandTimeout: 50 * time.Millisecond}
	reg.Register(ctx, 0xCCCC, 13)

	sender := &fakeSender{}
	sender.fn = func(fr canframe.Frame) error {
		wireID := uint16(cfg.AdminWiresBase) + uint16(fr.Data[2])
		slot, err := streams.Get(ctx, wireID)
		if err != nil {
			return err
		}
		slot <- canframe.New(uint32(wireID), []byte{byte(StatusBusy)})
		return nil
	}
	o := New(cfg, sender, reg, streams, &schema.Registry{})
	_, err := o.GetName(ctx, 13)
	if !errors.Is(err, mcerr.ErrBusy) {
		t.Fatalf("got %v, want ErrBusy", err)
	}
	if len(sender.sends) != len(pullBackoff) {
		t.Fatalf("got %d sends, want %d", len(sender.sends), len(pullBackoff))
	}
}

func TestGetNameNotSupported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.Start(ctx)
	streams := stream.Start(ctx, 0x680, 4)
	cfg := Config{IndividualBase: 0x700, AdminWiresBase: 0x680, WirePoolSize: 4, CommandTimeout: 50 * time.Millisecond}

	sender := &fakeSender{}
	sender.fn = func(fr canframe.Frame) error {
		wireID := uint16(cfg.AdminWiresBase) + uint16(fr.Data[2])
		slot, err := streams.Get(ctx, wireID)
		if err != nil {
			return err
		}
		slot <- canframe.New(uint32(wireID), []byte{byte(StatusNotSupported)})
		return nil
	}
	o := New(cfg, sender, reg, streams, &schema.Registry{})
	if _, err := o.GetName(ctx, 4); !errors.Is(err, mcerr.ErrProtocol) {
		t.Fatalf("got %v, want ErrProtocol", err)
	}
}

func TestSetConfigSingleChunk(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.Start(ctx)
	streams := stream.Start(ctx, 0x680, 4)
	cfg := Config{IndividualBase: 0x700, AdminWiresBase: 0x680, WirePoolSize: 4, CommandTimeout: 50 * time.Millisecond}
	reg.Register(ctx, 0x4444, 6)

	var wireID uint16
	sender := &fakeSender{}
	sender.fn = func(fr canframe.Frame) error {
		if fr.ID != uint32(cfg.IndividualBase) {
			return nil
		}
		wireID = uint16(cfg.AdminWiresBase) + uint16(fr.Data[2])
		slot, err := streams.Get(ctx, wireID)
		if err != nil {
			return err
		}
		slot <- canframe.Frame{ID: uint32(wireID), Remote: true}
		return nil
	}
	o := New(cfg, sender, reg, streams, &schema.Registry{})
	props := []propcodec.Property{{ID: 2, Length: 2, Data: []byte("hi")}}
	if err := o.SetConfig(ctx, 6, props); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	// num_fields(1) + id(1) + len(1) + 2 data bytes fits in a single 8-byte
	// chunk, so only the initial request and one data frame are sent.
	if len(sender.sends) != 2 {
		t.Fatalf("got %d sends, want 2", len(sender.sends))
	}
	last := sender.sends[1]
	if last.ID != uint32(wireID) || last.Remote {
		t.Fatalf("unexpected final chunk frame: %+v", last)
	}

	mod, err := reg.GetByID(ctx, 6)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if mod.Name == nil || *mod.Name != "hi" {
		t.Fatalf("name property not mirrored onto registry: %+v", mod)
	}
}

func TestSetConfigBusyRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.Start(ctx)
	streams := stream.Start(ctx, 0x680, 4)
	cfg := Config{IndividualBase: 0x700, AdminWiresBase: 0x680, WirePoolSize: 4, CommandTimeout: 50 * time.Millisecond}

	sender := &fakeSender{}
	sender.fn = func(fr canframe.Frame) error {
		if fr.ID != uint32(cfg.IndividualBase) {
			return nil
		}
		wireID := uint16(cfg.AdminWiresBase) + uint16(fr.Data[2])
		slot, err := streams.Get(ctx, wireID)
		if err != nil {
			return err
		}
		slot <- canframe.New(uint32(wireID), []byte{byte(StatusBusy)})
		return nil
	}
	o := New(cfg, sender, reg, streams, &schema.Registry{})
	err := o.SetConfig(ctx, 6, []propcodec.Property{{ID: 2, Length: 1, Data: []byte{1}}})
	if !errors.Is(err, mcerr.ErrBusy) {
		t.Fatalf("got %v, want ErrBusy", err)
	}
}

func TestSetConfigUnexpectedFrameIsProtocolError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := registry.Start(ctx)
	streams := stream.Start(ctx, 0x680, 4)
	cfg := Config{IndividualBase: 0x700, AdminWiresBase: 0x680, WirePoolSize: 4, CommandTimeout: 50 * time.Millisecond}

	sender := &fakeSender{}
	sender.fn = func(fr canframe.Frame) error {
		if fr.ID != uint32(cfg.IndividualBase) {
			return nil
		}
		wireID := uint16(cfg.AdminWiresBase) + uint16(fr.Data[2])
		slot, err := streams.Get(ctx, wireID)
		if err != nil {
			return err
		}
		slot <- canframe.New(uint32(wireID), nil)
		return nil
	}
	o := New(cfg, sender, reg, streams, &schema.Registry{})
	err := o.SetConfig(ctx, 6, []propcodec.Property{{ID: 2, Length: 1, Data: []byte{1}}})
	if !errors.Is(err, mcerr.ErrProtocol) {
		t.Fatalf("got %v, want ErrProtocol", err)
	}
}
