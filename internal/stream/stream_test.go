package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/naokiiwakami/mission-control/internal/canframe"
	"github.com/naokiiwakami/mission-control/internal/mcerr"
)

func TestStartStreamBusyOnCollision(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := Start(ctx, 0x680, 4)

	if err := m.StartStream(ctx, 0x701, NewReplySlot()); err != nil {
		t.Fatalf("first StartStream: %v", err)
	}
	err := m.StartStream(ctx, 0x701, NewReplySlot())
	if !errors.Is(err, mcerr.ErrBusy) {
		t.Fatalf("second StartStream on same id: got %v, want ErrBusy", err)
	}
}

func TestTerminateThenStartStreamSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := Start(ctx, 0x680, 4)

	if err := m.StartStream(ctx, 0x701, NewReplySlot()); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := m.Terminate(ctx, 0x701); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if err := m.StartStream(ctx, 0x701, NewReplySlot()); err != nil {
		t.Fatalf("StartStream after Terminate: %v", err)
	}
}

func TestGetThenContinueRearms(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := Start(ctx, 0x680, 4)

	first := NewReplySlot()
	if err := m.StartStream(ctx, 0x701, first); err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	slot, err := m.Get(ctx, 0x701)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if slot != first {
		t.Fatalf("Get returned a different slot than installed")
	}

	// A second Get before Continue reinstalls a slot must report stale, not
	// panic or block.
	if _, err := m.Get(ctx, 0x701); !errors.Is(err, mcerr.ErrStaleStream) {
		t.Fatalf("second Get before Continue: got %v, want ErrStaleStream", err)
	}

	second := NewReplySlot()
	if err := m.Continue(ctx, 0x701, second); err != nil {
		t.Fatalf("Continue: %v", err)
	}
	got, err := m.Get(ctx, 0x701)
	if err != nil {
		t.Fatalf("Get after Continue: %v", err)
	}
	if got != second {
		t.Fatalf("Get after Continue returned the wrong slot")
	}
}

func TestCreateWirePicksSmallestFreeID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := Start(ctx, 0x680, 3)

	w1, err := m.CreateWire(ctx, NewReplySlot())
	if err != nil {
		t.Fatalf("CreateWire: %v", err)
	}
	w2, err := m.CreateWire(ctx, NewReplySlot())
	if err != nil {
		t.Fatalf("CreateWire: %v", err)
	}
	if w1 != 0x680 || w2 != 0x681 {
		t.Fatalf("got wires 0x%X, 0x%X, want 0x680, 0x681", w1, w2)
	}

	if err := m.Terminate(ctx, w1); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	w3, err := m.CreateWire(ctx, NewReplySlot())
	if err != nil {
		t.Fatalf("CreateWire after freeing w1: %v", err)
	}
	if w3 != w1 {
		t.Fatalf("freed wire not reused: got 0x%X, want 0x%X", w3, w1)
	}

	if _, err := m.CreateWire(ctx, NewReplySlot()); err != nil {
		t.Fatalf("CreateWire filling the pool: %v", err)
	}
	if _, err := m.CreateWire(ctx, NewReplySlot()); !errors.Is(err, mcerr.ErrBusy) {
		t.Fatalf("CreateWire on an exhausted pool: got %v, want ErrBusy", err)
	}
}

func TestSlotDeliversFrame(t *testing.T) {
	slot := NewReplySlot()
	fr := canframe.New(0x701, []byte{1, 2, 3})
	slot <- fr
	got := <-slot
	if got.ID != fr.ID || got.Length != fr.Length {
		t.Fatalf("slot round-trip mismatch: got %+v, want %+v", got, fr)
	}
}
