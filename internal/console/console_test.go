package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/naokiiwakami/mission-control/internal/canframe"
	"github.com/naokiiwakami/mission-control/internal/mcerr"
	"github.com/naokiiwakami/mission-control/internal/orchestrator"
	"github.com/naokiiwakami/mission-control/internal/registry"
	"github.com/naokiiwakami/mission-control/internal/schema"
	"github.com/naokiiwakami/mission-control/internal/stream"
)

type nopSender struct{}

func (nopSender) Send(canframe.Frame) error { return nil }

// renameSender completes the set-config push handshake: it solicits the
// first chunk with an RTR frame on the announced wire, and solicits the next
// chunk after every data frame it sees on that wire, matching a module that
// accepts a multi-chunk property update.
type renameSender struct {
	individualBase uint32
	adminWiresBase uint32
	streams        *stream.Manager
	ctx            context.Context
	wireID         uint16
}

func (s *renameSender) Send(fr canframe.Frame) error {
	if fr.ID == s.individualBase {
		s.wireID = uint16(s.adminWiresBase) + uint16(fr.Data[2])
	} else if fr.ID != uint32(s.wireID) || fr.Remote {
		return nil
	}
	go s.solicit(s.wireID)
	return nil
}

// solicit waits until the wire's reply slot is armed and delivers one RTR
// frame on it; it gives up once the wire has been torn down.
func (s *renameSender) solicit(wireID uint16) {
	for {
		slot, err := s.streams.Get(s.ctx, wireID)
		if err == nil {
			slot <- canframe.Frame{ID: uint32(wireID), Remote: true}
			return
		}
		if !errors.Is(err, mcerr.ErrStaleStream) {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestConsole(ctx context.Context, t *testing.T, addr string) *Console {
	t.Helper()
	reg := registry.Start(ctx)
	streams := stream.Start(ctx, 0x680, 4)
	sch, err := schema.Load("../../schema")
	if err != nil {
		t.Fatalf("schema.Load: %v", err)
	}
	cfg := orchestrator.Config{IndividualBase: 0x700, AdminWiresBase: 0x680, WirePoolSize: 4, CommandTimeout: 50 * time.Millisecond}
	orch := orchestrator.New(cfg, nopSender{}, reg, streams, sch)
	return New(addr, orch, reg, sch)
}

func newRenameTestConsole(ctx context.Context, t *testing.T) *Console {
	t.Helper()
	reg := registry.Start(ctx)
	streams := stream.Start(ctx, 0x680, 4)
	sch, err := schema.Load("../../schema")
	if err != nil {
		t.Fatalf("schema.Load: %v", err)
	}
	cfg := orchestrator.Config{IndividualBase: 0x700, AdminWiresBase: 0x680, WirePoolSize: 4, CommandTimeout: 50 * time.Millisecond}
	sender := &renameSender{individualBase: uint32(cfg.IndividualBase), adminWiresBase: uint32(cfg.AdminWiresBase), streams: streams, ctx: ctx}
	orch := orchestrator.New(cfg, sender, reg, streams, sch)
	return New(":0", orch, reg, sch)
}

func TestParseU8AcceptsDecimalAndHex(t *testing.T) {
	for _, tc := range []struct {
		tok  string
		want uint8
	}{
		{"5", 5},
		{"0x1F", 0x1F},
		{"255", 255},
	} {
		got, err := parseU8(tc.tok)
		if err != nil {
			t.Fatalf("parseU8(%q): %v", tc.tok, err)
		}
		if got != tc.want {
			t.Fatalf("parseU8(%q) = %d, want %d", tc.tok, got, tc.want)
		}
	}
}

func TestParseU8RejectsGarbage(t *testing.T) {
	if _, err := parseU8("not-a-number"); err == nil {
		t.Fatalf("expected an error for a non-numeric token")
	}
}

func TestParseU32AcceptsHex(t *testing.T) {
	got, err := parseU32("0x1000")
	if err != nil {
		t.Fatalf("parseU32: %v", err)
	}
	if got != 0x1000 {
		t.Fatalf("got %d, want 4096", got)
	}
}

func TestHandleHello(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newTestConsole(ctx, t, ":0")
	if got := c.handle(ctx, "hello"); got != "mission-control ready" {
		t.Fatalf("got %q", got)
	}
	if got := c.handle(ctx, "hi"); got != "mission-control ready" {
		t.Fatalf("got %q", got)
	}
}

func TestHandleUnknownCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newTestConsole(ctx, t, ":0")
	got := c.handle(ctx, "frobnicate")
	if !strings.Contains(got, "opcode unknown") {
		t.Fatalf("got %q, want an opcode-unknown error", got)
	}
}

func TestHandleQuit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newTestConsole(ctx, t, ":0")
	if got := c.handle(ctx, "quit"); got != "bye" {
		t.Fatalf("got %q", got)
	}
}

func TestHandleListEmptyThenPopulated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newTestConsole(ctx, t, ":0")
	if got := c.handle(ctx, "list"); got != "no modules registered" {
		t.Fatalf("got %q", got)
	}

	if got := c.handle(ctx, "pretend-notify-id 0x1001 5"); got != "injected notify-id" {
		t.Fatalf("got %q", got)
	}
	got := c.handle(ctx, "list")
	if !strings.Contains(got, "0x1001") || !strings.Contains(got, "5") {
		t.Fatalf("list output missing registered module: %q", got)
	}
}

func TestHandleCancelUID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newTestConsole(ctx, t, ":0")
	c.handle(ctx, "pretend-notify-id 0x2002 9")
	if got := c.handle(ctx, "cancel-uid 0x2002"); got != "cancelled" {
		t.Fatalf("got %q", got)
	}
	if got := c.handle(ctx, "list"); got != "no modules registered" {
		t.Fatalf("module not removed: %q", got)
	}
}

func TestTokenizeLineStripsQuotes(t *testing.T) {
	for _, tc := range []struct {
		line string
		want []string
	}{
		{`rename 3 "Lead"`, []string{"rename", "3", "Lead"}},
		{`rename 3 "Lead Guitar"`, []string{"rename", "3", "Lead Guitar"}},
		{`rename 3 Lead Guitar`, []string{"rename", "3", "Lead", "Guitar"}},
		{`  ping   5  `, []string{"ping", "5"}},
	} {
		got := tokenizeLine(tc.line)
		if len(got) != len(tc.want) {
			t.Fatalf("tokenizeLine(%q) = %#v, want %#v", tc.line, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("tokenizeLine(%q) = %#v, want %#v", tc.line, got, tc.want)
			}
		}
	}
}

func TestHandleRenameWithQuotedName(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newRenameTestConsole(ctx, t)
	c.reg.Register(ctx, 0x3003, 7)

	got := c.handle(ctx, `rename 7 "Lead Guitar"`)
	if got != "renamed" {
		t.Fatalf("got %q", got)
	}
	mod, err := c.reg.GetByID(ctx, 7)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if mod.Name == nil || *mod.Name != "Lead Guitar" {
		t.Fatalf("name = %v, want unquoted \"Lead Guitar\"", mod.Name)
	}
}

func TestHandlePingUsage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newTestConsole(ctx, t, ":0")
	if got := c.handle(ctx, "ping"); got != "usage: ping <id> [visual]" {
		t.Fatalf("got %q", got)
	}
}

func TestServeOverTCP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newTestConsole(ctx, t, "127.0.0.1:0")

	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	select {
	case <-c.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("console never became ready")
	}

	conn, err := net.Dial("tcp", c.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	fmt.Fprintln(conn, "hello")
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if strings.TrimSpace(line) != "mission-control ready" {
		t.Fatalf("got %q", line)
	}

	fmt.Fprintln(conn, "quit")
	line, err = reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if strings.TrimSpace(line) != "bye" {
		t.Fatalf("got %q", line)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after cancellation")
	}
}
