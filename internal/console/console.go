// Package console is the operator-facing TCP console: a line-oriented
// text protocol for inspecting and driving
// the module registry without a physical bus tool. Its accept loop is
// following internal/server.Server.Serve/acceptOnce, but
// each connection is driven by a bufio.Scanner reading newline-terminated
// commands instead of binary cannelloni framing.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/naokiiwakami/mission-control/internal/canframe"
	"github.com/naokiiwakami/mission-control/internal/logging"
	"github.com/naokiiwakami/mission-control/internal/mcerr"
	"github.com/naokiiwakami/mission-control/internal/metrics"
	"github.com/naokiiwakami/mission-control/internal/modconfig"
	"github.com/naokiiwakami/mission-control/internal/orchestrator"
	"github.com/naokiiwakami/mission-control/internal/propcodec"
	"github.com/naokiiwakami/mission-control/internal/registry"
	"github.com/naokiiwakami/mission-control/internal/schema"
)

// ErrListen and ErrAccept mirror the server error taxonomy used elsewhere,
// wrapped for metrics labeling.
var (
	ErrListen = errors.New("console: listen failed")
	ErrAccept = errors.New("console: accept failed")
)

// Console is the operator console server.
type Console struct {
	addr   string
	orch   *orchestrator.Orchestrator
	reg    *registry.Registry
	schema *schema.Registry

	mu          sync.Mutex
	listener    net.Listener
	wg          sync.WaitGroup
	activeConns int32
	readyOnce   sync.Once
	readyCh     chan struct{}
}

// New builds a Console bound to its collaborators. addr is the TCP listen
// address, e.g. ":7878".
func New(addr string, orch *orchestrator.Orchestrator, reg *registry.Registry, sch *schema.Registry) *Console {
	return &Console{addr: addr, orch: orch, reg: reg, schema: sch, readyCh: make(chan struct{})}
}

// Ready closes once the listener is bound, mirroring server.Server.Ready()
// elsewhere in this codebase.
func (c *Console) Ready() <-chan struct{} { return c.readyCh }

// Addr returns the actual bound listen address, valid after Serve starts
// listening.
func (c *Console) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return c.addr
	}
	return c.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled.
func (c *Console) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListen, err)
	}
	c.mu.Lock()
	c.listener = ln
	c.mu.Unlock()
	logging.L().Info("console_listen", "addr", ln.Addr().String())
	c.readyOnce.Do(func() { close(c.readyCh) })

	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				c.wg.Wait()
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(200 * time.Millisecond)
				continue
			}
			return fmt.Errorf("%w: %v", ErrAccept, err)
		}
		metrics.SetConsoleConnections(int(atomic.AddInt32(&c.activeConns, 1)))
		c.wg.Add(1)
		go c.serveConn(ctx, conn)
	}
}

func (c *Console) serveConn(ctx context.Context, conn net.Conn) {
	defer c.wg.Done()
	defer conn.Close()
	defer metrics.SetConsoleConnections(int(atomic.AddInt32(&c.activeConns, -1)))
	remote := conn.RemoteAddr().String()
	logging.L().Info("console_connected", "remote", remote)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply := c.handle(ctx, line)
		if _, err := fmt.Fprintln(conn, reply); err != nil {
			logging.L().Warn("console_write_failed", "remote", remote, "error", err)
			return
		}
		if strings.EqualFold(tokenizeLine(line)[0], "quit") {
			return
		}
	}
	logging.L().Info("console_disconnected", "remote", remote)
}

// tokenizeLine splits a console line on whitespace, treating a
// double-quoted run as a single token with the surrounding quotes
// stripped, so "rename 3 \"Lead Guitar\"" yields ["rename", "3", "Lead Guitar"].
func tokenizeLine(line string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes, have := false, false
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			have = true
		case (r == ' ' || r == '\t') && !inQuotes:
			if have {
				tokens = append(tokens, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteRune(r)
			have = true
		}
	}
	if have {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func (c *Console) handle(ctx context.Context, line string) string {
	fields := tokenizeLine(line)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]
	metrics.IncConsoleCommand(cmd)

	switch cmd {
	case "hello", "hi":
		return "mission-control ready"

	case "list":
		return c.cmdList(ctx)

	case "ping":
		return c.cmdPing(ctx, args)

	case "get-name":
		return c.cmdGetName(ctx, args)

	case "rename":
		return c.cmdRename(ctx, args)

	case "get-config":
		return c.cmdGetConfig(ctx, args)

	case "set-property":
		return c.cmdSetProperty(ctx, args)

	case "cancel-uid":
		return c.cmdCancelUID(ctx, args)

	case "pretend-sign-in":
		return c.cmdPretendSignIn(ctx, args)

	case "pretend-notify-id":
		return c.cmdPretendNotifyID(ctx, args)

	case "quit":
		return "bye"

	default:
		return mcerr.Render(fmt.Errorf("%w: %q", mcerr.ErrOpcodeUnknown, cmd))
	}
}

func (c *Console) cmdList(ctx context.Context) string {
	modules := c.reg.List(ctx)
	if len(modules) == 0 {
		return "no modules registered"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %-10s %-6s %-20s %s", "id", "uid", "type", "type_name", "name")
	for _, m := range modules {
		name := "-"
		if m.Name != nil {
			name = *m.Name
		}
		typeName := "-"
		if m.ModuleTypeName != nil {
			typeName = *m.ModuleTypeName
		}
		moduleType := "-"
		if m.ModuleTypeID != nil {
			moduleType = strconv.Itoa(int(*m.ModuleTypeID))
		}
		fmt.Fprintf(&b, "\n%-4d 0x%-8X %-6s %-20s %s", m.ID, m.UID, moduleType, typeName, name)
	}
	return b.String()
}

func (c *Console) cmdPing(ctx context.Context, args []string) string {
	if len(args) < 1 {
		return "usage: ping <id> [visual]"
	}
	id, err := parseU8(args[0])
	if err != nil {
		return mcerr.Render(err)
	}
	visual := len(args) > 1 && strings.EqualFold(args[1], "visual")
	if err := c.orch.Ping(ctx, id, visual); err != nil {
		return mcerr.Render(err)
	}
	return fmt.Sprintf("pong from %d", id)
}

func (c *Console) cmdGetName(ctx context.Context, args []string) string {
	if len(args) < 1 {
		return "usage: get-name <id>"
	}
	id, err := parseU8(args[0])
	if err != nil {
		return mcerr.Render(err)
	}
	name, err := c.orch.GetName(ctx, id)
	if err != nil {
		return mcerr.Render(err)
	}
	return name
}

func (c *Console) cmdRename(ctx context.Context, args []string) string {
	if len(args) < 2 {
		return "usage: rename <id> <name>"
	}
	id, err := parseU8(args[0])
	if err != nil {
		return mcerr.Render(err)
	}
	name := strings.Join(args[1:], " ")
	common := c.schema.Common()
	def, _ := common.PropertyByName("name")
	data, err := schema.ParseValue(def, name)
	if err != nil {
		return mcerr.Render(err)
	}
	props := []propcodec.Property{{ID: 2, Length: uint8(len(data)), Data: data}}
	if err := c.orch.SetConfig(ctx, id, props); err != nil {
		return mcerr.Render(err)
	}
	return "renamed"
}

func (c *Console) cmdGetConfig(ctx context.Context, args []string) string {
	if len(args) < 1 {
		return "usage: get-config <id>"
	}
	id, err := parseU8(args[0])
	if err != nil {
		return mcerr.Render(err)
	}
	cfg, err := c.orch.GetConfig(ctx, id)
	if err != nil {
		return mcerr.Render(err)
	}
	return renderConfig(cfg)
}

func renderConfig(cfg *modconfig.Configuration) string {
	lines, err := cfg.Render()
	if err != nil {
		return mcerr.Render(err)
	}
	if len(lines) == 0 {
		return "(empty configuration)"
	}
	return strings.Join(lines, "\n")
}

func (c *Console) cmdSetProperty(ctx context.Context, args []string) string {
	if len(args) < 3 {
		return "usage: set-property <id> <prop-name> <value>"
	}
	id, err := parseU8(args[0])
	if err != nil {
		return mcerr.Render(err)
	}
	propName := args[1]
	value := strings.Join(args[2:], " ")

	cfg, err := c.orch.GetConfig(ctx, id)
	if err != nil {
		return mcerr.Render(err)
	}
	def, ok := cfg.Def.PropertyByName(propName)
	if !ok {
		return mcerr.Render(fmt.Errorf("%w: property %q", mcerr.ErrSchema, propName))
	}
	if def.ReadOnly {
		return mcerr.Render(fmt.Errorf("%w: property %q is read-only", mcerr.ErrInvalidValue, propName))
	}
	data, err := schema.ParseValue(def, value)
	if err != nil {
		return mcerr.Render(err)
	}
	props := []propcodec.Property{{ID: def.ID, Length: uint8(len(data)), Data: data}}
	if err := c.orch.SetConfig(ctx, id, props); err != nil {
		return mcerr.Render(err)
	}
	return "ok"
}

func (c *Console) cmdCancelUID(ctx context.Context, args []string) string {
	if len(args) < 1 {
		return "usage: cancel-uid <uid>"
	}
	uid, err := parseU32(args[0])
	if err != nil {
		return mcerr.Render(err)
	}
	c.reg.Deregister(ctx, uid)
	return "cancelled"
}

func (c *Console) cmdPretendSignIn(ctx context.Context, args []string) string {
	if len(args) < 1 {
		return "usage: pretend-sign-in <uid>"
	}
	uid, err := parseU32(args[0])
	if err != nil {
		return mcerr.Render(err)
	}
	fr := canframe.NewExtended(uid, []byte{orchestrator.AdminSignIn})
	c.orch.Inject(ctx, fr)
	return "injected sign-in"
}

func (c *Console) cmdPretendNotifyID(ctx context.Context, args []string) string {
	if len(args) < 2 {
		return "usage: pretend-notify-id <uid> <id>"
	}
	uid, err := parseU32(args[0])
	if err != nil {
		return mcerr.Render(err)
	}
	id, err := parseU8(args[1])
	if err != nil {
		return mcerr.Render(err)
	}
	fr := canframe.NewExtended(uid, []byte{orchestrator.AdminNotifyID, id})
	c.orch.Inject(ctx, fr)
	return "injected notify-id"
}

// parseU8 and parseU32 accept decimal or 0x-prefixed hex tokens, matching
// the numeric parsing idiom used elsewhere (strconv.ParseUint
// with base 0).
func parseU8(tok string) (uint8, error) {
	v, err := strconv.ParseUint(tok, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a valid id", mcerr.ErrInvalidValue, tok)
	}
	return uint8(v), nil
}

func parseU32(tok string) (uint32, error) {
	v, err := strconv.ParseUint(tok, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a valid uid", mcerr.ErrInvalidValue, tok)
	}
	return uint32(v), nil
}
