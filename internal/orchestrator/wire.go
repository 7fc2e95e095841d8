// Package orchestrator is the mission-control orchestrator: it
// consumes inbound frames, runs per-command protocol state machines, and
// coordinates the schema registry, property codec, module registry, and
// stream manager. Its dispatch loop follows the same shape as
// internal/server.Server.Serve/acceptOnce: one loop pulling work off a
// channel/listener and fanning it out per inbound item. Its per-command
// timeout+cancellation idiom follows internal/cnl.Handshake, which pairs a
// goroutine producing a result on an error channel with a select against
// ctx.Done() — the oneshot-rendezvous-with-deadline shape every command
// below repeats.
package orchestrator

// Admin opcodes: data[0] in extended frames, CAN-ID = module UID.
const (
	AdminSignIn       = 0x01
	AdminNotifyID     = 0x02
	AdminReqUIDCancel = 0x03
)

// Mission-control opcodes: data[0] in standard frames sent from the
// individual base CAN-ID (e.g. 0x700).
const (
	MCSignIn          = 0x01
	MCAssignModuleID  = 0x02
	MCPing            = 0x03
	MCRequestName     = 0x04
	MCRequestConfig   = 0x05
	MCContinueStream  = 0x06
	MCModifyConfig    = 0x08
)

// Individual-module reply opcodes: data[0] in standard frames from
// individualBase+id.
const (
	IMReplyPing    = 0x01
	IMIDAssignAck  = 0x02
)

// StreamStatus is the first byte of a wire's first reply after a request.
type StreamStatus uint8

const (
	StatusReady         StreamStatus = 0
	StatusBusy          StreamStatus = 1
	StatusNotSupported  StreamStatus = 2
	StatusNoSuchStream  StreamStatus = 3
)
