// Package mcerr defines the domain error taxonomy used across mission-control
// Components return these as sentinels, wrapped with %w so
// callers can classify failures with errors.Is/errors.As without string
// matching.
package mcerr

import "errors"

var (
	// ErrOpcodeUnknown marks bus traffic carrying an opcode the core does
	// not recognize, logged as a warning and dropped. The operator console
	// also returns it for a command name it does not recognize.
	ErrOpcodeUnknown = errors.New("opcode unknown")

	// ErrOpcodeMissing marks a frame too short to carry even the opcode byte.
	ErrOpcodeMissing = errors.New("opcode missing")

	// ErrBusy marks a stream-id collision or an exhausted admin-wire pool.
	ErrBusy = errors.New("stream conflict")

	// ErrTimeout marks an await that exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrProtocol marks malformed TLV, a truncated status byte, or a schema
	// mismatch encountered while decoding bus traffic.
	ErrProtocol = errors.New("protocol error")

	// ErrInvalidValue marks an operator-supplied value that fails to parse
	// against its schema type.
	ErrInvalidValue = errors.New("invalid value")

	// ErrModuleNotFound marks a registry lookup miss.
	ErrModuleNotFound = errors.New("module not found")

	// ErrNoSuchStream marks a stream-manager lookup against an unmapped id.
	ErrNoSuchStream = errors.New("no such stream")

	// ErrStaleStream marks a Get against a stream whose slot was already
	// taken without a following Continue.
	ErrStaleStream = errors.New("stale stream")

	// ErrSchema marks an unknown module type or a missing property
	// definition in the schema registry.
	ErrSchema = errors.New("schema error")

	// ErrRuntime marks an unclassified internal fault.
	ErrRuntime = errors.New("runtime error")
)

// Render formats err the way the operator console does: "Error: <kind>: msg"
// for everything except ErrTimeout, which renders bare as "timeout".
func Render(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrTimeout) {
		return "timeout"
	}
	return "Error: " + err.Error()
}
