// Package canframe defines the wire-level CAN frame type shared by every
// component between the driver boundary and the orchestrator.
package canframe

import "fmt"

// Frame is a single CAN frame. Bytes beyond Length are indeterminate.
type Frame struct {
	ID       uint32
	Extended bool
	Remote   bool
	Length   uint8
	Data     [8]byte
}

// New builds a standard (11-bit) data frame from a byte slice, truncating or
// zero-padding Data to 8 bytes as needed. len(data) must be <= 8.
func New(id uint32, data []byte) Frame {
	var f Frame
	f.ID = id
	f.Length = uint8(len(data))
	copy(f.Data[:], data)
	return f
}

// NewExtended builds a 29-bit extended data frame.
func NewExtended(id uint32, data []byte) Frame {
	f := New(id, data)
	f.Extended = true
	return f
}

// Payload returns the meaningful prefix of Data.
func (f Frame) Payload() []byte {
	n := f.Length
	if n > 8 {
		n = 8
	}
	return f.Data[:n]
}

func (f Frame) String() string {
	kind := "std"
	if f.Extended {
		kind = "ext"
	}
	if f.Remote {
		return fmt.Sprintf("CanFrame{%s id=0x%X RTR}", kind, f.ID)
	}
	return fmt.Sprintf("CanFrame{%s id=0x%X data=% X}", kind, f.ID, f.Payload())
}

// MaxStandardID is the largest 11-bit standard CAN identifier.
const MaxStandardID = 0x7FF

// MaxExtendedID is the largest 29-bit extended CAN identifier.
const MaxExtendedID = 0x1FFFFFFF

// Valid reports whether the frame's ID fits its declared width and its
// Length is within the classic CAN payload bound.
func (f Frame) Valid() bool {
	if f.Length > 8 {
		return false
	}
	if f.Extended {
		return f.ID <= MaxExtendedID
	}
	return f.ID <= MaxStandardID
}
