package propcodec

import (
	"fmt"

	"github.com/naokiiwakami/mission-control/internal/mcerr"
)

type decoderState uint8

const (
	stateNumFields decoderState = iota
	stateFieldID
	stateFieldLen
	stateFieldBody
	stateDone
)

// Decoder incrementally reconstructs a chunk from a
// sequence of frame payloads. Frame boundaries are transparent: a field's
// bytes may span two or more Feed calls. Feed refuses further bytes once
// Done() is true.
type Decoder struct {
	state      decoderState
	numFields  int
	fieldsSeen int
	curID      uint8
	curLen     uint8
	curBuf     []byte
	properties []Property
}

// NewDecoder returns a decoder expecting a leading num_fields byte, for the
// multi-field get-config path.
func NewDecoder() *Decoder {
	return &Decoder{state: stateNumFields}
}

// NewSingleFieldDecoder seeds num_fields=1 implicitly, used for get-name
// (a single-field variant is seeded with num_fields=1).
func NewSingleFieldDecoder() *Decoder {
	return &Decoder{state: stateFieldID, numFields: 1}
}

// Done reports whether exactly num_fields fields have been parsed.
func (d *Decoder) Done() bool { return d.state == stateDone }

// Properties returns the fields parsed so far (valid once Done).
func (d *Decoder) Properties() []Property { return d.properties }

// Feed consumes one frame's payload bytes, advancing the state machine.
// Returns done=true once the chunk is complete.
func (d *Decoder) Feed(data []byte) (done bool, err error) {
	if d.state == stateDone {
		return false, fmt.Errorf("%w: decoder fed bytes after completion", mcerr.ErrProtocol)
	}
	for i := 0; i < len(data); i++ {
		b := data[i]
		switch d.state {
		case stateNumFields:
			d.numFields = int(b)
			if d.numFields == 0 {
				d.state = stateDone
				return true, nil
			}
			d.state = stateFieldID
		case stateFieldID:
			d.curID = b
			d.state = stateFieldLen
		case stateFieldLen:
			d.curLen = b
			d.curBuf = make([]byte, 0, d.curLen)
			if d.curLen == 0 {
				d.finishField()
			} else {
				d.state = stateFieldBody
			}
		case stateFieldBody:
			d.curBuf = append(d.curBuf, b)
			if len(d.curBuf) > int(d.curLen) {
				return false, fmt.Errorf("%w: field overflow for property id %d", mcerr.ErrProtocol, d.curID)
			}
			if len(d.curBuf) == int(d.curLen) {
				d.finishField()
			}
		}
		if d.state == stateDone {
			if i != len(data)-1 {
				return false, fmt.Errorf("%w: trailing bytes after chunk completion", mcerr.ErrProtocol)
			}
			return true, nil
		}
	}
	return false, nil
}

func (d *Decoder) finishField() {
	d.properties = append(d.properties, Property{ID: d.curID, Length: d.curLen, Data: d.curBuf})
	d.fieldsSeen++
	d.curBuf = nil
	if d.fieldsSeen == d.numFields {
		d.state = stateDone
		return
	}
	d.state = stateFieldID
}
