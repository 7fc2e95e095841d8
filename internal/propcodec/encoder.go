package propcodec

// Encoder streams a []Property into fixed-size byte windows (one CAN frame
// payload at a time). Concatenating all bytes written by successive Flush
// calls, regardless of how the caller partitions the windows, equals the
// canonical serialization: [num_fields][id][len][bytes]... per property
// flushed across frames as space allows.
type Encoder struct {
	properties []Property

	numFieldsEmitted bool
	propIndex        int
	idEmitted        bool
	lenEmitted       bool
	valueOffset      int
	done             bool
}

// NewEncoder prepares an encoder for properties. The implicit num_fields
// byte is always emitted first, even for a single-field chunk — get-name
// replies are decoded with NewSingleFieldDecoder, which never reads it.
func NewEncoder(properties []Property) *Encoder {
	return &Encoder{properties: properties}
}

// IsDone reports whether the last byte of the last property's value has
// been written.
func (e *Encoder) IsDone() bool { return e.done }

// Flush writes as many bytes as fit in out, returning the count written.
func (e *Encoder) Flush(out []byte) int {
	n := 0
	for n < len(out) {
		if e.done {
			break
		}
		if !e.numFieldsEmitted {
			out[n] = byte(len(e.properties))
			n++
			e.numFieldsEmitted = true
			if len(e.properties) == 0 {
				e.done = true
			}
			continue
		}
		if e.propIndex >= len(e.properties) {
			e.done = true
			break
		}
		p := e.properties[e.propIndex]
		if !e.idEmitted {
			out[n] = p.ID
			n++
			e.idEmitted = true
			continue
		}
		if !e.lenEmitted {
			out[n] = p.Length
			n++
			e.lenEmitted = true
			if p.Length == 0 {
				e.advanceProperty()
			}
			continue
		}
		out[n] = p.Data[e.valueOffset]
		n++
		e.valueOffset++
		if e.valueOffset == int(p.Length) {
			e.advanceProperty()
		}
	}
	return n
}

func (e *Encoder) advanceProperty() {
	e.propIndex++
	e.idEmitted = false
	e.lenEmitted = false
	e.valueOffset = 0
	if e.propIndex >= len(e.properties) {
		e.done = true
	}
}

// Encode is a convenience wrapper returning the full canonical serialization
// of properties in one call, ignoring frame-size partitioning.
func Encode(properties []Property) []byte {
	enc := NewEncoder(properties)
	var out []byte
	buf := make([]byte, 8)
	for !enc.IsDone() {
		n := enc.Flush(buf)
		if n == 0 {
			break
		}
		out = append(out, buf[:n]...)
	}
	return out
}
