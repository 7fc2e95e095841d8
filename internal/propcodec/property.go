// Package propcodec is the property codec: a length-prefixed
// TLV stream carrying typed property chunks across the 8-byte CAN payload
// boundary. Its incremental Decoder and windowed Encoder are adapted from
// internal/cnl.Codec, which streams a sequence of values
// across arbitrarily-sized reader/writer windows the same way (Decode /
// DecodeN / EncodeTo); here the wire grammar is a TLV chunk
// instead of cannelloni's fixed CANID+len+payload record.
package propcodec

// Property is one TLV field: a selector, its length, and its raw bytes.
// Invariant: len(Data) == int(Length).
type Property struct {
	ID     uint8
	Length uint8
	Data   []byte
}
