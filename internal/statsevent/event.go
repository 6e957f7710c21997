// Package statsevent builds and decodes the binary stats event committed to sinks.
//
// An event is encoded in protobuf wire format without a schema compiler:
//
//	1: atom id (varint)
//	2: wall-clock timestamp, Unix nanoseconds (varint)
//	3: field (bytes, repeated, in write order)
//	     1: field type (varint)
//	     2..8: one value, numbered by type
//	     9: annotation (bytes, repeated) {1: id varint, 2: bool varint}
//	4: atom-level annotation (bytes, repeated)
package statsevent

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	defaultBufferSize = 512
	maxPooledBuffer   = 64 << 10
)

const (
	eventAtomID     protowire.Number = 1
	eventTimestamp  protowire.Number = 2
	eventField      protowire.Number = 3
	eventAnnotation protowire.Number = 4
)

const (
	fieldType       protowire.Number = 1
	fieldBool       protowire.Number = 2
	fieldInt        protowire.Number = 3
	fieldLong       protowire.Number = 4
	fieldFloat      protowire.Number = 5
	fieldString     protowire.Number = 6
	fieldBytes      protowire.Number = 7
	fieldStrings    protowire.Number = 8
	fieldAnnotation protowire.Number = 9
)

const (
	annotationID    protowire.Number = 1
	annotationValue protowire.Number = 2
)

// FieldType identifies the payload type of one encoded field.
type FieldType uint8

// Field types, numbered after the statsd socket type bytes.
const (
	TypeInt         FieldType = 0x00
	TypeLong        FieldType = 0x01
	TypeString      FieldType = 0x02
	TypeStringArray FieldType = 0x03
	TypeFloat       FieldType = 0x04
	TypeBool        FieldType = 0x05
	TypeBytes       FieldType = 0x06
)

// String returns field type name.
// Params: none.
// Returns: type name for logs.
func (t FieldType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeLong:
		return "long"
	case TypeString:
		return "string"
	case TypeStringArray:
		return "string_array"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeBytes:
		return "bytes"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, defaultBufferSize)
		return &buf
	},
}

// Event is one finalized binary stats event.
// Params: built by Builder.Build.
// Returns: immutable encoded payload; pooled events must be released after commit.
type Event struct {
	atomID    int32
	numFields int
	data      []byte
	pooled    *[]byte
}

// AtomID returns the atom id the event was built for.
// Params: none.
// Returns: atom id.
func (e *Event) AtomID() int32 {
	return e.atomID
}

// NumFields returns number of encoded fields.
// Params: none.
// Returns: field count.
func (e *Event) NumFields() int {
	return e.numFields
}

// Bytes returns encoded payload. The slice is only valid until Release.
// Params: none.
// Returns: encoded event bytes.
func (e *Event) Bytes() []byte {
	return e.data
}

// Clone copies the event into a non-pooled buffer that may outlive Release.
// Params: none.
// Returns: independent event copy.
func (e *Event) Clone() *Event {
	data := make([]byte, len(e.data))
	copy(data, e.data)
	return &Event{atomID: e.atomID, numFields: e.numFields, data: data}
}

// Release returns pooled buffer for reuse. Safe to call more than once.
// Params: none.
// Returns: none.
func (e *Event) Release() {
	if e.pooled == nil {
		return
	}
	buf := e.pooled
	e.pooled = nil
	e.data = nil
	if cap(*buf) > maxPooledBuffer {
		return
	}
	*buf = (*buf)[:0]
	bufferPool.Put(buf)
}

// FromBytes wraps an already encoded payload, e.g. one read back from a spool.
// Params: data encoded event bytes.
// Returns: event view or decode error when header is malformed.
func FromBytes(data []byte) (*Event, error) {
	decoded, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return &Event{atomID: decoded.AtomID, numFields: len(decoded.Fields), data: data}, nil
}
