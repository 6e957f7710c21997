package statsevent

import (
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Builder assembles one stats event field by field.
// Params: created per event with NewBuilder.
// Returns: builder that is not safe for concurrent use and must not be reused after Build.
type Builder struct {
	atomID      int32
	timestampNs int64

	body            []byte
	field           []byte
	open            bool
	numFields       int
	atomAnnotations []byte

	usePool bool
}

// NewBuilder creates an empty event builder.
// Params: none.
// Returns: builder instance.
func NewBuilder() *Builder {
	return &Builder{}
}

// SetAtomID sets event atom id.
// Params: id atom identifier.
// Returns: builder for chaining.
func (b *Builder) SetAtomID(id int32) *Builder {
	b.atomID = id
	return b
}

// SetTimestamp sets the wall-clock event time, stored as Unix nanoseconds.
// Params: at event time; zero keeps timestamp unset.
// Returns: builder for chaining.
func (b *Builder) SetTimestamp(at time.Time) *Builder {
	if at.IsZero() {
		b.timestampNs = 0
		return b
	}
	b.timestampNs = at.UnixNano()
	return b
}

// UsePooledBuffer makes Build take its output buffer from a shared pool.
// Params: none.
// Returns: builder for chaining.
func (b *Builder) UsePooledBuffer() *Builder {
	b.usePool = true
	return b
}

// WriteBool appends a boolean field.
func (b *Builder) WriteBool(value bool) *Builder {
	b.beginField(TypeBool)
	b.field = protowire.AppendTag(b.field, fieldBool, protowire.VarintType)
	b.field = protowire.AppendVarint(b.field, protowire.EncodeBool(value))
	return b
}

// WriteInt appends a 32-bit integer field.
func (b *Builder) WriteInt(value int32) *Builder {
	b.beginField(TypeInt)
	b.field = protowire.AppendTag(b.field, fieldInt, protowire.VarintType)
	b.field = protowire.AppendVarint(b.field, protowire.EncodeZigZag(int64(value)))
	return b
}

// WriteLong appends a 64-bit integer field.
func (b *Builder) WriteLong(value int64) *Builder {
	b.beginField(TypeLong)
	b.field = protowire.AppendTag(b.field, fieldLong, protowire.VarintType)
	b.field = protowire.AppendVarint(b.field, protowire.EncodeZigZag(value))
	return b
}

// WriteFloat appends a 32-bit float field.
func (b *Builder) WriteFloat(value float32) *Builder {
	b.beginField(TypeFloat)
	b.field = protowire.AppendTag(b.field, fieldFloat, protowire.Fixed32Type)
	b.field = protowire.AppendFixed32(b.field, math.Float32bits(value))
	return b
}

// WriteString appends a text field.
func (b *Builder) WriteString(value string) *Builder {
	b.beginField(TypeString)
	b.field = protowire.AppendTag(b.field, fieldString, protowire.BytesType)
	b.field = protowire.AppendString(b.field, value)
	return b
}

// WriteBytes appends a raw byte-sequence field.
func (b *Builder) WriteBytes(value []byte) *Builder {
	b.beginField(TypeBytes)
	b.field = protowire.AppendTag(b.field, fieldBytes, protowire.BytesType)
	b.field = protowire.AppendBytes(b.field, value)
	return b
}

// WriteStringArray appends a text-array field. An empty array still produces one field.
func (b *Builder) WriteStringArray(values []string) *Builder {
	b.beginField(TypeStringArray)
	for _, value := range values {
		b.field = protowire.AppendTag(b.field, fieldStrings, protowire.BytesType)
		b.field = protowire.AppendString(b.field, value)
	}
	return b
}

// AddBoolAnnotation attaches a boolean annotation to the last written field,
// or to the atom itself when no field was written yet.
// Params: id annotation id; value annotation payload.
// Returns: builder for chaining.
func (b *Builder) AddBoolAnnotation(id int32, value bool) *Builder {
	encoded := appendAnnotation(nil, id, value)
	if !b.open {
		b.atomAnnotations = protowire.AppendTag(b.atomAnnotations, eventAnnotation, protowire.BytesType)
		b.atomAnnotations = protowire.AppendBytes(b.atomAnnotations, encoded)
		return b
	}
	b.field = protowire.AppendTag(b.field, fieldAnnotation, protowire.BytesType)
	b.field = protowire.AppendBytes(b.field, encoded)
	return b
}

// Build finalizes the event.
// Params: none.
// Returns: encoded event; release it after commit when UsePooledBuffer was set.
func (b *Builder) Build() *Event {
	b.closeField()

	var (
		out    []byte
		pooled *[]byte
	)
	if b.usePool {
		pooled = bufferPool.Get().(*[]byte)
		out = (*pooled)[:0]
	} else {
		out = make([]byte, 0, len(b.body)+len(b.atomAnnotations)+16)
	}

	out = protowire.AppendTag(out, eventAtomID, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(uint32(b.atomID)))
	if b.timestampNs > 0 {
		out = protowire.AppendTag(out, eventTimestamp, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(b.timestampNs))
	}
	out = append(out, b.body...)
	out = append(out, b.atomAnnotations...)

	if pooled != nil {
		*pooled = out
	}

	return &Event{
		atomID:    b.atomID,
		numFields: b.numFields,
		data:      out,
		pooled:    pooled,
	}
}

// beginField closes the previous field and opens a new one of the given type.
func (b *Builder) beginField(kind FieldType) {
	b.closeField()
	b.open = true
	b.field = b.field[:0]
	b.field = protowire.AppendTag(b.field, fieldType, protowire.VarintType)
	b.field = protowire.AppendVarint(b.field, uint64(kind))
}

func (b *Builder) closeField() {
	if !b.open {
		return
	}
	b.body = protowire.AppendTag(b.body, eventField, protowire.BytesType)
	b.body = protowire.AppendBytes(b.body, b.field)
	b.numFields++
	b.open = false
}

func appendAnnotation(dst []byte, id int32, value bool) []byte {
	dst = protowire.AppendTag(dst, annotationID, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(uint32(id)))
	dst = protowire.AppendTag(dst, annotationValue, protowire.VarintType)
	dst = protowire.AppendVarint(dst, protowire.EncodeBool(value))
	return dst
}
